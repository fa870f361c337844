package helper

import (
	"crypto/rand"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
)

const PostgresConnectionString = "host=localhost port=5432 user=postgres password=postgres dbname=postgres"

// GeneratePeerID creates a throwaway peer identity for tests.
func GeneratePeerID(t *testing.T) (crypto.PrivKey, crypto.PubKey, peer.ID) {
	assert := assert.New(t)
	private, public, err := crypto.GenerateEd25519Key(rand.Reader)
	assert.Nil(err)
	peerID, err := peer.IDFromPublicKey(public)
	assert.Nil(err)
	return private, public, peerID
}

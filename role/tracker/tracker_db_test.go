package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/helper"
	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newTestTracker(t *testing.T) (*Tracker, string) {
	assert := assert.New(t)

	db, err := gorm.Open(postgres.Open(helper.PostgresConnectionString), &gorm.Config{})
	assert.Nil(err)
	assert.NotNil(db)

	trk, err := NewTracker(db, time.Hour, time.Hour)
	assert.Nil(err)

	return trk, "f0" + uuid.New().String()
}

func TestTracker_EnsureProviderIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	trk, providerID := newTestTracker(t)

	assert.NoError(trk.EnsureProvider(ctx, providerID))

	first, err := trk.Get(ctx, providerID)
	assert.NoError(err)
	assert.NotNil(first)

	assert.NoError(trk.EnsureProvider(ctx, providerID))

	second, err := trk.Get(ctx, providerID)
	assert.NoError(err)
	assert.Equal(first.ID, second.ID)
	assert.WithinDuration(first.NextURLDiscoveryAt, second.NextURLDiscoveryAt, time.Second)
}

func TestTracker_DiscoveryLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	trk, providerID := newTestTracker(t)

	prior, err := trk.BeginDiscovery(ctx, providerID)
	assert.NoError(err)
	assert.NotNil(prior)

	// mid-run providers are excluded from the due listing
	due, err := trk.DueForDiscovery(ctx, 10000)
	assert.NoError(err)
	for _, provider := range due {
		assert.NotEqual(providerID, provider.ProviderID)
	}

	workingURL := "http://1.2.3.4:8080/piece/baga6ea4seaqaaa"
	isConsistent, isReliable, err := trk.CompleteDiscovery(ctx, prior, DiscoveryOutcome{
		Code:       module.Success,
		WorkingURL: &workingURL,
		Tested:     10,
		Timeouts:   3,
	})
	assert.NoError(err)
	assert.True(isConsistent)
	assert.True(isReliable)

	updated, err := trk.Get(ctx, providerID)
	assert.NoError(err)
	assert.Equal(workingURL, *updated.LastWorkingURL)
	assert.Equal(string(module.Success), *updated.URLDiscoveryStatus)
	assert.True(updated.NextURLDiscoveryAt.After(time.Now()))
	assert.True(updated.IsConsistent)
	assert.True(updated.IsReliable)
}

func TestTracker_PeerIDCacheRoundtrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	trk, providerID := newTestTracker(t)

	assert.NoError(trk.EnsureProvider(ctx, providerID))

	_, _, peerID := helper.GeneratePeerID(t)
	assert.NoError(trk.StorePeerID(ctx, providerID, peerID.String()))

	cached, fetchedAt, err := trk.CachedPeerID(ctx, providerID)
	assert.NoError(err)
	assert.Equal(peerID.String(), cached)
	assert.WithinDuration(time.Now(), fetchedAt, time.Minute)
}

func TestTracker_BmsEligibilityGate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	trk, providerID := newTestTracker(t)

	// unreliable provider with no working url never shows up
	prior, err := trk.BeginDiscovery(ctx, providerID)
	assert.NoError(err)

	_, _, err = trk.CompleteDiscovery(ctx, prior, DiscoveryOutcome{
		Code:     module.FailedToGetWorkingUrl,
		Tested:   10,
		Timeouts: 10,
	})
	assert.NoError(err)

	due, err := trk.DueForBmsTest(ctx, 10000)
	assert.NoError(err)
	for _, provider := range due {
		assert.NotEqual(providerID, provider.ProviderID)
	}
}

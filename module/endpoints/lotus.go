package endpoints

import (
	"context"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/lotus/api"
	"github.com/filecoin-project/lotus/chain/types"
	"github.com/pkg/errors"
)

// LotusPeerIDSource resolves peer ids through a lotus gateway using
// StateMinerInfo.
type LotusPeerIDSource struct {
	lotusAPI api.Gateway
}

func NewLotusPeerIDSource(lotusAPI api.Gateway) *LotusPeerIDSource {
	return &LotusPeerIDSource{lotusAPI: lotusAPI}
}

func (s *LotusPeerIDSource) PeerID(ctx context.Context, provider string) (string, error) {
	providerAddr, err := address.NewFromString(provider)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse provider address %s", provider)
	}

	minerInfo, err := s.lotusAPI.StateMinerInfo(ctx, providerAddr, types.EmptyTSK)
	if err != nil {
		return "", errors.Wrapf(err, "failed to get miner info for %s", provider)
	}

	if minerInfo.PeerId == nil {
		return "", errors.Errorf("miner %s has no peer id", provider)
	}

	return minerInfo.PeerId.String(), nil
}

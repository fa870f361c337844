package endpoints

import (
	"context"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/rs/zerolog"
	log2 "github.com/rs/zerolog/log"
)

// PeerIDSource resolves a provider address to its network peer id.
type PeerIDSource interface {
	PeerID(ctx context.Context, provider string) (string, error)
}

// Directory maps a peer id to the multiaddresses it advertises.
// Implementations return ErrNoDirectoryData when the directory has no entry.
type Directory interface {
	Addresses(ctx context.Context, peerID string) ([]string, error)
}

// PeerCache stores previously resolved peer ids so repeated discovery runs
// do not hammer the upstream RPC. A nil cache disables caching.
type PeerCache interface {
	CachedPeerID(ctx context.Context, provider string) (peerID string, fetchedAt time.Time, err error)
	StorePeerID(ctx context.Context, provider string, peerID string) error
}

// Resolution is the outcome of endpoint resolution for one provider.
// Provider-level failures travel in Code / ErrorCode rather than Go errors
// so the orchestrator can persist them as-is.
type Resolution struct {
	Code      module.ResultCode
	ErrorCode module.ErrorCode
	PeerID    string
	Endpoints []string
}

type Resolver struct {
	source       PeerIDSource
	directory    Directory
	cache        PeerCache
	maxPeerIDAge time.Duration
	log          zerolog.Logger
}

func NewResolver(source PeerIDSource, directory Directory, cache PeerCache, maxPeerIDAge time.Duration) *Resolver {
	return &Resolver{
		source:       source,
		directory:    directory,
		cache:        cache,
		maxPeerIDAge: maxPeerIDAge,
		log:          log2.With().Str("module", "endpoints").Caller().Logger(),
	}
}

// Resolve returns the ordered set of HTTP base URLs advertised by the
// provider. No retries happen here; the caller decides whether to rerun the
// whole pipeline.
func (r *Resolver) Resolve(ctx context.Context, provider string) Resolution {
	log := r.log.With().Str("provider", provider).Logger()

	peerID, err := r.resolvePeerID(ctx, provider)
	if err != nil {
		log.Warn().Err(err).Msg("failed to resolve peer id")
		return Resolution{
			Code:      module.ResultError,
			ErrorCode: module.FailedToGetPeerId,
		}
	}

	addrs, err := r.directory.Addresses(ctx, peerID)
	switch {
	case err == ErrNoDirectoryData:
		return Resolution{Code: module.NoCidContactData, PeerID: peerID}
	case err != nil:
		log.Warn().Err(err).Str("peerId", peerID).Msg("directory lookup failed")
		return Resolution{
			Code:      module.ResultError,
			ErrorCode: module.FailedToRetrieveCidContactData,
			PeerID:    peerID,
		}
	}

	if len(addrs) == 0 {
		return Resolution{Code: module.MissingAddrFromCidContact, PeerID: peerID}
	}

	endpoints := EndpointsFromMultiaddrs(addrs)
	if len(endpoints) == 0 {
		return Resolution{Code: module.MissingHttpAddrFromCidContact, PeerID: peerID}
	}

	log.Debug().Str("peerId", peerID).Strs("endpoints", endpoints).Msg("resolved http endpoints")

	return Resolution{
		Code:      module.Success,
		PeerID:    peerID,
		Endpoints: endpoints,
	}
}

func (r *Resolver) resolvePeerID(ctx context.Context, provider string) (string, error) {
	if r.cache != nil {
		peerID, fetchedAt, err := r.cache.CachedPeerID(ctx, provider)
		if err == nil && peerID != "" && time.Since(fetchedAt) < r.maxPeerIDAge {
			return peerID, nil
		}
	}

	peerID, err := r.source.PeerID(ctx, provider)
	if err != nil {
		return "", err
	}

	if r.cache != nil {
		if err := r.cache.StorePeerID(ctx, provider, peerID); err != nil {
			r.log.Warn().Err(err).Str("provider", provider).Msg("failed to cache peer id")
		}
	}

	return peerID, nil
}

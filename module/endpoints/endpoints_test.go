package endpoints

import (
	"context"
	"testing"
	"time"

	"github.com/fidlabs/provider-sample-url-finder/module"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type MockPeerIDSource struct {
	mock.Mock
}

func (m *MockPeerIDSource) PeerID(ctx context.Context, provider string) (string, error) {
	args := m.Called(ctx, provider)
	return args.String(0), args.Error(1)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) Addresses(ctx context.Context, peerID string) ([]string, error) {
	args := m.Called(ctx, peerID)
	return args.Get(0).([]string), args.Error(1)
}

type MockPeerCache struct {
	mock.Mock
}

func (m *MockPeerCache) CachedPeerID(ctx context.Context, provider string) (string, time.Time, error) {
	args := m.Called(ctx, provider)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

func (m *MockPeerCache) StorePeerID(ctx context.Context, provider string, peerID string) error {
	args := m.Called(ctx, provider, peerID)
	return args.Error(0)
}

func TestResolver_Success(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWTest", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWTest").
		Return([]string{"/ip4/1.2.3.4/tcp/8080/http"}, nil)

	resolver := NewResolver(source, directory, nil, time.Hour)
	resolution := resolver.Resolve(ctx, "f0123")

	assert.Equal(module.Success, resolution.Code)
	assert.Equal("12D3KooWTest", resolution.PeerID)
	assert.Equal([]string{"http://1.2.3.4:8080"}, resolution.Endpoints)
}

func TestResolver_PeerIDFailure(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	source.On("PeerID", mock.Anything, "f0123").Return("", errors.New("rpc down"))

	resolver := NewResolver(source, new(MockDirectory), nil, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.ResultError, resolution.Code)
	assert.Equal(module.FailedToGetPeerId, resolution.ErrorCode)
}

func TestResolver_NoDirectoryData(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWTest", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWTest").
		Return([]string(nil), ErrNoDirectoryData)

	resolver := NewResolver(source, directory, nil, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.NoCidContactData, resolution.Code)
	assert.Empty(resolution.ErrorCode)
}

func TestResolver_DirectoryFailure(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWTest", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWTest").
		Return([]string(nil), errors.New("boom"))

	resolver := NewResolver(source, directory, nil, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.ResultError, resolution.Code)
	assert.Equal(module.FailedToRetrieveCidContactData, resolution.ErrorCode)
}

func TestResolver_NoAddrs(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWTest", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWTest").Return([]string{}, nil)

	resolver := NewResolver(source, directory, nil, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.MissingAddrFromCidContact, resolution.Code)
}

func TestResolver_NoHTTPAddrs(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWTest", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWTest").
		Return([]string{"/ip4/1.2.3.4/udp/4001"}, nil)

	resolver := NewResolver(source, directory, nil, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.MissingHttpAddrFromCidContact, resolution.Code)
}

func TestResolver_UsesFreshCachedPeerID(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	cache := new(MockPeerCache)
	cache.On("CachedPeerID", mock.Anything, "f0123").
		Return("12D3KooWCached", time.Now().Add(-time.Minute), nil)
	directory.On("Addresses", mock.Anything, "12D3KooWCached").
		Return([]string{"/ip4/1.2.3.4/tcp/8080/http"}, nil)

	resolver := NewResolver(source, directory, cache, time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.Success, resolution.Code)
	assert.Equal("12D3KooWCached", resolution.PeerID)
	// the upstream source is never consulted
	source.AssertNotCalled(t, "PeerID", mock.Anything, mock.Anything)
}

func TestResolver_RefreshesStaleCachedPeerID(t *testing.T) {
	assert := assert.New(t)

	source := new(MockPeerIDSource)
	directory := new(MockDirectory)
	cache := new(MockPeerCache)
	cache.On("CachedPeerID", mock.Anything, "f0123").
		Return("12D3KooWStale", time.Now().Add(-8*24*time.Hour), nil)
	cache.On("StorePeerID", mock.Anything, "f0123", "12D3KooWFresh").Return(nil)
	source.On("PeerID", mock.Anything, "f0123").Return("12D3KooWFresh", nil)
	directory.On("Addresses", mock.Anything, "12D3KooWFresh").
		Return([]string{"/ip4/1.2.3.4/tcp/8080/http"}, nil)

	resolver := NewResolver(source, directory, cache, 7*24*time.Hour)
	resolution := resolver.Resolve(context.Background(), "f0123")

	assert.Equal(module.Success, resolution.Code)
	assert.Equal("12D3KooWFresh", resolution.PeerID)
	cache.AssertCalled(t, "StorePeerID", mock.Anything, "f0123", "12D3KooWFresh")
}

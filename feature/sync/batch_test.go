package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"workshop-sync/core/steam"
	"workshop-sync/core/steam/mocks"
	"workshop-sync/core/workshop"
	wsmocks "workshop-sync/core/workshop/mocks"
)

func okDetails(id uint64) []workshop.Details {
	return []workshop.Details{{ID: id, Result: 1, Title: "item", ContentHandle: 5, ConsumerAppID: 7000}}
}

// emptyManifestClient wires a client that syncs any item successfully with
// no files.
func emptyManifestClient() *mocks.Client {
	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, mock.Anything).Return(uint64(9001), nil)
	client.On("ResolveDepotID", mock.Anything, mock.Anything).Return(uint32(7201), nil)
	client.On("GetDepotKey", mock.Anything, mock.Anything, mock.Anything).Return([]byte("key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil)
	client.On("GetManifestRequestCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uint64(0), nil)
	client.On("DownloadManifest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&steam.Manifest{}, nil)
	return client
}

// advanceThrottle unparks the metadata throttle n times on the fake clock.
func advanceThrottle(clock *clockwork.FakeClock, n int) {
	go func() {
		for i := 0; i < n; i++ {
			clock.BlockUntil(1)
			clock.Advance(DefaultResolveInterval)
		}
	}()
}

func TestPipeline_AllItemsSucceed(t *testing.T) {
	ids := []uint64{1, 2, 3}
	clock := clockwork.NewFakeClock()

	resolver := new(wsmocks.Resolver)
	for _, id := range ids {
		resolver.On("Resolve", mock.Anything, []uint64{id}).Return(okDetails(id), nil)
	}

	p := NewPipeline(resolver, NewExecutor(emptyManifestClient(), zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())
	advanceThrottle(clock, len(ids)-1)

	result := p.Run(context.Background(), ids, t.TempDir())
	assert.Equal(t, 3, result.Attempted)
	assert.Equal(t, 3, result.Succeeded)
	assert.False(t, result.Failed())
	resolver.AssertExpectations(t)
}

func TestPipeline_MetadataFailureDoesNotAbortBatch(t *testing.T) {
	ids := []uint64{1, 2, 3}
	clock := clockwork.NewFakeClock()

	resolver := new(wsmocks.Resolver)
	resolver.On("Resolve", mock.Anything, []uint64{1}).Return(okDetails(1), nil)
	resolver.On("Resolve", mock.Anything, []uint64{2}).Return(nil, errors.New("service unavailable"))
	resolver.On("Resolve", mock.Anything, []uint64{3}).Return(okDetails(3), nil)

	p := NewPipeline(resolver, NewExecutor(emptyManifestClient(), zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())
	advanceThrottle(clock, len(ids)-1)

	result := p.Run(context.Background(), ids, t.TempDir())
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, []uint64{2}, result.FailedIDs)
	// The item after the failure was still resolved.
	resolver.AssertNumberOfCalls(t, "Resolve", 3)
}

func TestPipeline_RejectedMetadataCountsAsFailed(t *testing.T) {
	clock := clockwork.NewFakeClock()

	resolver := new(wsmocks.Resolver)
	resolver.On("Resolve", mock.Anything, []uint64{1}).Return(okDetails(1), nil)
	// Result code 9: the item exists but is not accessible.
	resolver.On("Resolve", mock.Anything, []uint64{2}).Return([]workshop.Details{{ID: 2, Result: 9}}, nil)

	p := NewPipeline(resolver, NewExecutor(emptyManifestClient(), zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())
	advanceThrottle(clock, 1)

	result := p.Run(context.Background(), []uint64{1, 2}, t.TempDir())
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, []uint64{2}, result.FailedIDs)
}

func TestPipeline_DownloadFailureDoesNotAbortBatch(t *testing.T) {
	ids := []uint64{1, 2, 3}
	clock := clockwork.NewFakeClock()

	resolver := new(wsmocks.Resolver)
	for _, id := range ids {
		resolver.On("Resolve", mock.Anything, []uint64{id}).Return(okDetails(id), nil)
	}

	client := new(mocks.Client)
	client.On("ResolveManifestID", mock.Anything, uint64(2)).Return(uint64(0), steam.ErrNotFound)
	for _, id := range []uint64{1, 3} {
		client.On("ResolveManifestID", mock.Anything, id).Return(uint64(9001), nil)
	}
	client.On("ResolveDepotID", mock.Anything, mock.Anything).Return(uint32(7201), nil)
	client.On("GetDepotKey", mock.Anything, mock.Anything, mock.Anything).Return([]byte("key"), nil)
	client.On("ListServers", mock.Anything).Return([]steam.Endpoint{testServer}, nil)
	client.On("GetCDNAuthToken", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", nil)
	client.On("GetManifestRequestCode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(uint64(0), nil)
	client.On("DownloadManifest", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&steam.Manifest{}, nil)

	p := NewPipeline(resolver, NewExecutor(client, zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())
	advanceThrottle(clock, len(ids)-1)

	result := p.Run(context.Background(), ids, t.TempDir())
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, []uint64{2}, result.FailedIDs)
}

func TestPipeline_ThrottlesMetadataCalls(t *testing.T) {
	ids := []uint64{1, 2, 3}
	clock := clockwork.NewFakeClock()
	start := clock.Now()

	var resolvedAt []time.Duration
	resolver := new(wsmocks.Resolver)
	for _, id := range ids {
		resolver.On("Resolve", mock.Anything, []uint64{id}).Run(func(mock.Arguments) {
			resolvedAt = append(resolvedAt, clock.Since(start))
		}).Return(okDetails(id), nil)
	}

	p := NewPipeline(resolver, NewExecutor(emptyManifestClient(), zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())
	advanceThrottle(clock, len(ids)-1)

	result := p.Run(context.Background(), ids, t.TempDir())
	require.False(t, result.Failed())

	// First call at once, then one full interval between each pair.
	require.Len(t, resolvedAt, 3)
	assert.Equal(t, time.Duration(0), resolvedAt[0])
	assert.Equal(t, DefaultResolveInterval, resolvedAt[1])
	assert.Equal(t, 2*DefaultResolveInterval, resolvedAt[2])
}

func TestPipeline_CancellationMarksRemaining(t *testing.T) {
	ids := []uint64{1, 2, 3}
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	resolver := new(wsmocks.Resolver)
	resolver.On("Resolve", mock.Anything, []uint64{1}).Run(func(mock.Arguments) {
		cancel()
	}).Return(okDetails(1), nil)

	p := NewPipeline(resolver, NewExecutor(emptyManifestClient(), zap.NewNop(), 0), &Matcher{}, clock, zap.NewNop())

	result := p.Run(ctx, ids, t.TempDir())
	// Item 1 was already queued before cancellation; everything after it
	// failed without being resolved.
	assert.ElementsMatch(t, []uint64{1, 2, 3}, result.FailedIDs)
	resolver.AssertNumberOfCalls(t, "Resolve", 1)
}

func TestResolveSingle(t *testing.T) {
	resolver := new(wsmocks.Resolver)
	resolver.On("Resolve", mock.Anything, []uint64{42}).Return(okDetails(42), nil)

	item, err := ResolveSingle(context.Background(), resolver, 42, time.Second)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), item.ID)
	assert.Equal(t, uint32(7000), item.AppID)
}

func TestResolveSingle_RejectsItemWithoutContent(t *testing.T) {
	resolver := new(wsmocks.Resolver)
	resolver.On("Resolve", mock.Anything, []uint64{42}).Return([]workshop.Details{{ID: 42, Result: 1}}, nil)

	_, err := ResolveSingle(context.Background(), resolver, 42, 0)
	assert.Error(t, err)
}

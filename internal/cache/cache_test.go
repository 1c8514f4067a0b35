package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	typeLoads int32
}

func (l *countingLoader) LoadAction(ctx context.Context, realm, name string) (ActionEntry, bool, error) {
	if name == "missing" {
		return ActionEntry{}, false, nil
	}
	return ActionEntry{ID: 1}, true, nil
}

func (l *countingLoader) LoadType(ctx context.Context, realm, name string) (TypeEntry, bool, error) {
	atomic.AddInt32(&l.typeLoads, 1)
	time.Sleep(5 * time.Millisecond)
	return TypeEntry{ID: 7, IsPublic: true}, true, nil
}

func (l *countingLoader) LoadRole(ctx context.Context, realm, name string) (RoleEntry, bool, error) {
	return RoleEntry{ID: 2}, true, nil
}

func (l *countingLoader) LoadExternalID(ctx context.Context, realm string, key ExternalIDKey) (int64, bool, error) {
	if key.ExternalID == "unknown" {
		return 0, false, nil
	}
	return 42, true, nil
}

func TestCache_ActionMissReturnsNotFound(t *testing.T) {
	c := New(&countingLoader{}, time.Minute)
	_, found, err := c.Action(context.Background(), "realm1", "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_PopulatesOnMissAndServesFromCache(t *testing.T) {
	loader := &countingLoader{}
	c := New(loader, time.Minute)
	e, found, err := c.Type(context.Background(), "realm1", "Document")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(7), e.ID)

	_, _, err = c.Type(context.Background(), "realm1", "Document")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.typeLoads))
}

func TestCache_SingleFlightCollapsesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{}
	c := New(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Type(context.Background(), "realm1", "Document")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loader.typeLoads))
}

func TestCache_ExpiredEntryIsReloaded(t *testing.T) {
	loader := &countingLoader{}
	c := New(loader, time.Millisecond)
	_, _, err := c.Type(context.Background(), "realm1", "Document")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, _, err = c.Type(context.Background(), "realm1", "Document")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loader.typeLoads))
}

func TestCache_InvalidateDropsOnlyTheNamedEntry(t *testing.T) {
	loader := &countingLoader{}
	c := New(loader, time.Minute)
	_, _, err := c.Type(context.Background(), "realm1", "Document")
	require.NoError(t, err)
	_, _, err = c.Type(context.Background(), "realm1", "Invoice")
	require.NoError(t, err)
	_, _, err = c.Type(context.Background(), "realm2", "Document")
	require.NoError(t, err)

	c.Invalidate("realm1", "type", "Document")

	_, found := c.lookup(&c.types, realmKey("realm1", "Document"))
	assert.False(t, found)
	_, found = c.lookup(&c.types, realmKey("realm1", "Invoice"))
	assert.True(t, found)
	_, found = c.lookup(&c.types, realmKey("realm2", "Document"))
	assert.True(t, found)
}

func TestCache_InvalidateExternalIDUsesCompositeKey(t *testing.T) {
	c := New(&countingLoader{}, time.Minute)
	key := ExternalIDKey{TypeID: 1, ExternalID: "doc-1"}
	_, _, err := c.ExternalID(context.Background(), "realm1", key)
	require.NoError(t, err)

	c.Invalidate("realm1", "external_id", ExternalIDInvalidationKey(key))

	_, found := c.lookup(&c.extIDs, realmKey("realm1", key.ExternalID)+"\x00"+fmt.Sprintf("%d", key.TypeID))
	assert.False(t, found)
}

func TestCache_ExternalIDUnknownIsNotFound(t *testing.T) {
	c := New(&countingLoader{}, time.Minute)
	_, found, err := c.ExternalID(context.Background(), "realm1", ExternalIDKey{TypeID: 1, ExternalID: "unknown"})
	require.NoError(t, err)
	assert.False(t, found)
}

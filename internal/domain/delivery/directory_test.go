package delivery

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_ResolveAndReplace(t *testing.T) {
	dir := NewDirectory()

	_, ok := dir.Resolve("orders")
	assert.False(t, ok)
	assert.Equal(t, 0, dir.Len())

	dir.ReplaceAll([]ChannelHandle{
		{ID: "1", Destination: "orders"},
		{ID: "2", Destination: "kitchen"},
	})

	h, ok := dir.Resolve("orders")
	require.True(t, ok)
	assert.Equal(t, "1", h.ID)

	dir.ReplaceAll([]ChannelHandle{{ID: "3", Destination: "kitchen"}})

	_, ok = dir.Resolve("orders")
	assert.False(t, ok, "replace drops destinations missing from the new listing")
	assert.Equal(t, 1, dir.Len())
}

func TestDirectory_DuplicateDestinationLastWins(t *testing.T) {
	dir := NewDirectory()
	dir.ReplaceAll([]ChannelHandle{
		{ID: "old", Destination: "orders"},
		{ID: "new", Destination: "orders"},
	})

	h, ok := dir.Resolve("orders")
	require.True(t, ok)
	assert.Equal(t, "new", h.ID)
}

func TestDirectory_SnapshotSorted(t *testing.T) {
	dir := NewDirectory()
	dir.ReplaceAll([]ChannelHandle{
		{ID: "b", Destination: "kitchen"},
		{ID: "a", Destination: "bar"},
		{ID: "c", Destination: "orders"},
	})

	snap := dir.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "bar", snap[0].Destination)
	assert.Equal(t, "kitchen", snap[1].Destination)
	assert.Equal(t, "orders", snap[2].Destination)
}

// Readers racing a replace must see either the whole old mapping or the whole
// new one.
func TestDirectory_ConcurrentReplaceIsAtomic(t *testing.T) {
	dir := NewDirectory()
	gen := func(n int) []ChannelHandle {
		return []ChannelHandle{
			{ID: fmt.Sprintf("a-%d", n), Destination: "a"},
			{ID: fmt.Sprintf("b-%d", n), Destination: "b"},
		}
	}
	dir.ReplaceAll(gen(0))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			dir.ReplaceAll(gen(i))
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				snap := dir.Snapshot()
				if !assert.Len(t, snap, 2) {
					return
				}
				assert.Equal(t, snap[0].ID[2:], snap[1].ID[2:])
			}
		}()
	}
	wg.Wait()
}

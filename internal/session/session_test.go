package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
)

func TestRegistryCreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(config.Default())

	state := r.Get("sess-1")
	require.NotNil(t, state)
	assert.False(t, state.Initialized())
	assert.Zero(t, state.EntryCount())
	assert.False(t, state.CompactionOccurred())

	// Same handle returns the same record.
	assert.Same(t, state, r.Get("sess-1"))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryOverridesApplyAtCreationOnly(t *testing.T) {
	r := NewRegistry(config.Default())

	state := r.GetWithOverrides("sess-1", func(c *config.Config) {
		c.Retrieval.MaxResults = 9
	})
	assert.Equal(t, 9, state.Config().Retrieval.MaxResults)

	// A later call with different overrides returns the existing record.
	again := r.GetWithOverrides("sess-1", func(c *config.Config) {
		c.Retrieval.MaxResults = 2
	})
	assert.Same(t, state, again)
	assert.Equal(t, 9, again.Config().Retrieval.MaxResults)
}

func TestRegistryOverridesCanOptOut(t *testing.T) {
	r := NewRegistry(config.Default())

	state := r.GetWithOverrides("sess-1", func(c *config.Config) {
		c.Summary.Cache.Enabled = false
		c.Summary.Batch.Enabled = false
		c.Storage.TTLDays = 0
	})

	assert.False(t, state.Config().Summary.Cache.Enabled)
	assert.False(t, state.Config().Summary.Batch.Enabled)
	assert.Zero(t, state.Config().Storage.TTLDays)
}

func TestRegistryOverridesDoNotLeakAcrossSessions(t *testing.T) {
	r := NewRegistry(config.Default())

	r.GetWithOverrides("sess-1", func(c *config.Config) {
		c.Retrieval.CrossSession = true
	})
	other := r.Get("sess-2")
	assert.False(t, other.Config().Retrieval.CrossSession)
}

func TestRegistryRemove(t *testing.T) {
	r := NewRegistry(config.Default())
	first := r.Get("sess-1")
	first.RecordStored()

	r.Remove("sess-1")
	_, ok := r.Lookup("sess-1")
	assert.False(t, ok)

	// Re-creating the handle starts fresh.
	fresh := r.Get("sess-1")
	assert.NotSame(t, first, fresh)
	assert.Zero(t, fresh.EntryCount())
}

func TestStateCompactionLatchIsOneWay(t *testing.T) {
	r := NewRegistry(config.Default())
	state := r.Get("sess-1")

	state.MarkCompaction()
	assert.True(t, state.CompactionOccurred())
	state.MarkCompaction()
	assert.True(t, state.CompactionOccurred())
}

func TestStateCounters(t *testing.T) {
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }
	defer func() { timeNow = time.Now }()

	r := NewRegistry(config.Default())
	state := r.Get("sess-1")

	state.MarkInitialized()
	state.RecordStored()
	state.RecordStored()
	state.RecordCleanup()

	assert.True(t, state.Initialized())
	assert.Equal(t, 2, state.EntryCount())
	assert.Equal(t, now, state.LastCleanupAt())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(config.Default())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			state := r.Get(fmt.Sprintf("sess-%d", i%3))
			state.RecordStored()
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, r.Len())
	total := 0
	for i := 0; i < 3; i++ {
		total += r.Get(fmt.Sprintf("sess-%d", i)).EntryCount()
	}
	assert.Equal(t, 10, total)
}

package memory

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore(t *testing.T) {
	store := NewConfigStore(map[string]any{"log.level": "debug"})
	require.NotNil(t, store)
	assert.Equal(t, "debug", store.GetString("log.level"))
	assert.Equal(t, ":memory:", store.Path())
}

func TestConfigStore_Set_Update(t *testing.T) {
	store := NewConfigStore(nil)

	require.NoError(t, store.Set("key1", "original"))
	require.NoError(t, store.Set("key1", "updated"))

	val, ok := store.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "updated", val)
}

func TestConfigStore_TypedGetters(t *testing.T) {
	store := NewConfigStore(map[string]any{
		"invoker.max_retries":  int64(7),
		"forecast.threshold":   0.25,
		"forecast.decay":       1,
		"invoker.base_delay":   "250ms",
		"sync.progress_ttl":    int64(90),
		"sync.ttl_typed":       2 * time.Minute,
		"scheduler.enabled":    true,
		"sync.tenants":         []any{"t1", "t2", 3},
		"sync.tenants_typed":   []string{"a"},
		"invoker.bad_duration": "soon",
		"forecast.currency":    42,
	})

	assert.Equal(t, 7, store.GetInt("invoker.max_retries"))
	assert.InDelta(t, 0.25, store.GetFloat("forecast.threshold"), 1e-9)
	assert.InDelta(t, 1.0, store.GetFloat("forecast.decay"), 1e-9)
	assert.Equal(t, 250*time.Millisecond, store.GetDuration("invoker.base_delay"))
	assert.Equal(t, 90*time.Second, store.GetDuration("sync.progress_ttl"))
	assert.Equal(t, 2*time.Minute, store.GetDuration("sync.ttl_typed"))
	assert.Zero(t, store.GetDuration("invoker.bad_duration"))
	assert.True(t, store.GetBool("scheduler.enabled"))
	assert.Equal(t, []string{"t1", "t2"}, store.GetStringSlice("sync.tenants"))
	assert.Equal(t, []string{"a"}, store.GetStringSlice("sync.tenants_typed"))
	assert.Equal(t, "", store.GetString("forecast.currency"))
	assert.Zero(t, store.GetInt("missing"))
	assert.Nil(t, store.GetStringSlice("missing"))
}

func TestConfigStore_SaveLoadNoop(t *testing.T) {
	store := NewConfigStore(nil)
	assert.NoError(t, store.Save())
	assert.NoError(t, store.Load())
}

func TestConfigStore_ConcurrentAccess(t *testing.T) {
	store := NewConfigStore(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = store.Set("counter", n)
		}(i)
		go func() {
			defer wg.Done()
			_ = store.GetInt("counter")
		}()
	}
	wg.Wait()

	_, ok := store.Get("counter")
	assert.True(t, ok)
}

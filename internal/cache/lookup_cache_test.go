package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// テスト用の手動時計
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, max int) (*LookupCache[string], *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	c := New[string](Options{MaxEntries: max, DefaultTTL: time.Minute, Now: clk.Now})
	t.Cleanup(c.Close)
	return c, clk
}

func TestLookupCache_GetSet(t *testing.T) {
	c, _ := newTestCache(t, 10)

	_, ok := c.Get("order:1")
	assert.False(t, ok)

	c.Set("order:1", "v1")
	v, ok := c.Get("order:1")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	c.Set("order:1", "v2")
	v, _ = c.Get("order:1")
	assert.Equal(t, "v2", v)

	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, uint64(2), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestLookupCache_ExpiresAfterTTL(t *testing.T) {
	c, clk := newTestCache(t, 10)

	c.SetWithTTL("a", "x", 10*time.Second)
	clk.Advance(9 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Expirations)
}

func TestLookupCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, 2)

	c.Set("a", "1")
	c.Set("b", "2")
	_, _ = c.Get("a") // a を最近使用にする
	c.Set("c", "3")

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
	assert.Equal(t, 2, c.Len())
}

func TestLookupCache_DeletePrefix(t *testing.T) {
	c, _ := newTestCache(t, 10)

	c.Set("orders:list:a", "1")
	c.Set("orders:list:b", "2")
	c.Set("order:1", "3")

	assert.Equal(t, 2, c.DeletePrefix("orders:list:"))
	assert.Equal(t, []string{"order:1"}, c.Keys())
	assert.True(t, c.Delete("order:1"))
	assert.False(t, c.Delete("order:1"))
}

func TestLookupCache_SweepRemovesExpired(t *testing.T) {
	c, clk := newTestCache(t, 10)

	c.SetWithTTL("short", "1", time.Second)
	c.SetWithTTL("long", "2", time.Hour)
	clk.Advance(2 * time.Second)

	assert.Equal(t, 1, c.sweep())
	assert.Equal(t, []string{"long"}, c.Keys())
}

func TestLookupCache_TTLAndTouch(t *testing.T) {
	c, clk := newTestCache(t, 10)

	c.SetWithTTL("k", "v", 30*time.Second)
	left, ok := c.TTL("k")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, left)

	clk.Advance(20 * time.Second)
	assert.True(t, c.Touch("k", time.Minute))
	left, _ = c.TTL("k")
	assert.Equal(t, time.Minute, left)

	assert.False(t, c.Touch("missing", time.Minute))
}

func TestLookupCache_GetOrLoadSharesConcurrentLoads(t *testing.T) {
	c, _ := newTestCache(t, 10)

	var loads int32
	release := make(chan struct{})
	load := func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return "loaded", nil
	}

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "order:9", 0, load)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&loads), int32(2))
	for _, v := range results {
		assert.Equal(t, "loaded", v)
	}
	v, ok := c.Get("order:9")
	assert.True(t, ok)
	assert.Equal(t, "loaded", v)
}

func TestLookupCache_GetOrLoadError(t *testing.T) {
	c, _ := newTestCache(t, 10)
	errDB := errors.New("db down")

	_, err := c.GetOrLoad(context.Background(), "x", 0, func(ctx context.Context) (string, error) {
		return "", errDB
	})
	assert.ErrorIs(t, err, errDB)
	assert.Equal(t, 0, c.Len())
}

func TestLookupCache_GetOrLoadSkipsStaleWhenWrittenDuringLoad(t *testing.T) {
	c, _ := newTestCache(t, 10)

	v, err := c.GetOrLoad(context.Background(), "order:1", 0, func(ctx context.Context) (string, error) {
		// ロード中に別経路で書き込み
		c.Set("order:1", "fresh")
		return "stale", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale", v)

	got, ok := c.Get("order:1")
	assert.True(t, ok)
	assert.Equal(t, "fresh", got)
}

func TestLookupCache_ConcurrentReadersNeverSeeTornValues(t *testing.T) {
	clk := &fakeClock{now: time.Now()}
	type pair struct{ A, B int }
	c := New[pair](Options{MaxEntries: 4, DefaultTTL: time.Minute, SweepInterval: time.Millisecond, Now: clk.Now})
	defer c.Close()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				c.Set(fmt.Sprintf("k%d", i%8), pair{A: i, B: i})
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if v, ok := c.Get(fmt.Sprintf("k%d", i%8)); ok {
					assert.Equal(t, v.A, v.B)
				}
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 4)
}

func TestLookupCache_CloseIsIdempotent(t *testing.T) {
	c := New[int](Options{SweepInterval: time.Millisecond})
	c.Close()
	c.Close()
}

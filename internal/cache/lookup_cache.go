// Package cache は注文・決済の参照に使うプロセス内の TTL + LRU キャッシュ。
package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxEntries    = 1000
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

type Options struct {
	MaxEntries    int
	DefaultTTL    time.Duration
	SweepInterval time.Duration // 0 以下なら掃除ループを起動しない
	Now           func() time.Time
}

type Stats struct {
	Entries     int    `json:"entries"`
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Evictions   uint64 `json:"evictions"`
	Expirations uint64 `json:"expirations"`
}

type item[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LookupCache は値を丸ごと差し替えるだけなので、読み手は常に完全な値かミスを受け取る
type LookupCache[V any] struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	opts  Options
	stats Stats

	// 書き込みのたびに進める。ロード中に書き込みがあれば古い値を入れない
	version uint64

	group singleflight.Group

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func New[V any](opts Options) *LookupCache[V] {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &LookupCache[V]{
		ll:    list.New(),
		items: make(map[string]*list.Element),
		opts:  opts,
		stop:  make(chan struct{}),
	}

	if opts.SweepInterval > 0 {
		c.wg.Add(1)
		go c.sweepLoop(opts.SweepInterval)
	}
	return c
}

func (c *LookupCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}

	it := el.Value.(*item[V])
	if !c.opts.Now().Before(it.expiresAt) {
		c.removeElement(el)
		c.stats.Expirations++
		c.stats.Misses++
		return zero, false
	}

	c.ll.MoveToFront(el)
	c.stats.Hits++
	return it.value, true
}

func (c *LookupCache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, 0)
}

// ttl が 0 以下なら既定の TTL
func (c *LookupCache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.setLocked(key, value, ttl)
}

func (c *LookupCache[V]) setLocked(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	expiresAt := c.opts.Now().Add(ttl)
	if el, ok := c.items[key]; ok {
		el.Value = &item[V]{key: key, value: value, expiresAt: expiresAt}
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&item[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el

	for c.ll.Len() > c.opts.MaxEntries {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
		c.stats.Evictions++
	}
}

func (c *LookupCache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	el, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(el)
	return true
}

// DeletePrefix は prefix で始まるキーをまとめて消し、件数を返す
func (c *LookupCache[V]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.version++
	n := 0
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.removeElement(el)
			n++
		}
	}
	return n
}

// GetOrLoad はミス時に load を呼んで格納する。同じキーの同時ロードは1回にまとめる
func (c *LookupCache[V]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		start := c.version
		c.mu.Unlock()

		v, err := load(ctx)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.version == start {
			c.setLocked(key, v, ttl)
		}
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// 残り TTL。期限切れ・未登録は false
func (c *LookupCache[V]) TTL(key string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	left := el.Value.(*item[V]).expiresAt.Sub(c.opts.Now())
	if left <= 0 {
		return 0, false
	}
	return left, true
}

// Touch は有効期限を now+ttl に延長する
func (c *LookupCache[V]) Touch(key string, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	it := el.Value.(*item[V])
	now := c.opts.Now()
	if !now.Before(it.expiresAt) {
		return false
	}
	el.Value = &item[V]{key: it.key, value: it.value, expiresAt: now.Add(ttl)}
	return true
}

func (c *LookupCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*item[V]).key)
	}
	return keys
}

func (c *LookupCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LookupCache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version++
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

func (c *LookupCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = c.ll.Len()
	return s
}

// Close は掃除ループを止める。複数回呼んでもよい
func (c *LookupCache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

func (c *LookupCache[V]) sweepLoop(interval time.Duration) {
	defer c.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep は期限切れを消して件数を返す
func (c *LookupCache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.Now()
	n := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*item[V]).expiresAt) {
			c.removeElement(el)
			c.stats.Expirations++
			n++
		}
		el = prev
	}
	return n
}

func (c *LookupCache[V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*item[V]).key)
}

package pipeline

import (
	"container/list"
	"context"
	"sync"

	"github.com/timmy/dmi/internal/domain"
)

// PredictionCache remembers classifier outputs per artifact so repeated
// analyses of the same submission skip inference.
type PredictionCache interface {
	Get(ctx context.Context, key string) (domain.Prediction, bool, error)
	Set(ctx context.Context, key string, p domain.Prediction) error
}

// CacheKey returns "{model}:{artifact}".
func CacheKey(model, artifact string) string {
	return model + ":" + artifact
}

// DefaultMemoryCacheSize bounds a MemoryCache created with size <= 0.
const DefaultMemoryCacheSize = 10000

// MemoryCache is a process-local PredictionCache holding at most size
// entries. The least recently used entry is evicted first.
type MemoryCache struct {
	mu    sync.Mutex
	size  int
	order *list.List // front is most recently used
	items map[string]*list.Element
}

type memoryEntry struct {
	key  string
	pred domain.Prediction
}

// NewMemoryCache creates an empty cache bounded to size entries.
func NewMemoryCache(size int) *MemoryCache {
	if size <= 0 {
		size = DefaultMemoryCacheSize
	}
	return &MemoryCache{size: size, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (domain.Prediction, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return domain.Prediction{}, false, nil
	}
	c.order.MoveToFront(el)
	return el.Value.(*memoryEntry).pred, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, p domain.Prediction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		el.Value.(*memoryEntry).pred = p
		c.order.MoveToFront(el)
		return nil
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, pred: p})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len returns the number of cached predictions.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// noCache disables caching.
type noCache struct{}

func (noCache) Get(context.Context, string) (domain.Prediction, bool, error) {
	return domain.Prediction{}, false, nil
}

func (noCache) Set(context.Context, string, domain.Prediction) error { return nil }

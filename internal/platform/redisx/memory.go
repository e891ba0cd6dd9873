package redisx

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryKV is an in-process KV used when no Redis address is configured and in tests.
type MemoryKV struct {
	mu    sync.Mutex
	now   func() time.Time
	items map[string]memoryItem
}

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// NewMemoryKV constructs an empty store. A nil clock uses time.Now.
func NewMemoryKV(now func() time.Time) *MemoryKV {
	if now == nil {
		now = time.Now
	}
	return &MemoryKV{now: now, items: make(map[string]memoryItem)}
}

func (m *MemoryKV) lookupLocked(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !item.expiresAt.IsZero() && !m.now().Before(item.expiresAt) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}

func (m *MemoryKV) expiry(expiration time.Duration) time.Time {
	if expiration <= 0 {
		return time.Time{}
	}
	return m.now().Add(expiration)
}

func (m *MemoryKV) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookupLocked(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(item.value, nil)
}

func (m *MemoryKV) GetDel(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookupLocked(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	delete(m.items, key)
	return redis.NewStringResult(item.value, nil)
}

func (m *MemoryKV) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = memoryItem{value: stringify(value), expiresAt: m.expiry(expiration)}
	return redis.NewStatusResult("OK", nil)
}

func (m *MemoryKV) SetNX(_ context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookupLocked(key); ok {
		return redis.NewBoolResult(false, nil)
	}
	m.items[key] = memoryItem{value: stringify(value), expiresAt: m.expiry(expiration)}
	return redis.NewBoolResult(true, nil)
}

func (m *MemoryKV) Del(_ context.Context, keys ...string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := m.lookupLocked(key); ok {
			delete(m.items, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (m *MemoryKV) Incr(_ context.Context, key string) *redis.IntCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, _ := m.lookupLocked(key)
	current := int64(0)
	if item.value != "" {
		parsed, err := strconv.ParseInt(item.value, 10, 64)
		if err != nil {
			return redis.NewIntResult(0, fmt.Errorf("ERR value is not an integer"))
		}
		current = parsed
	}
	current++
	item.value = strconv.FormatInt(current, 10)
	m.items[key] = item
	return redis.NewIntResult(current, nil)
}

func (m *MemoryKV) Expire(_ context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.lookupLocked(key)
	if !ok {
		return redis.NewBoolResult(false, nil)
	}
	item.expiresAt = m.expiry(expiration)
	m.items[key] = item
	return redis.NewBoolResult(true, nil)
}

func (m *MemoryKV) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryClient is an in-process LRU cache with per-entry expiry. It also
// fans published messages out to in-process subscribers, so run summaries
// flow the same way with or without Redis.
type MemoryClient struct {
	mu      sync.Mutex
	order   *list.List // front = most recently used
	items   map[string]*list.Element
	maxSize int

	subMu sync.Mutex
	subs  map[string]map[chan []byte]struct{}
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// NewMemoryClient creates an in-memory cache holding at most maxSize entries.
func NewMemoryClient(maxSize int) *MemoryClient {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryClient{
		order:   list.New(),
		items:   make(map[string]*list.Element),
		maxSize: maxSize,
		subs:    make(map[string]map[chan []byte]struct{}),
	}
}

// Get returns a live entry and marks it recently used. Expired entries are
// dropped on read.
func (c *MemoryClient) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	entry := el.Value.(*memoryEntry)
	if time.Now().After(entry.expiresAt) {
		c.remove(el)
		return nil, ErrCacheMiss
	}
	c.order.MoveToFront(el)
	return entry.value, nil
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *MemoryClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set(key, value, time.Now().Add(ttl))
	return nil
}

// SetMany stores every entry under one lock.
func (c *MemoryClient) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	expiresAt := time.Now().Add(ttl)
	for key, value := range entries {
		c.set(key, value, expiresAt)
	}
	return nil
}

func (c *MemoryClient) set(key string, value []byte, expiresAt time.Time) {
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value, entry.expiresAt = value, expiresAt
		c.order.MoveToFront(el)
		return
	}
	for c.order.Len() >= c.maxSize {
		c.remove(c.order.Back())
	}
	c.items[key] = c.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
}

func (c *MemoryClient) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}

// Delete removes key.
func (c *MemoryClient) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	return nil
}

// DeleteByPrefix removes every key starting with prefix.
func (c *MemoryClient) DeleteByPrefix(ctx context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.remove(el)
		}
	}
	return nil
}

// Len reports the number of stored entries, expired ones included.
func (c *MemoryClient) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Publish delivers message as JSON to current subscribers of channel. Slow
// subscribers miss messages rather than block the publisher.
func (c *MemoryClient) Publish(ctx context.Context, channel string, message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs[channel] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

// Subscribe registers an in-process subscriber on channel.
func (c *MemoryClient) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 16)

	c.subMu.Lock()
	if c.subs[channel] == nil {
		c.subs[channel] = make(map[chan []byte]struct{})
	}
	c.subs[channel][ch] = struct{}{}
	c.subMu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			c.unsubscribe(channel, ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-done:
		}
	}()
	return ch, stop, nil
}

// unsubscribe closes ch unless Close already did.
func (c *MemoryClient) unsubscribe(channel string, ch chan []byte) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.subs[channel][ch]; ok {
		delete(c.subs[channel], ch)
		close(ch)
	}
}

// Close drops every entry and closes every subscriber channel.
func (c *MemoryClient) Close() error {
	c.mu.Lock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.mu.Unlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for channel, chans := range c.subs {
		for ch := range chans {
			close(ch)
		}
		delete(c.subs, channel)
	}
	return nil
}

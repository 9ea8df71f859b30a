package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestCache(ttl time.Duration, maxSize int) (*Cache[string, int], *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := New[string, int](ttl, maxSize)
	c.now = clk.now
	return c, clk
}

func TestGetSet(t *testing.T) {
	c, _ := newTestCache(time.Minute, 0)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Delete("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c, clk := newTestCache(time.Minute, 0)
	c.Set("a", 1)

	clk.advance(59 * time.Second)
	_, ok := c.Get("a")
	assert.True(t, ok)

	clk.advance(time.Second)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c, clk := newTestCache(time.Hour, 2)
	c.Set("a", 1)
	clk.advance(time.Second)
	c.Set("b", 2)
	clk.advance(time.Second)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	// Overwriting an existing key does not evict
	c.Set("b", 20)
	v, _ := c.Get("b")
	assert.Equal(t, 20, v)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestCleanup(t *testing.T) {
	c, clk := newTestCache(time.Minute, 0)
	c.Set("a", 1)
	clk.advance(30 * time.Second)
	c.Set("b", 2)
	clk.advance(45 * time.Second)

	assert.Equal(t, 1, c.Cleanup())
	assert.Equal(t, 1, c.Len())
}

func TestFullCachePrefersExpiredEntries(t *testing.T) {
	c, clk := newTestCache(time.Minute, 2)
	c.Set("old", 1)
	clk.advance(30 * time.Second)
	c.Set("young", 2)
	clk.advance(40 * time.Second)
	c.Set("new", 3)

	_, ok := c.Get("young")
	assert.True(t, ok)
	_, ok = c.Get("new")
	assert.True(t, ok)
}

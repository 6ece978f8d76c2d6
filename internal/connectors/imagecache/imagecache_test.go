package imagecache

import "testing"

func TestGetPutAndEviction(t *testing.T) {
	c := New[string, string](2)

	c.Put("a", "alice")
	c.Put("b", "bob")
	if v, ok := c.Get("a"); !ok || v != "alice" {
		t.Fatalf("expected a=alice, got %q ok=%v", v, ok)
	}

	// "a" is now most-recently-used; inserting "c" should evict "b".
	c.Put("c", "carol")
	if _, ok := c.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if v, ok := c.Get("c"); !ok || v != "carol" {
		t.Fatalf("expected c=carol, got %q ok=%v", v, ok)
	}

	if got := c.Len(); got != 2 {
		t.Fatalf("expected len 2, got %d", got)
	}
}

func TestDefaultCapacityWhenNonPositive(t *testing.T) {
	c := New[string, int](0)
	if c.capacity != DefaultCapacity {
		t.Fatalf("expected default capacity %d, got %d", DefaultCapacity, c.capacity)
	}
}

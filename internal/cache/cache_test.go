package cache

import (
	"errors"
	"sync"
	"testing"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](4)
	if _, ok := c.Get("a"); ok {
		t.Error("Get on empty cache reported a hit")
	}
	c.Set("a", 1)
	c.Set("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v, want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats() = %+v, want 1 hit and 1 miss", s)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, int](3)
	for i := 0; i < 3; i++ {
		c.Set(i, i)
	}
	c.Get(0) // 1 is now the oldest
	c.Set(3, 3)

	tests := []struct {
		key  int
		want bool
	}{
		{0, true},
		{1, false},
		{2, true},
		{3, true},
	}
	for _, tt := range tests {
		if _, ok := c.Get(tt.key); ok != tt.want {
			t.Errorf("Get(%d) present = %v, want %v", tt.key, ok, tt.want)
		}
	}
	if s := c.Stats(); s.Evictions != 1 || s.Len != 3 || s.Capacity != 3 {
		t.Errorf("Stats() = %+v, want 1 eviction, len 3, capacity 3", s)
	}
}

func TestUnlimited(t *testing.T) {
	c := New[int, int](0)
	for i := 0; i < 1000; i++ {
		c.Set(i, i)
	}
	if c.Len() != 1000 {
		t.Errorf("Len() = %d, want 1000", c.Len())
	}
}

func TestGetOrCreate(t *testing.T) {
	c := New[string, int](4)
	calls := 0
	create := func() (int, error) {
		calls++
		return 7, nil
	}
	for i := 0; i < 3; i++ {
		v, err := c.GetOrCreate("k", create)
		if err != nil || v != 7 {
			t.Fatalf("GetOrCreate = %d, %v, want 7, nil", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("create called %d times, want 1", calls)
	}

	errFail := errors.New("fail")
	if _, err := c.GetOrCreate("bad", func() (int, error) { return 0, errFail }); !errors.Is(err, errFail) {
		t.Errorf("GetOrCreate error = %v, want %v", err, errFail)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed create was cached")
	}
}

func TestDeleteClear(t *testing.T) {
	c := New[int, int](4)
	c.Set(1, 1)
	c.Set(2, 2)
	if !c.Delete(1) {
		t.Error("Delete(1) = false, want true")
	}
	if c.Delete(1) {
		t.Error("second Delete(1) = true, want false")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", c.Len())
	}
	// The list must be usable after Clear.
	c.Set(3, 3)
	if v, ok := c.Get(3); !ok || v != 3 {
		t.Errorf("Get(3) = %d, %v, want 3, true", v, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int, int](16)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c.Set((g*200+i)%32, i)
				c.Get(i % 32)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 16 {
		t.Errorf("Len() = %d, exceeds capacity 16", c.Len())
	}
}

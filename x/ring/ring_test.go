package ring

import (
	"sync"
	"testing"
)

func TestOrderAcrossWrap(t *testing.T) {
	r := New[int](8)
	for i := 0; i < 21; i++ {
		r.Push(i)
	}
	if r.Len() != 8 || r.Dropped() != 13 {
		t.Fatalf("len=%d dropped=%d", r.Len(), r.Dropped())
	}
	got := r.Last(0)
	for i, v := range got {
		if v != 13+i {
			t.Fatalf("Last(0)[%d] = %d, want %d", i, v, 13+i)
		}
	}
	if tail := r.Last(3); len(tail) != 3 || tail[0] != 18 || tail[2] != 20 {
		t.Fatalf("Last(3) = %v", tail)
	}
}

func TestPartialFillAndReset(t *testing.T) {
	r := New[string](4)
	r.Push("a")
	r.Push("b")
	if got := r.Last(10); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Last = %v", got)
	}
	r.Reset()
	if r.Len() != 0 || len(r.Last(0)) != 0 {
		t.Fatal("reset left values behind")
	}
}

func TestSizeMustBePowerOfTwo(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	New[int](6)
}

func TestConcurrentPush(t *testing.T) {
	r := New[int](16)
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Push(i)
				_ = r.Last(4)
			}
		}()
	}
	wg.Wait()
	if r.Len() != 16 || r.Dropped() != 384 {
		t.Fatalf("len=%d dropped=%d", r.Len(), r.Dropped())
	}
}

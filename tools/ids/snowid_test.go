package ids

import (
	"sync"
	"testing"
)

func TestGeneratorUniqueAndMonotonic(t *testing.T) {
	g := NewGenerator(7)
	var prev int64
	for i := 0; i < 10000; i++ {
		id := g.Next()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		if NodeOf(id) != 7 {
			t.Fatalf("node = %d", NodeOf(id))
		}
		prev = id
	}
}

func TestGenerateConcurrent(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int64]struct{})
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				id := Generate()
				mu.Lock()
				if _, dup := seen[id]; dup {
					mu.Unlock()
					t.Errorf("duplicate id %d", id)
					return
				}
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestInvalidNodeFallsBack(t *testing.T) {
	if g := NewGenerator(5000); g.nodeID != 1 {
		t.Errorf("nodeID = %d", g.nodeID)
	}
}

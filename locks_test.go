package gcd

import (
	"sync"
	"testing"
)

func TestKeyLocks(t *testing.T) {
	var (
		k       keyLocks
		wg      sync.WaitGroup
		counter = make(map[string]int)
		mu      sync.Mutex // protects counter; the key lock protects the read-modify-write
	)

	for i := 0; i < 100; i++ {
		for _, key := range []string{"a", "b"} {
			key := key
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := k.lock(key)
				defer unlock()

				mu.Lock()
				n := counter[key]
				mu.Unlock()

				mu.Lock()
				counter[key] = n + 1
				mu.Unlock()
			}()
		}
	}
	wg.Wait()

	if counter["a"] != 100 || counter["b"] != 100 {
		t.Errorf("got counts %v, want 100 each", counter)
	}
	if n := k.size(); n != 0 {
		t.Errorf("%d lock table entries left, want 0", n)
	}
}

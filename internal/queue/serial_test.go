package queue

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubmitKeepsOrderPerKey(t *testing.T) {
	s := NewSerial()

	var mu sync.Mutex
	got := map[string][]int{}
	for i := 0; i < 200; i++ {
		key := []string{"a", "b"}[i%2]
		n := i
		s.Submit(key, func() {
			if n%7 == 0 {
				time.Sleep(time.Millisecond)
			}
			mu.Lock()
			got[key] = append(got[key], n)
			mu.Unlock()
		})
	}
	s.Wait()

	for _, key := range []string{"a", "b"} {
		seq := got[key]
		assert.Len(t, seq, 100)
		for i := 1; i < len(seq); i++ {
			if seq[i] < seq[i-1] {
				t.Fatalf("key %s ran %d after %d", key, seq[i], seq[i-1])
			}
		}
	}
	assert.Equal(t, 0, s.Len())
}

func TestSubmitNeverOverlapsSameKey(t *testing.T) {
	s := NewSerial()
	var active, maxSeen atomic.Int32
	for i := 0; i < 20; i++ {
		s.Submit("user", func() {
			n := active.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	s.Wait()
	assert.Equal(t, int32(1), maxSeen.Load())
}

func TestKeysRunInParallel(t *testing.T) {
	s := NewSerial()
	release := make(chan struct{})
	started := make(chan string, 2)

	for _, key := range []string{"a", "b"} {
		key := key
		s.Submit(key, func() {
			started <- key
			<-release
		})
	}

	timeout := time.After(2 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-timeout:
			t.Fatal("second key blocked behind the first")
		}
	}
	assert.Equal(t, 2, s.Len())
	close(release)
	s.Wait()
	assert.Equal(t, 0, s.Len())
}

func TestSubmitFromRunningJob(t *testing.T) {
	s := NewSerial()
	var order []string
	s.Submit("k", func() {
		order = append(order, "first")
		s.Submit("k", func() { order = append(order, "third") })
		order = append(order, "second")
	})
	s.Wait()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

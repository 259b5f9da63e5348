package sync

import (
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithLockInsertIfAbsent(t *testing.T) {
	m := NewMap[string, *int]()

	var wg sync.WaitGroup
	winners := make(chan *int, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.WithLock(func(view View[string, *int]) {
				if cur, ok := view.Get("r1"); ok {
					winners <- cur
					return
				}
				v := i
				view.Set("r1", &v)
				winners <- &v
			})
		}(i)
	}
	wg.Wait()
	close(winners)

	first, ok := m.Load("r1")
	require.True(t, ok)
	for w := range winners {
		assert.Same(t, first, w)
	}
	assert.Equal(t, 1, m.Len())
}

func TestWithLockDeleteWhileRanging(t *testing.T) {
	m := NewMap[string, int]()
	m.WithLock(func(view View[string, int]) {
		for i := 0; i < 10; i++ {
			view.Set(strconv.Itoa(i), i)
		}
	})

	m.WithLock(func(view View[string, int]) {
		for k, v := range view.All() {
			if v%2 == 0 {
				view.Delete(k)
			}
		}
		assert.Equal(t, 5, view.Len())
	})

	sum := 0
	for _, v := range m.All() {
		sum += v
	}
	assert.Equal(t, 1+3+5+7+9, sum)
}

func TestAllStopsEarly(t *testing.T) {
	m := NewMap[int, int]()
	m.WithLock(func(view View[int, int]) {
		for i := 0; i < 10; i++ {
			view.Set(i, i)
		}
	})

	calls := 0
	for range m.All() {
		calls++
		if calls == 3 {
			break
		}
	}
	assert.Equal(t, 3, calls)

	// the read lock is released after break
	m.WithLock(func(view View[int, int]) { view.Set(10, 10) })
	assert.Equal(t, 11, m.Len())
}

func TestDrain(t *testing.T) {
	m := NewMap[string, int]()
	m.WithLock(func(view View[string, int]) {
		view.Set("a", 1)
		view.Set("b", 2)
	})
	assert.ElementsMatch(t, []int{1, 2}, m.Values())

	var drained []int
	m.WithLock(func(view View[string, int]) { drained = view.Drain() })
	assert.ElementsMatch(t, []int{1, 2}, drained)
	assert.Zero(t, m.Len())
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	m := NewMap[string, int]()
	assert.Panics(t, func() {
		m.WithLock(func(View[string, int]) { panic("boom") })
	})

	_, ok := m.Load("x")
	assert.False(t, ok)
}

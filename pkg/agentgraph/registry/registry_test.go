package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
}

func TestAddAndGet(t *testing.T) {
	r := New[string, int]()

	require.NoError(t, r.Add("one", 1))
	require.NoError(t, r.Add("two", 2))

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestAddDuplicate(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Add("a", 1))

	err := r.Add("a", 2)
	assert.ErrorIs(t, err, ErrDuplicate)

	v, _ := r.Get("a")
	assert.Equal(t, 1, v, "duplicate add must not overwrite")
}

func TestSetKeepsPosition(t *testing.T) {
	r := New[string, string]()
	r.Set("a", "1")
	r.Set("b", "2")
	r.Set("a", "3")

	assert.Equal(t, []string{"a", "b"}, r.Keys())
	assert.Equal(t, []string{"3", "2"}, r.Values())
}

func TestKeysInsertionOrder(t *testing.T) {
	r := New[string, int]()
	for i, k := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, r.Add(k, i))
	}
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, r.Keys())
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	require.NoError(t, r.Add("a", 1))
	require.NoError(t, r.Add("b", 2))

	assert.True(t, r.Delete("a"))
	assert.False(t, r.Delete("a"))
	assert.False(t, r.Has("a"))
	assert.Equal(t, []string{"b"}, r.Keys())

	require.NoError(t, r.Add("a", 3), "deleted key can be re-added")
	assert.Equal(t, []string{"b", "a"}, r.Keys())
}

func TestMustGetPanic(t *testing.T) {
	r := New[string, int]()
	assert.Panics(t, func() { r.MustGet("missing") })
}

func TestAllAllowsMutation(t *testing.T) {
	r := New[int, int]()
	for i := range 5 {
		require.NoError(t, r.Add(i, i))
	}

	var seen []int
	for k := range r.All() {
		seen = append(seen, k)
		r.Delete(k)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, seen)
	assert.Equal(t, 0, r.Len())
}

func TestAllEarlyStop(t *testing.T) {
	r := New[int, int]()
	for i := range 5 {
		require.NoError(t, r.Add(i, i))
	}
	count := 0
	for range r.All() {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestConcurrentAdd(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup
	n := 500

	for i := range n {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			assert.NoError(t, r.Add(fmt.Sprint(val), val))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, r.Len())
	assert.Len(t, r.Keys(), n)
}

func TestConcurrentDuplicateAdd(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := range 50 {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			if r.Add("same", val) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, r.Len())
}

func BenchmarkGet(b *testing.B) {
	r := New[string, int]()
	for i := range 100 {
		_ = r.Add(fmt.Sprint(i), i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Get("50")
	}
}

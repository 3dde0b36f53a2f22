package hashtable

import "math/rand"
import "sync"
import "sync/atomic"
import "testing"
import "time"

import "github.com/stretchr/testify/assert"
import "github.com/stretchr/testify/require"

const SZ = 10

func fill(t *testing.T, ht *Hashtable_t[int, int], n int) {
	for i := 0; i < n; i++ {
		_, ok := ht.Set(i, i)
		require.True(t, ok, "key %v", i)
		v, ok := ht.Get(i)
		require.True(t, ok, "key %v", i)
		require.Equal(t, i, v)
	}
}

func TestSimple(t *testing.T) {
	ht := MkHash[int, int](SZ)

	fill(t, ht, 3*SZ)
	assert.Equal(t, 3*SZ, ht.Size())
	for i := 1; i < 3*SZ; i++ {
		require.True(t, ht.Del(i))
		v, ok := ht.Get(0)
		require.True(t, ok)
		require.Equal(t, 0, v)
		_, ok = ht.Get(i)
		require.False(t, ok, "key %v", i)
	}
	assert.Equal(t, 1, ht.Size())
	assert.False(t, ht.Del(5))
}

func TestSetExisting(t *testing.T) {
	ht := MkHash[int32, string](SZ)
	_, ok := ht.Set(7, "a")
	require.True(t, ok)
	old, ok := ht.Set(7, "b")
	assert.False(t, ok)
	assert.Equal(t, "a", old)
	v, _ := ht.Get(7)
	assert.Equal(t, "a", v)
}

func TestIter(t *testing.T) {
	ht := MkHash[int, int](SZ)
	fill(t, ht, 2*SZ)
	seen := make(map[int]bool)
	ht.Iter(func(k, v int) bool {
		assert.Equal(t, k, v)
		seen[k] = true
		return false
	})
	assert.Len(t, seen, 2*SZ)
	assert.True(t, ht.Iter(func(k, v int) bool { return k == 3 }))
}

const NPROC = 4

func TestManyReaderOneWriter(t *testing.T) {
	ht := MkHash[int, int](SZ)
	fill(t, ht, SZ)

	var wg sync.WaitGroup
	var done atomic.Bool
	var bad atomic.Int32
	for p := 0; p < NPROC; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)))
			for !done.Load() {
				if id == 0 {
					k := SZ + r.Intn(SZ)
					if _, ok := ht.Set(k, k); !ok {
						bad.Add(1)
					}
					if !ht.Del(k) {
						bad.Add(1)
					}
					continue
				}
				k := r.Intn(SZ)
				if v, ok := ht.Get(k); !ok || v != k {
					bad.Add(1)
				}
			}
		}(p)
	}
	time.Sleep(100 * time.Millisecond)
	done.Store(true)
	wg.Wait()
	assert.Zero(t, bad.Load())
	assert.Equal(t, SZ, ht.Size())
}

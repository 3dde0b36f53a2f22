package hashtable

import "fmt"
import "sync"
import "sync/atomic"

// Key_i is satisfied by the kernel's integer identifiers (tids, pids).
type Key_i interface {
	~int | ~int32 | ~int64 | ~uint32 | ~uint64
}

type elem_t[K Key_i, V any] struct {
	key     K
	value   V
	keyHash uint32
	next    atomic.Pointer[elem_t[K, V]]
}

type bucket_t[K Key_i, V any] struct {
	sync.Mutex
	first atomic.Pointer[elem_t[K, V]]
}

// Hashtable_t is a fixed-size chained hash table. readers never lock;
// writers lock one bucket. chains are kept sorted by key hash.
type Hashtable_t[K Key_i, V any] struct {
	table []*bucket_t[K, V]
	n     atomic.Int64
}

func MkHash[K Key_i, V any](size int) *Hashtable_t[K, V] {
	if size <= 0 {
		panic("bad size")
	}
	ht := &Hashtable_t[K, V]{}
	ht.table = make([]*bucket_t[K, V], size)
	for i := range ht.table {
		ht.table[i] = &bucket_t[K, V]{}
	}
	return ht
}

func (ht *Hashtable_t[K, V]) String() string {
	s := ""
	for i, b := range ht.table {
		if b.first.Load() != nil {
			s += fmt.Sprintf("b %d:\n", i)
			for e := b.first.Load(); e != nil; e = e.next.Load() {
				s += fmt.Sprintf("(%v, %v), ", e.keyHash, e.key)
			}
			s += "\n"
		}
	}
	return s
}

func (ht *Hashtable_t[K, V]) Size() int {
	return int(ht.n.Load())
}

func (ht *Hashtable_t[K, V]) Get(key K) (V, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
		if kh < e.keyHash {
			break
		}
	}
	var zero V
	return zero, false
}

// Set inserts key if it is absent. returns the existing value and false if
// key is already present.
func (ht *Hashtable_t[K, V]) Set(key K, value V) (V, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t[K, V]) {
		n := &elem_t[K, V]{key: key, value: value, keyHash: kh}
		if last == nil {
			n.next.Store(b.first.Load())
			b.first.Store(n)
		} else {
			n.next.Store(last.next.Load())
			last.next.Store(n)
		}
		ht.n.Add(1)
	}

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, false
		}
		if kh < e.keyHash {
			break
		}
		last = e
	}
	add(last)
	return value, true
}

// Del removes key. returns false if key was not present.
func (ht *Hashtable_t[K, V]) Del(key K) bool {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				b.first.Store(e.next.Load())
			} else {
				last.next.Store(e.next.Load())
			}
			ht.n.Add(-1)
			return true
		}
		if kh < e.keyHash {
			return false
		}
		last = e
	}
	return false
}

// Iter calls f on every element until f returns true. elements inserted or
// removed concurrently may or may not be visited.
func (ht *Hashtable_t[K, V]) Iter(f func(K, V) bool) bool {
	for _, b := range ht.table {
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			if f(e.key, e.value) {
				return true
			}
		}
	}
	return false
}

func (ht *Hashtable_t[K, V]) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func khash[K Key_i](key K) uint32 {
	h := uint64(key)
	h ^= h >> 32
	return uint32(2654435761) * uint32(h)
}

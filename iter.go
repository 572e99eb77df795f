// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fixedmap

// Iter iterates over the entries of a Map in slot order. The range of slots
// is fixed when the iterator is created. The map must not be mutated while an
// Iter is in use.
type Iter[K comparable, V any] struct {
	slots []Slot[K, V]
	pos   int
}

// Iter returns an iterator over the entries in m.
func (m *Map[K, V]) Iter() Iter[K, V] {
	return Iter[K, V]{slots: m.slots[:m.highWater]}
}

// Next returns the next entry, or ok=false once the iterator is exhausted.
func (it *Iter[K, V]) Next() (key K, value V, ok bool) {
	for it.pos < len(it.slots) {
		s := &it.slots[it.pos]
		it.pos++
		if s.state == slotFull {
			return s.key, s.value, true
		}
	}
	return key, value, false
}

// IterMut is Iter with mutable access to the values. Keys cannot be changed
// and entries cannot be removed through it.
type IterMut[K comparable, V any] struct {
	slots []Slot[K, V]
	pos   int
}

// IterMut returns an iterator over the entries in m that yields pointers to
// the stored values.
func (m *Map[K, V]) IterMut() IterMut[K, V] {
	return IterMut[K, V]{slots: m.slots[:m.highWater]}
}

// Next returns the next entry, or ok=false once the iterator is exhausted.
// The value pointer is valid until the entry is removed.
func (it *IterMut[K, V]) Next() (key K, value *V, ok bool) {
	for it.pos < len(it.slots) {
		s := &it.slots[it.pos]
		it.pos++
		if s.state == slotFull {
			return s.key, &s.value, true
		}
	}
	return key, nil, false
}

// IntoIter moves the entries out of a Map. Every entry returned by Next is
// removed from the map without invoking the release callback. Close must be
// called when done: it releases the entries that were not consumed and leaves
// the map empty. The map must not be used in between.
type IntoIter[K comparable, V any] struct {
	m   *Map[K, V]
	pos int
	end int
}

// IntoIter returns a consuming iterator over the entries in m.
func (m *Map[K, V]) IntoIter() IntoIter[K, V] {
	return IntoIter[K, V]{m: m, end: m.highWater}
}

// Next removes and returns the next entry, or ok=false once the iterator is
// exhausted or closed.
func (it *IntoIter[K, V]) Next() (key K, value V, ok bool) {
	if it.m == nil {
		return key, value, false
	}
	it.m.checkMutable()
	for it.pos < it.end {
		i := it.pos
		it.pos++
		if it.m.slots[i].state == slotFull {
			key, value = it.m.releaseAt(i, releaseMove)
			return key, value, true
		}
	}
	return key, value, false
}

// Close releases the remaining entries and resets the map. It is idempotent.
func (it *IntoIter[K, V]) Close() {
	if it.m == nil {
		return
	}
	it.m.Clear()
	it.m = nil
}

// All calls yield sequentially for each key and value present in the map, in
// slot order. If yield returns false, range stops the iteration. It can be
// used directly with range:
//
//	for k, v := range m.All {
//	  fmt.Printf("%v: %v\n", k, v)
//	}
func (m *Map[K, V]) All(yield func(key K, value V) bool) {
	it := m.Iter()
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		if !yield(k, v) {
			return
		}
	}
}

// AllMut is All with a pointer to each stored value.
func (m *Map[K, V]) AllMut(yield func(key K, value *V) bool) {
	it := m.IterMut()
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		if !yield(k, v) {
			return
		}
	}
}

// Drain calls yield sequentially for each entry, moving it out of the map.
// When Drain returns the map is empty: if yield stops the iteration early the
// remaining entries are released.
func (m *Map[K, V]) Drain(yield func(key K, value V) bool) {
	it := m.IntoIter()
	defer it.Close()
	for k, v, ok := it.Next(); ok; k, v, ok = it.Next() {
		if !yield(k, v) {
			return
		}
	}
}

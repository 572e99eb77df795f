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

// package fixedmap is a fixed capacity map that never allocates after it has
// been initialized, and need not allocate at all when backed by a caller
// supplied array (see WithSlots).
//
// # Layout
//
// A Map is a flat array of capacity slots and a high-water mark. Every slot is
// in one of three states:
//
//	   empty: never written since the map was initialized or cleared
//	 deleted: written at least once, currently holding no entry (a tombstone)
//	    full: holding a key and value
//
// The high-water mark is the number of slots, counted from index 0, that have
// been written at least once. Slots below the mark are full or deleted. Slots
// at or above the mark are empty and are never read. The zero value of a Slot
// is empty, so a freshly allocated (or cleared) slot array needs no
// initialization pass.
//
// Every operation is a linear scan of the slots below the high-water mark;
// there is no hashing. Capacities are expected to be small, a few cache lines
// of slots, and entries iterate in slot order.
//
// # Insertion
//
// Put scans [0, highWater). If a full slot holds the key, its value is
// overwritten in place and the slot keeps its position. Otherwise the entry
// goes into the first deleted slot encountered during the scan, and only if
// there is none does the high-water mark advance by one. Put returns
// ErrCapacityExceeded when the mark would have to advance past the capacity.
// PutUnchecked omits that check for callers that have proven their bound.
//
// # Removal
//
// Removing an entry turns its slot into a tombstone. The slot stays below the
// high-water mark and is reused by a later Put. All transitions away from a
// full slot go through release, which either discards the entry (invoking the
// WithRelease callback) or moves it out to the caller (without invoking the
// callback). The mark only moves back to zero on Clear.
package fixedmap

import (
	"fmt"
	"iter"
	"strings"

	"github.com/cockroachdb/errors"
)

const debug = false

// ErrCapacityExceeded is returned by Put when the map has no slot left for a
// new key.
var ErrCapacityExceeded = errors.New("fixedmap: capacity exceeded")

type slotState uint8

const (
	slotEmpty slotState = iota
	slotDeleted
	slotFull
)

func (s slotState) String() string {
	switch s {
	case slotEmpty:
		return "empty"
	case slotDeleted:
		return "deleted"
	case slotFull:
		return "full"
	default:
		return fmt.Sprintf("slotState(%d)", uint8(s))
	}
}

// Slot holds a key and value. It is exported so that callers can declare
// backing storage for WithSlots; its fields are only accessed through a Map.
type Slot[K comparable, V any] struct {
	key   K
	value V
	state slotState
}

type releaseMode uint8

const (
	// releaseDrop discards the entry, invoking the release callback.
	releaseDrop releaseMode = iota
	// releaseMove hands the entry to the caller.
	releaseMove
)

// Map is an unordered map from keys to values with a capacity fixed at
// initialization. The zero value is a usable map with capacity 0.
//
// A Map is NOT goroutine-safe. Any number of readers may run concurrently
// only if no goroutine is mutating the map.
type Map[K comparable, V any] struct {
	// slots is capacity in length and is never reallocated.
	slots []Slot[K, V]
	// highWater is the number of slots that have been written since the map
	// was initialized or last cleared. slots[highWater:] are all empty.
	highWater int
	// The number of full slots below highWater (i.e. the number of elements
	// in the map).
	used int
	// release is called for every entry the map discards.
	release func(key K, value V)
	// releasing is set while release runs.
	releasing bool
	// The allocator that produced slots.
	allocator Allocator[K, V]
}

// New constructs a new Map with the specified capacity. The capacity never
// changes.
func New[K comparable, V any](capacity int, options ...option[K, V]) *Map[K, V] {
	m := &Map[K, V]{}
	m.Init(capacity, options...)
	return m
}

// Init initializes a Map with the specified capacity. Init is the
// allocation-free alternative to New when combined with WithSlots. A Map that
// is in use must be closed before it is initialized again.
func (m *Map[K, V]) Init(capacity int, options ...option[K, V]) {
	if capacity < 0 {
		panic(errors.AssertionFailedf("fixedmap: negative capacity %d", capacity))
	}
	*m = Map[K, V]{
		allocator: defaultAllocator[K, V]{},
	}
	for _, op := range options {
		op.apply(m)
	}
	if capacity > 0 {
		m.slots = m.allocator.AllocSlots(capacity)
	}
	m.checkInvariants()
}

// Close releases every entry in the map and returns its slots to the
// configured allocator. It is unnecessary to close a map that uses the
// default allocator and has no release callback. It is invalid to use a Map
// after it has been closed, though Close itself is idempotent.
func (m *Map[K, V]) Close() {
	if m.allocator == nil {
		return
	}
	m.Clear()
	if m.slots != nil {
		m.allocator.FreeSlots(m.slots)
	}
	m.slots = nil
	m.allocator = nil
}

// Cap returns the number of entries the map can hold.
func (m *Map[K, V]) Cap() int {
	return len(m.slots)
}

// Len returns the number of entries in the map.
func (m *Map[K, V]) Len() int {
	return m.used
}

// Empty returns true if the map holds no entries.
func (m *Map[K, V]) Empty() bool {
	return m.used == 0
}

// Put inserts an entry into the map, overwriting the existing value if an
// entry with the same key already exists. If the key is new and every slot is
// taken, Put returns ErrCapacityExceeded and leaves the map unchanged.
func (m *Map[K, V]) Put(key K, value V) error {
	m.checkMutable()
	i := m.target(key)
	if i == len(m.slots) {
		if debug {
			fmt.Printf("put(%v): full: used=%d high-water=%d\n", key, m.used, m.highWater)
		}
		return ErrCapacityExceeded
	}
	m.store(i, key, value)
	return nil
}

// PutUnchecked is Put for callers that know the map has room for key. It
// panics if that is not the case.
func (m *Map[K, V]) PutUnchecked(key K, value V) {
	m.checkMutable()
	i := m.target(key)
	if invariants && i == len(m.slots) {
		panic(errors.AssertionFailedf("fixedmap: no slot left for %v (capacity %d)", key, len(m.slots)))
	}
	// Without the check above an index of len(m.slots) trips the bounds check
	// in store.
	m.store(i, key, value)
}

// target returns the index Put writes key to: the full slot holding key, else
// the first deleted slot, else highWater.
func (m *Map[K, V]) target(key K) int {
	target := -1
	for i := 0; i < m.highWater; i++ {
		s := &m.slots[i]
		switch s.state {
		case slotFull:
			if s.key == key {
				return i
			}
		case slotDeleted:
			if target < 0 {
				target = i
			}
		}
	}
	if target < 0 {
		target = m.highWater
	}
	return target
}

// store writes the entry into slot i, releasing whatever entry it held.
func (m *Map[K, V]) store(i int, key K, value V) {
	s := &m.slots[i]
	switch s.state {
	case slotFull:
		if debug {
			fmt.Printf("put(updating): index=%d key=%v\n", i, key)
		}
		m.releaseAt(i, releaseDrop)
	case slotDeleted:
		if debug {
			fmt.Printf("put(reusing): index=%d key=%v\n", i, key)
		}
	case slotEmpty:
		if debug {
			fmt.Printf("put(appending): index=%d key=%v\n", i, key)
		}
		m.highWater++
	}
	s.key = key
	s.value = value
	s.state = slotFull
	m.used++
	m.checkInvariants()
}

// releaseAt turns the full slot i into a tombstone and returns the entry it
// held. With releaseDrop the release callback is invoked on the entry.
func (m *Map[K, V]) releaseAt(i int, mode releaseMode) (key K, value V) {
	s := &m.slots[i]
	key, value = s.key, s.value
	// Zero the slot so that it does not keep the entry reachable.
	*s = Slot[K, V]{state: slotDeleted}
	m.used--
	if mode == releaseDrop && m.release != nil {
		m.callRelease(key, value)
	}
	return key, value
}

func (m *Map[K, V]) callRelease(key K, value V) {
	m.releasing = true
	defer func() { m.releasing = false }()
	m.release(key, value)
}

// checkMutable panics if the map is mutated from within its release
// callback.
func (m *Map[K, V]) checkMutable() {
	if m.releasing {
		panic(errors.AssertionFailedf("fixedmap: map mutated from its release callback"))
	}
}

// find returns the index of the full slot holding key, or -1.
func (m *Map[K, V]) find(key K) int {
	for i := 0; i < m.highWater; i++ {
		s := &m.slots[i]
		if s.state == slotFull && s.key == key {
			return i
		}
	}
	return -1
}

// findFunc returns the index of the first full slot whose key satisfies
// match, or -1.
func (m *Map[K, V]) findFunc(match func(key K) bool) int {
	for i := 0; i < m.highWater; i++ {
		s := &m.slots[i]
		if s.state == slotFull && match(s.key) {
			return i
		}
	}
	return -1
}

// Has returns true if the map contains key.
func (m *Map[K, V]) Has(key K) bool {
	return m.find(key) >= 0
}

// HasFunc returns true if the map contains a key satisfying match. It allows
// looking up a key through a view of it, such as a []byte for a string key:
//
//	m.HasFunc(func(k string) bool { return k == string(b) })
func (m *Map[K, V]) HasFunc(match func(key K) bool) bool {
	return m.findFunc(match) >= 0
}

// Get retrieves the value from the map for the specified key, return ok=false
// if the key is not present.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	if i := m.find(key); i >= 0 {
		return m.slots[i].value, true
	}
	return value, false
}

// GetFunc retrieves the value of the first key satisfying match. See HasFunc.
func (m *Map[K, V]) GetFunc(match func(key K) bool) (value V, ok bool) {
	if i := m.findFunc(match); i >= 0 {
		return m.slots[i].value, true
	}
	return value, false
}

// GetPtr returns a pointer to the value stored for key, or nil if the key is
// not present. The pointer is valid until the entry is removed or the map is
// cleared.
func (m *Map[K, V]) GetPtr(key K) *V {
	if i := m.find(key); i >= 0 {
		return &m.slots[i].value
	}
	return nil
}

// GetKeyValue returns the stored key and value matching key.
func (m *Map[K, V]) GetKeyValue(key K) (k K, v V, ok bool) {
	if i := m.find(key); i >= 0 {
		s := &m.slots[i]
		return s.key, s.value, true
	}
	return k, v, false
}

// At returns the value stored for key. It panics if the key is not present;
// use Get to test for presence.
func (m *Map[K, V]) At(key K) V {
	i := m.find(key)
	if i < 0 {
		panic(errors.Newf("fixedmap: key %v not present", key))
	}
	return m.slots[i].value
}

// Delete deletes the entry corresponding to the specified key from the map.
// It is a noop to delete a non-existent key.
func (m *Map[K, V]) Delete(key K) {
	m.checkMutable()
	i := m.find(key)
	if i < 0 {
		return
	}
	if debug {
		fmt.Printf("delete(%v): index=%d used=%d\n", key, i, m.used-1)
	}
	m.releaseAt(i, releaseDrop)
	m.checkInvariants()
}

// DeleteEntry removes key from the map and returns the stored key and value.
// The release callback is not invoked: ownership of the entry passes to the
// caller.
func (m *Map[K, V]) DeleteEntry(key K) (k K, v V, ok bool) {
	m.checkMutable()
	i := m.find(key)
	if i < 0 {
		return k, v, false
	}
	k, v = m.releaseAt(i, releaseMove)
	m.checkInvariants()
	return k, v, true
}

// Clear deletes all entries from the map, keeping its capacity for reuse.
func (m *Map[K, V]) Clear() {
	m.checkMutable()
	for i := 0; i < m.highWater; i++ {
		if m.slots[i].state == slotFull {
			m.releaseAt(i, releaseDrop)
		}
	}
	clear(m.slots[:m.highWater])
	m.highWater = 0
	m.checkInvariants()
}

// Retain deletes every entry for which keep returns false. Entries are
// visited in slot order and keep is called exactly once per entry present
// when Retain starts.
func (m *Map[K, V]) Retain(keep func(key K, value V) bool) {
	m.checkMutable()
	for i, n := 0, m.highWater; i < n; i++ {
		s := &m.slots[i]
		if s.state == slotFull && !keep(s.key, s.value) {
			m.releaseAt(i, releaseDrop)
		}
	}
	m.checkInvariants()
}

// PutAll puts every entry produced by seq, in order. Later duplicates
// overwrite earlier ones. It stops at the first entry that does not fit and
// returns an error wrapping ErrCapacityExceeded; entries put before it remain.
func (m *Map[K, V]) PutAll(seq iter.Seq2[K, V]) error {
	var n int
	for k, v := range seq {
		if err := m.Put(k, v); err != nil {
			return errors.Wrapf(err, "entry %d", n)
		}
		n++
	}
	return nil
}

// FromSeq constructs a Map with the specified capacity holding the entries
// produced by seq. See PutAll.
func FromSeq[K comparable, V any](
	capacity int, seq iter.Seq2[K, V], options ...option[K, V],
) (*Map[K, V], error) {
	m := New[K, V](capacity, options...)
	if err := m.PutAll(seq); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// Clone returns a copy of the map with the same capacity and slot layout.
//
// cloneValue is called for every entry and its result is stored in the copy;
// it is where a value owning a resource takes another reference. The copy
// then uses the release callback of m unless options specify another. If
// cloneValue is nil the values are copied as is and the copy has no release
// callback unless options specify one, so that no entry is released twice.
func (m *Map[K, V]) Clone(cloneValue func(key K, value V) V, options ...option[K, V]) *Map[K, V] {
	c := &Map[K, V]{}
	if cloneValue != nil {
		options = append([]option[K, V]{WithRelease(m.release)}, options...)
	}
	c.Init(len(m.slots), options...)
	copy(c.slots, m.slots[:m.highWater])
	if cloneValue != nil {
		for i := 0; i < m.highWater; i++ {
			if s := &c.slots[i]; s.state == slotFull {
				s.value = cloneValue(s.key, s.value)
			}
		}
	}
	c.highWater = m.highWater
	c.used = m.used
	c.checkInvariants()
	return c
}

// Equal returns true if m and other hold the same keys and eq holds for the
// values of each key. Capacity and slot order are not compared.
func (m *Map[K, V]) Equal(other *Map[K, V], eq func(a, b V) bool) bool {
	if m.used != other.used {
		return false
	}
	for i := 0; i < m.highWater; i++ {
		s := &m.slots[i]
		if s.state != slotFull {
			continue
		}
		j := other.find(s.key)
		if j < 0 || !eq(s.value, other.slots[j].value) {
			return false
		}
	}
	return true
}

func (m *Map[K, V]) checkInvariants() {
	if invariants {
		if m.highWater < 0 || m.highWater > len(m.slots) {
			panic(errors.AssertionFailedf("invariant failed: high-water %d outside [0, %d]\n%s",
				m.highWater, len(m.slots), m.debugString()))
		}

		var used int
		for i := 0; i < m.highWater; i++ {
			s := &m.slots[i]
			switch s.state {
			case slotDeleted:
			case slotFull:
				used++
				for j := i + 1; j < m.highWater; j++ {
					if t := &m.slots[j]; t.state == slotFull && t.key == s.key {
						panic(errors.AssertionFailedf("invariant failed: slot(%d) and slot(%d) both hold %v\n%s",
							i, j, s.key, m.debugString()))
					}
				}
			default:
				panic(errors.AssertionFailedf("invariant failed: slot(%d) below high-water is %s\n%s",
					i, s.state, m.debugString()))
			}
		}

		for i := m.highWater; i < len(m.slots); i++ {
			if c := m.slots[i].state; c != slotEmpty {
				panic(errors.AssertionFailedf("invariant failed: slot(%d) above high-water is %s\n%s",
					i, c, m.debugString()))
			}
		}

		if used != m.used {
			panic(errors.AssertionFailedf("invariant failed: found %d used slots, but used count is %d\n%s",
				used, m.used, m.debugString()))
		}
	}
}

func (m *Map[K, V]) debugString() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "capacity=%d  used=%d  high-water=%d\n", len(m.slots), m.used, m.highWater)
	for i := 0; i < m.highWater; i++ {
		switch s := &m.slots[i]; s.state {
		case slotFull:
			fmt.Fprintf(&buf, "  %4d: %v\n", i, s.key)
		default:
			fmt.Fprintf(&buf, "  %4d: %s\n", i, s.state)
		}
	}
	return buf.String()
}

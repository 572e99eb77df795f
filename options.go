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

import "github.com/cockroachdb/errors"

// option provide an interface to do work on Map while it is being created.
type option[K comparable, V any] interface {
	apply(m *Map[K, V])
}

type releaseOption[K comparable, V any] struct {
	release func(key K, value V)
}

func (op releaseOption[K, V]) apply(m *Map[K, V]) {
	m.release = op.release
}

// WithRelease is an option to specify a function that is called for every
// entry the Map discards: values overwritten by Put, and entries removed by
// Delete, Clear, Retain or Close. It is not called for entries handed back to
// the caller by DeleteEntry or a consuming iterator.
//
// The callback must not modify the map; doing so panics.
func WithRelease[K comparable, V any](release func(key K, value V)) option[K, V] {
	return releaseOption[K, V]{release}
}

// Allocator specifies an interface for allocating and releasing the slots
// used by a Map. The default allocator utilizes Go's builtin make() and allows
// the GC to reclaim memory. A Map allocates its slots exactly once, when it is
// initialized.
//
// If the allocator is manually managing memory and requires that slots be
// freed then Map.Close must be called in order to ensure FreeSlots is called.
type Allocator[K comparable, V any] interface {
	// AllocSlots should return a zeroed slice equivalent to
	// make([]Slot[K,V], n).
	AllocSlots(n int) []Slot[K, V]

	// FreeSlots can optional release the memory associated with the supplied
	// slice that is guaranteed to have been allocated by AllocSlots.
	FreeSlots(v []Slot[K, V])
}

type defaultAllocator[K comparable, V any] struct{}

func (defaultAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	return make([]Slot[K, V], n)
}

func (defaultAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
}

type allocatorOption[K comparable, V any] struct {
	allocator Allocator[K, V]
}

func (op allocatorOption[K, V]) apply(m *Map[K, V]) {
	m.allocator = op.allocator
}

// WithAllocator is an option for specify the Allocator to use for a Map[K,V].
func WithAllocator[K comparable, V any](allocator Allocator[K, V]) option[K, V] {
	return allocatorOption[K, V]{allocator}
}

// bufferAllocator hands out a caller owned buffer. It is what makes a Map
// usable without any heap allocation:
//
//	var buf [16]fixedmap.Slot[string, int]
//	var m fixedmap.Map[string, int]
//	m.Init(len(buf), fixedmap.WithSlots(buf[:]))
type bufferAllocator[K comparable, V any] struct {
	buf []Slot[K, V]
}

func (a bufferAllocator[K, V]) AllocSlots(n int) []Slot[K, V] {
	if n > len(a.buf) {
		panic(errors.AssertionFailedf("fixedmap: capacity %d exceeds supplied buffer of %d slots", n, len(a.buf)))
	}
	s := a.buf[:n:n]
	clear(s)
	return s
}

func (a bufferAllocator[K, V]) FreeSlots(v []Slot[K, V]) {
	clear(v)
}

// WithSlots is an option to back a Map[K,V] with caller supplied storage. The
// capacity passed to New or Init must not exceed len(buf). The buffer must not
// be used for anything else while the Map is in use.
func WithSlots[K comparable, V any](buf []Slot[K, V]) option[K, V] {
	return allocatorOption[K, V]{bufferAllocator[K, V]{buf}}
}

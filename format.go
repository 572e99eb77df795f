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

import (
	"fmt"
	"strings"
)

// String renders the map as {k1: v1, k2: v2} in slot order, formatting keys
// and values with %v. String has a pointer receiver, so a Map declared as a
// value must be passed to fmt as &m.
func (m *Map[K, V]) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	sep := ""
	m.All(func(k K, v V) bool {
		fmt.Fprintf(&buf, "%s%v: %v", sep, k, v)
		sep = ", "
		return true
	})
	buf.WriteByte('}')
	return buf.String()
}

// GoString makes %#v render the same text as String.
func (m *Map[K, V]) GoString() string {
	return m.String()
}

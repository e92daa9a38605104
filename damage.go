// Copyright 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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

package gud

import "fmt"

// Rect is a pixel rectangle. All arithmetic on it is done in uint64 so that
// wire-supplied uint32 values can never wrap.
type Rect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

func (r Rect) String() string {
	return fmt.Sprintf("(%d,%d %dx%d)", r.X, r.Y, r.Width, r.Height)
}

// Empty reports whether the rectangle has zero area.
func (r Rect) Empty() bool {
	return r.Width == 0 || r.Height == 0
}

// Right returns the exclusive right edge.
func (r Rect) Right() uint64 {
	return uint64(r.X) + uint64(r.Width)
}

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() uint64 {
	return uint64(r.Y) + uint64(r.Height)
}

// Area returns the number of pixels covered.
func (r Rect) Area() uint64 {
	return uint64(r.Width) * uint64(r.Height)
}

// Within reports whether r lies fully inside a width x height surface.
func (r Rect) Within(width, height uint32) bool {
	return r.Right() <= uint64(width) && r.Bottom() <= uint64(height)
}

// Overlaps reports whether r and o share at least one pixel.
func (r Rect) Overlaps(o Rect) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	return uint64(r.X) < o.Right() && uint64(o.X) < r.Right() &&
		uint64(r.Y) < o.Bottom() && uint64(o.Y) < r.Bottom()
}

// Union returns the bounding box of r and o.
func (r Rect) Union(o Rect) Rect {
	if r.Empty() {
		return o
	}
	if o.Empty() {
		return r
	}
	x := min(r.X, o.X)
	y := min(r.Y, o.Y)
	right := max(r.Right(), o.Right())
	bottom := max(r.Bottom(), o.Bottom())
	return Rect{X: x, Y: y, Width: uint32(right - uint64(x)), Height: uint32(bottom - uint64(y))}
}

// DamageSet is a set of non-overlapping rectangles.
type DamageSet []Rect

// Add inserts rect, merging it with any rectangle it overlaps into their
// bounding box until the set is disjoint again.
func (d DamageSet) Add(rect Rect) DamageSet {
	if rect.Empty() {
		return d
	}
	merged := rect
	for {
		next := d[:0:0]
		grew := false
		for _, existing := range d {
			if existing.Overlaps(merged) {
				merged = merged.Union(existing)
				grew = true
				continue
			}
			next = append(next, existing)
		}
		d = next
		if !grew {
			break
		}
	}
	return append(d, merged)
}

// Merge adds every rectangle of other.
func (d DamageSet) Merge(other DamageSet) DamageSet {
	for _, r := range other {
		d = d.Add(r)
	}
	return d
}

// Bounds returns the bounding box of the whole set.
func (d DamageSet) Bounds() Rect {
	var b Rect
	for _, r := range d {
		b = b.Union(r)
	}
	return b
}

// Package geom provides the plane, winding and bounds primitives used by
// every stage of the level compiler.
//
// All geometry is float64 and built on mgl64 vectors. Tolerances are not
// package constants: callers pass an Epsilon so a compile can tune leak
// sensitivity without touching the arithmetic.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// DefaultMaxWorldCoord bounds every coordinate a compile accepts.
const DefaultMaxWorldCoord = 65536

// Epsilon holds the numeric tolerances used for plane and winding tests.
type Epsilon struct {
	Normal float64 `yaml:"normal"` // normal component equality
	Dist   float64 `yaml:"dist"`   // plane distance equality
	On     float64 `yaml:"on"`     // point-on-plane classification
	Edge   float64 `yaml:"edge"`   // minimum edge length of a non-tiny winding
}

// DefaultEpsilon returns the tolerances the compiler ships with.
func DefaultEpsilon() Epsilon {
	return Epsilon{
		Normal: 0.00001,
		Dist:   0.01,
		On:     0.1,
		Edge:   0.2,
	}
}

// Side is the result of classifying geometry against a plane.
type Side uint8

// Side flags. SideBoth is SideFront|SideBack.
const (
	SideFront  Side = 1
	SideBack   Side = 2
	SideBoth   Side = 3
	SideOn     Side = 4
	SideFacing Side = 8
)

// String returns a human readable side name.
func (s Side) String() string {
	switch s {
	case SideFront:
		return "front"
	case SideBack:
		return "back"
	case SideBoth:
		return "both"
	case SideOn:
		return "on"
	case SideFacing:
		return "facing"
	}
	return "none"
}

// Bounds is an axis aligned box.
type Bounds struct {
	Min, Max mgl64.Vec3
}

// EmptyBounds returns an inverted box that any added point replaces.
func EmptyBounds() Bounds {
	inf := math.Inf(1)
	return Bounds{
		Min: mgl64.Vec3{inf, inf, inf},
		Max: mgl64.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether no point has been added.
func (b Bounds) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// AddPoint grows the box to contain p.
func (b *Bounds) AddPoint(p mgl64.Vec3) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Union returns the smallest box containing both boxes.
func (b Bounds) Union(o Bounds) Bounds {
	if o.IsEmpty() {
		return b
	}
	b.AddPoint(o.Min)
	b.AddPoint(o.Max)
	return b
}

// Contains reports whether p lies inside the box grown by eps.
func (b Bounds) Contains(p mgl64.Vec3, eps float64) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i]-eps || p[i] > b.Max[i]+eps {
			return false
		}
	}
	return true
}

// Intersects reports whether the boxes overlap by more than eps.
func (b Bounds) Intersects(o Bounds, eps float64) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] >= o.Max[i]-eps || b.Max[i] <= o.Min[i]+eps {
			return false
		}
	}
	return true
}

// Center returns the middle of the box.
func (b Bounds) Center() mgl64.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the extent along each axis.
func (b Bounds) Size() mgl64.Vec3 {
	return b.Max.Sub(b.Min)
}

// Expand returns the box grown by d on every side.
func (b Bounds) Expand(d float64) Bounds {
	v := mgl64.Vec3{d, d, d}
	return Bounds{Min: b.Min.Sub(v), Max: b.Max.Add(v)}
}

// OnPlaneSide classifies the box against p. The result is SideFront,
// SideBack or SideBoth.
func (b Bounds) OnPlaneSide(p Plane, eps float64) Side {
	var near, far mgl64.Vec3
	for i := 0; i < 3; i++ {
		if p.Normal[i] < 0 {
			far[i], near[i] = b.Min[i], b.Max[i]
		} else {
			far[i], near[i] = b.Max[i], b.Min[i]
		}
	}
	var side Side
	if p.Distance(far) > eps {
		side |= SideFront
	}
	if p.Distance(near) < -eps {
		side |= SideBack
	}
	return side
}

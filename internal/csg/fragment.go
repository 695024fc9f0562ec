// Package csg resolves overlapping brushes into non-overlapping convex
// fragments.
package csg

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// sideEpsilon decides whether a fragment lies on one side of a plane.
const sideEpsilon = 0.1

// minVolume is the smallest fragment kept after a split.
const minVolume = 1.0

// Side is one face of a fragment. The plane faces out of the fragment.
type Side struct {
	Plane    int
	Material int
	Winding  geom.Winding
	// Visible is set for faces of the source brush. Faces created by
	// splitting are never drawn.
	Visible bool
	NoDraw  bool
	Sky     bool
	// OnNode is set once the side's plane has been used as a splitter.
	OnNode bool
}

// Fragment is a convex piece of a source brush.
type Fragment struct {
	Brush    *level.Brush
	Contents level.Contents
	Sides    []Side
	Bounds   geom.Bounds
}

// FromBrush converts a validated brush into a fragment.
func FromBrush(b *level.Brush) *Fragment {
	f := &Fragment{Brush: b, Contents: b.Contents, Sides: make([]Side, 0, len(b.Sides))}
	for _, s := range b.Sides {
		f.Sides = append(f.Sides, Side{
			Plane:    s.Plane,
			Material: s.Material,
			Winding:  s.Winding.Clone(),
			Visible:  true,
			NoDraw:   s.NoDraw,
			Sky:      s.Sky,
		})
	}
	f.bound()
	return f
}

// Clone returns a deep copy of f.
func (f *Fragment) Clone() *Fragment {
	c := &Fragment{Brush: f.Brush, Contents: f.Contents, Bounds: f.Bounds}
	c.Sides = make([]Side, len(f.Sides))
	for i, s := range f.Sides {
		s.Winding = s.Winding.Clone()
		c.Sides[i] = s
	}
	return c
}

func (f *Fragment) bound() {
	f.Bounds = geom.EmptyBounds()
	for _, s := range f.Sides {
		for _, p := range s.Winding {
			f.Bounds.AddPoint(p)
		}
	}
}

// Order is the declaration order of the source brush.
func (f *Fragment) Order() int {
	return f.Brush.Order
}

// Volume returns the fragment volume.
func (f *Fragment) Volume() float64 {
	var corner mgl64.Vec3
	found := false
	for _, s := range f.Sides {
		if len(s.Winding) > 0 {
			corner, found = s.Winding[0], true
			break
		}
	}
	if !found {
		return 0
	}
	var volume float64
	for _, s := range f.Sides {
		if len(s.Winding) < 3 {
			continue
		}
		d := -s.Winding.Plane().Distance(corner)
		volume += d * s.Winding.Area()
	}
	return math.Abs(volume / 3)
}

// HasPlane reports whether a side of f lies on plane pnum or its flip.
func (f *Fragment) HasPlane(pnum int) (facing int, ok bool) {
	for _, s := range f.Sides {
		if s.Plane == pnum {
			return pnum, true
		}
		if s.Plane == pnum^1 {
			return pnum ^ 1, true
		}
	}
	return 0, false
}

// Clipper splits and subtracts fragments against a shared plane set.
type Clipper struct {
	Planes   *geom.PlaneSet
	Eps      geom.Epsilon
	MaxCoord float64

	// Degenerate is called for every piece dropped as too small.
	Degenerate func(f *Fragment, msg string)
}

// NewClipper returns a clipper over planes.
func NewClipper(planes *geom.PlaneSet, eps geom.Epsilon, maxCoord float64) *Clipper {
	return &Clipper{Planes: planes, Eps: eps, MaxCoord: maxCoord}
}

func (c *Clipper) degenerate(f *Fragment, msg string) {
	if c.Degenerate != nil {
		c.Degenerate(f, msg)
	}
}

// Split cuts f by plane pnum. A fragment entirely on one side is returned
// unchanged on that side. The new faces are marked OnNode and not
// visible.
func (c *Clipper) Split(f *Fragment, pnum int) (front, back *Fragment) {
	plane := c.Planes.Plane(pnum)

	var dFront, dBack float64
	for _, s := range f.Sides {
		for _, p := range s.Winding {
			d := plane.Distance(p)
			if d > 0 && d > dFront {
				dFront = d
			}
			if d < 0 && d < dBack {
				dBack = d
			}
		}
	}
	if dFront < sideEpsilon {
		return nil, f
	}
	if dBack > -sideEpsilon {
		return f, nil
	}

	mid := geom.BaseForPlane(plane, c.MaxCoord*4)
	for _, s := range f.Sides {
		if mid == nil {
			break
		}
		mid = mid.Chop(c.Planes.Plane(s.Plane^1), 0)
	}
	if mid == nil || mid.IsTiny(c.Eps.Edge) {
		if c.mostlyOnSide(f, plane) == geom.SideFront {
			return f, nil
		}
		return nil, f
	}

	pieces := [2]*Fragment{
		{Brush: f.Brush, Contents: f.Contents},
		{Brush: f.Brush, Contents: f.Contents},
	}
	for _, s := range f.Sides {
		if s.Winding == nil {
			continue
		}
		fw, bw := s.Winding.Split(plane, 0)
		if fw != nil {
			fs := s
			fs.Winding = fw
			pieces[0].Sides = append(pieces[0].Sides, fs)
		}
		if bw != nil {
			bs := s
			bs.Winding = bw
			pieces[1].Sides = append(pieces[1].Sides, bs)
		}
	}
	for i := range pieces {
		pieces[i].bound()
		if len(pieces[i].Sides) < 3 || !c.inWorld(pieces[i].Bounds) {
			pieces[i] = nil
		}
	}
	if pieces[0] == nil || pieces[1] == nil {
		c.degenerate(f, "split not on both sides")
		if pieces[0] != nil {
			return f, nil
		}
		if pieces[1] != nil {
			return nil, f
		}
		return nil, nil
	}

	pieces[0].Sides = append(pieces[0].Sides, Side{Plane: pnum ^ 1, Material: -1, Winding: mid.Reverse(), OnNode: true})
	pieces[1].Sides = append(pieces[1].Sides, Side{Plane: pnum, Material: -1, Winding: mid.Clone(), OnNode: true})

	for i := range pieces {
		if pieces[i].Volume() < minVolume {
			c.degenerate(f, "tiny volume after clip")
			pieces[i] = nil
		}
	}
	return pieces[0], pieces[1]
}

func (c *Clipper) inWorld(b geom.Bounds) bool {
	for i := 0; i < 3; i++ {
		if b.Min[i] < -c.MaxCoord || b.Max[i] > c.MaxCoord {
			return false
		}
	}
	return true
}

func (c *Clipper) mostlyOnSide(f *Fragment, p geom.Plane) geom.Side {
	var max float64
	side := geom.SideFront
	for _, s := range f.Sides {
		for _, pt := range s.Winding {
			d := p.Distance(pt)
			if d > max {
				max = d
				side = geom.SideFront
			}
			if -d > max {
				max = -d
				side = geom.SideBack
			}
		}
	}
	return side
}

// Disjoint reports whether two fragments cannot overlap: their bounds at
// most touch or they have opposing faces on the same plane.
func (c *Clipper) Disjoint(a, b *Fragment) bool {
	for i := 0; i < 3; i++ {
		if a.Bounds.Min[i] >= b.Bounds.Max[i] || a.Bounds.Max[i] <= b.Bounds.Min[i] {
			return true
		}
	}
	for _, s := range a.Sides {
		for _, t := range b.Sides {
			if s.Plane == t.Plane^1 {
				return true
			}
		}
	}
	return false
}

// Subtract returns the pieces of a outside b. When they do not really
// intersect, a is returned unchanged.
func (c *Clipper) Subtract(a, b *Fragment) []*Fragment {
	var outside []*Fragment
	in := a
	for _, s := range b.Sides {
		if in == nil {
			break
		}
		front, back := c.Split(in, s.Plane)
		if front != nil {
			outside = append(outside, front)
		}
		in = back
	}
	if in == nil {
		return []*Fragment{a}
	}
	return outside
}

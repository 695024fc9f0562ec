package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// PlaneType speeds up axial tests.
type PlaneType uint8

// Plane types. The Any variants name the dominant axis of a non-axial
// normal.
const (
	PlaneX PlaneType = iota
	PlaneY
	PlaneZ
	PlaneAnyX
	PlaneAnyY
	PlaneAnyZ
)

// Axial reports whether the plane is perpendicular to an axis.
func (t PlaneType) Axial() bool {
	return t <= PlaneZ
}

// Plane is the set of points p where Normal·p == Dist.
type Plane struct {
	Normal mgl64.Vec3
	Dist   float64
	Type   PlaneType
}

// NewPlane builds a plane and classifies its type.
func NewPlane(normal mgl64.Vec3, dist float64) Plane {
	return Plane{Normal: normal, Dist: dist, Type: TypeForNormal(normal)}
}

// PlaneFromPoints returns the plane through three points. The normal is
// (a-b)×(c-b), so the points run clockwise seen from the front. ok is false
// for collinear points.
func PlaneFromPoints(a, b, c mgl64.Vec3) (Plane, bool) {
	n := a.Sub(b).Cross(c.Sub(b))
	l := n.Len()
	if l < 1e-9 {
		return Plane{}, false
	}
	n = n.Mul(1 / l)
	return NewPlane(n, a.Dot(n)), true
}

// TypeForNormal classifies a unit normal.
func TypeForNormal(n mgl64.Vec3) PlaneType {
	switch {
	case n[0] == 1 || n[0] == -1:
		return PlaneX
	case n[1] == 1 || n[1] == -1:
		return PlaneY
	case n[2] == 1 || n[2] == -1:
		return PlaneZ
	}
	ax, ay, az := math.Abs(n[0]), math.Abs(n[1]), math.Abs(n[2])
	if ax >= ay && ax >= az {
		return PlaneAnyX
	}
	if ay >= ax && ay >= az {
		return PlaneAnyY
	}
	return PlaneAnyZ
}

// Distance returns the signed distance of pt in front of the plane.
func (p Plane) Distance(pt mgl64.Vec3) float64 {
	return p.Normal.Dot(pt) - p.Dist
}

// Flip returns the same plane facing the other way.
func (p Plane) Flip() Plane {
	return Plane{Normal: p.Normal.Mul(-1), Dist: -p.Dist, Type: p.Type}
}

// Equal reports whether the planes coincide within eps, facing included.
func (p Plane) Equal(o Plane, eps Epsilon) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(p.Normal[i]-o.Normal[i]) >= eps.Normal {
			return false
		}
	}
	return math.Abs(p.Dist-o.Dist) < eps.Dist
}

// dominantAxis returns the index of the largest normal component.
func dominantAxis(n mgl64.Vec3) int {
	best := 0
	for i := 1; i < 3; i++ {
		if math.Abs(n[i]) > math.Abs(n[best]) {
			best = i
		}
	}
	return best
}

// PlaneSet deduplicates planes. Planes are stored in pairs: index i and
// i^1 are the same plane facing opposite ways, and the even index always
// has a positive dominant normal component.
type PlaneSet struct {
	eps    Epsilon
	planes []Plane
	hash   map[int][]int
}

// NewPlaneSet creates an empty set using eps for equality.
func NewPlaneSet(eps Epsilon) *PlaneSet {
	return &PlaneSet{eps: eps, hash: make(map[int][]int)}
}

// Len returns the number of planes, always even.
func (s *PlaneSet) Len() int { return len(s.planes) }

// Plane returns plane i.
func (s *PlaneSet) Plane(i int) Plane { return s.planes[i] }

// Planes returns the backing slice. Callers must not modify it.
func (s *PlaneSet) Planes() []Plane { return s.planes }

// Epsilon returns the tolerances the set was built with.
func (s *PlaneSet) Epsilon() Epsilon { return s.eps }

// Find returns the index of the plane (normal, dist), adding it when no
// equal plane exists yet.
func (s *PlaneSet) Find(normal mgl64.Vec3, dist float64) int {
	normal, dist = s.snap(normal, dist)
	want := Plane{Normal: normal, Dist: dist}
	h := int(math.Abs(dist))
	for d := -1; d <= 1; d++ {
		for _, idx := range s.hash[h+d] {
			if s.planes[idx].Equal(want, s.eps) {
				return idx
			}
		}
	}
	return s.add(normal, dist, h)
}

// FindPlane is Find for an existing plane value.
func (s *PlaneSet) FindPlane(p Plane) int {
	return s.Find(p.Normal, p.Dist)
}

func (s *PlaneSet) add(normal mgl64.Vec3, dist float64, h int) int {
	p := NewPlane(normal, dist)
	base := len(s.planes)
	if p.Normal[dominantAxis(p.Normal)] < 0 {
		s.planes = append(s.planes, p.Flip(), p)
	} else {
		s.planes = append(s.planes, p, p.Flip())
	}
	s.hash[h] = append(s.hash[h], base, base+1)
	if s.planes[base].Normal == normal {
		return base
	}
	return base + 1
}

func (s *PlaneSet) snap(normal mgl64.Vec3, dist float64) (mgl64.Vec3, float64) {
	for i := 0; i < 3; i++ {
		if math.Abs(normal[i]-1) < s.eps.Normal {
			normal = mgl64.Vec3{}
			normal[i] = 1
			break
		}
		if math.Abs(normal[i]+1) < s.eps.Normal {
			normal = mgl64.Vec3{}
			normal[i] = -1
			break
		}
	}
	if r := math.Round(dist); math.Abs(dist-r) < s.eps.Dist {
		dist = r
	}
	return normal, dist
}

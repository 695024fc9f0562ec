package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Merge tolerances for TryMerge.
const (
	equalEpsilon      = 0.001
	continuousEpsilon = 0.005
)

// Winding is a convex polygon. Points run clockwise seen from the front
// of the plane the winding lies on.
type Winding []mgl64.Vec3

// BaseForPlane returns a square on p large enough to cover a world of
// the given half size.
func BaseForPlane(p Plane, size float64) Winding {
	x := dominantAxis(p.Normal)
	var up mgl64.Vec3
	if x == 2 {
		up[0] = 1
	} else {
		up[2] = 1
	}
	up = up.Sub(p.Normal.Mul(up.Dot(p.Normal))).Normalize()
	org := p.Normal.Mul(p.Dist)
	right := up.Cross(p.Normal)

	up = up.Mul(size)
	right = right.Mul(size)

	return Winding{
		org.Sub(right).Add(up),
		org.Add(right).Add(up),
		org.Add(right).Sub(up),
		org.Sub(right).Sub(up),
	}
}

// Clone returns a copy of w.
func (w Winding) Clone() Winding {
	if w == nil {
		return nil
	}
	c := make(Winding, len(w))
	copy(c, w)
	return c
}

// Reverse returns w with its facing flipped.
func (w Winding) Reverse() Winding {
	r := make(Winding, len(w))
	for i := range w {
		r[i] = w[len(w)-1-i]
	}
	return r
}

// Plane returns the plane the winding lies on.
func (w Winding) Plane() Plane {
	n := w[2].Sub(w[0]).Cross(w[1].Sub(w[0])).Normalize()
	return NewPlane(n, w[0].Dot(n))
}

// Area returns the polygon area.
func (w Winding) Area() float64 {
	var total float64
	for i := 2; i < len(w); i++ {
		total += w[i-1].Sub(w[0]).Cross(w[i].Sub(w[0])).Len()
	}
	return total * 0.5
}

// Center returns the average of the points.
func (w Winding) Center() mgl64.Vec3 {
	var c mgl64.Vec3
	for _, p := range w {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(w)))
}

// Bounds returns the box around the points.
func (w Winding) Bounds() Bounds {
	b := EmptyBounds()
	for _, p := range w {
		b.AddPoint(p)
	}
	return b
}

// IsTiny reports whether fewer than three edges are longer than edge.
func (w Winding) IsTiny(edge float64) bool {
	edges := 0
	for i := range w {
		j := (i + 1) % len(w)
		if w[j].Sub(w[i]).Len() > edge {
			edges++
			if edges == 3 {
				return false
			}
		}
	}
	return true
}

// IsHuge reports whether any point lies beyond size on some axis.
func (w Winding) IsHuge(size float64) bool {
	for _, p := range w {
		for i := 0; i < 3; i++ {
			if p[i] <= -size || p[i] >= size {
				return true
			}
		}
	}
	return false
}

// Classify reports which side of p the winding lies on: SideFront,
// SideBack, SideOn or SideBoth.
func (w Winding) Classify(p Plane, eps float64) Side {
	front, back := false, false
	for _, pt := range w {
		d := p.Distance(pt)
		if d > eps {
			front = true
		} else if d < -eps {
			back = true
		}
	}
	switch {
	case front && back:
		return SideBoth
	case front:
		return SideFront
	case back:
		return SideBack
	}
	return SideOn
}

func (w Winding) sides(p Plane, eps float64) (dists []float64, sides []Side, front, back int) {
	dists = make([]float64, len(w)+1)
	sides = make([]Side, len(w)+1)
	for i, pt := range w {
		d := p.Distance(pt)
		dists[i] = d
		switch {
		case d > eps:
			sides[i] = SideFront
			front++
		case d < -eps:
			sides[i] = SideBack
			back++
		default:
			sides[i] = SideOn
		}
	}
	dists[len(w)] = dists[0]
	sides[len(w)] = sides[0]
	return dists, sides, front, back
}

func splitPoint(p Plane, a, b mgl64.Vec3, da, db float64) mgl64.Vec3 {
	t := da / (da - db)
	var mid mgl64.Vec3
	for j := 0; j < 3; j++ {
		switch p.Normal[j] {
		case 1:
			mid[j] = p.Dist
		case -1:
			mid[j] = -p.Dist
		default:
			mid[j] = a[j] + t*(b[j]-a[j])
		}
	}
	return mid
}

// Split cuts w by p. A winding with no point in front returns (nil, w)
// and one with no point behind returns (w, nil), so a winding lying on
// the plane goes to the back.
func (w Winding) Split(p Plane, eps float64) (front, back Winding) {
	dists, sides, nf, nb := w.sides(p, eps)
	if nf == 0 {
		return nil, w
	}
	if nb == 0 {
		return w, nil
	}
	front = make(Winding, 0, len(w)+4)
	back = make(Winding, 0, len(w)+4)
	for i, pt := range w {
		switch sides[i] {
		case SideOn:
			front = append(front, pt)
			back = append(back, pt)
			continue
		case SideFront:
			front = append(front, pt)
		case SideBack:
			back = append(back, pt)
		}
		if sides[i+1] == SideOn || sides[i+1] == sides[i] {
			continue
		}
		mid := splitPoint(p, pt, w[(i+1)%len(w)], dists[i], dists[i+1])
		front = append(front, mid)
		back = append(back, mid)
	}
	if len(front) < 3 {
		front = nil
	}
	if len(back) < 3 {
		back = nil
	}
	return front, back
}

// Chop returns the part of w in front of p, or nil when nothing is in
// front. A winding lying on the plane is discarded.
func (w Winding) Chop(p Plane, eps float64) Winding {
	front, _ := w.Split(p, eps)
	return front
}

// ChopKeepOn is Chop except that a winding lying entirely on the plane is
// kept.
func (w Winding) ChopKeepOn(p Plane, eps float64) Winding {
	_, _, nf, nb := w.sides(p, eps)
	if nb == 0 {
		return w
	}
	if nf == 0 {
		return nil
	}
	front, _ := w.Split(p, eps)
	return front
}

// RemoveColinear drops points that lie on the line through their
// neighbours.
func (w Winding) RemoveColinear() Winding {
	out := make(Winding, 0, len(w))
	for i := range w {
		prev := w[(i+len(w)-1)%len(w)]
		next := w[(i+1)%len(w)]
		v1 := w[i].Sub(prev)
		v2 := next.Sub(w[i])
		if v1.Len() < 1e-9 || v2.Len() < 1e-9 {
			continue
		}
		if v1.Normalize().Dot(v2.Normalize()) < 0.999 {
			out = append(out, w[i])
		}
	}
	if len(out) < 3 {
		return w
	}
	return out
}

// TryMerge joins two coplanar windings that share an edge when the
// result stays convex. normal is the facing of both windings. It returns
// nil when they cannot merge.
func TryMerge(a, b Winding, normal mgl64.Vec3) Winding {
	i, j, found := sharedEdge(a, b)
	if !found {
		return nil
	}
	p1 := a[i]
	p2 := a[(i+1)%len(a)]

	// slope at p1
	back := a[(i+len(a)-1)%len(a)]
	edgeNormal := normal.Cross(p1.Sub(back)).Normalize()
	dot := b[(j+2)%len(b)].Sub(p1).Dot(edgeNormal)
	if dot > continuousEpsilon {
		return nil
	}
	keep1 := dot < -continuousEpsilon

	// slope at p2
	back = a[(i+2)%len(a)]
	edgeNormal = normal.Cross(back.Sub(p2)).Normalize()
	dot = b[(j+len(b)-1)%len(b)].Sub(p2).Dot(edgeNormal)
	if dot > continuousEpsilon {
		return nil
	}
	keep2 := dot < -continuousEpsilon

	out := make(Winding, 0, len(a)+len(b))
	for k := (i + 1) % len(a); k != i; k = (k + 1) % len(a) {
		if k == (i+1)%len(a) && !keep2 {
			continue
		}
		out = append(out, a[k])
	}
	for l := (j + 1) % len(b); l != j; l = (l + 1) % len(b) {
		if l == (j+1)%len(b) && !keep1 {
			continue
		}
		out = append(out, b[l])
	}
	return out
}

// MergeWindings merges coplanar windings facing normal pairwise until no
// pair merges. Merged windings lose their colinear points.
func MergeWindings(ws []Winding, normal mgl64.Vec3) []Winding {
	out := append([]Winding(nil), ws...)
	for merged := true; merged; {
		merged = false
	outer:
		for i := 0; i < len(out); i++ {
			for j := i + 1; j < len(out); j++ {
				m := TryMerge(out[i], out[j], normal)
				if m == nil {
					continue
				}
				out[i] = m.RemoveColinear()
				out = append(out[:j], out[j+1:]...)
				merged = true
				break outer
			}
		}
	}
	return out
}

// sharedEdge finds edge a[i]->a[i+1] that b walks in reverse as
// b[j]->b[j+1].
func sharedEdge(a, b Winding) (int, int, bool) {
	for i := range a {
		p1 := a[i]
		p2 := a[(i+1)%len(a)]
		for j := range b {
			p3 := b[j]
			p4 := b[(j+1)%len(b)]
			if nearlyEqual(p1, p4) && nearlyEqual(p2, p3) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func nearlyEqual(a, b mgl64.Vec3) bool {
	for k := 0; k < 3; k++ {
		if math.Abs(a[k]-b[k]) > equalEpsilon {
			return false
		}
	}
	return true
}

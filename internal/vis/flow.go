package vis

import (
	"context"
	"math"

	"github.com/bits-and-blooms/bitset"
	"github.com/gammazero/deque"

	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// vportal is one direction of a cluster portal. It sits in the list of
// owner and its plane normal points into dest.
type vportal struct {
	owner   int
	dest    int
	plane   geom.Plane
	winding geom.Winding

	flood *bitset.BitSet // portals a flood through front facing portals reaches
	vis   *bitset.BitSet // portals seen through the flow
}

// pstack is one step of the flow through a chain of portals.
type pstack struct {
	mightsee *bitset.BitSet
	source   geom.Winding
	pass     geom.Winding
}

type flow struct {
	ctx   context.Context
	base  *vportal
	plane geom.Plane
	calls int
}

// checkEvery is how many flow steps run between context checks.
const checkEvery = 64

// basePortalVis finds the portals p might see: those partly in front of p
// that face away from it, flooded from the cluster p leads into.
func (sv *solver) basePortalVis(pnum int) {
	p := sv.portals[pnum]
	n := uint(len(sv.portals))
	front := bitset.New(n)
	for j, tp := range sv.portals {
		if j == pnum {
			continue
		}
		if !anyBeyond(tp.winding, p.plane, sv.eps) {
			continue
		}
		if !anyBeyond(p.winding, tp.plane.Flip(), sv.eps) {
			continue
		}
		front.Set(uint(j))
	}

	p.flood = bitset.New(n)
	p.vis = bitset.New(n)
	var todo deque.Deque[int]
	todo.PushBack(p.dest)
	for todo.Len() > 0 {
		c := todo.PopFront()
		for _, j := range sv.byCluster[c] {
			if !front.Test(uint(j)) || p.flood.Test(uint(j)) {
				continue
			}
			p.flood.Set(uint(j))
			todo.PushBack(sv.portals[j].dest)
		}
	}
}

// anyBeyond reports whether some point of w lies in front of p.
func anyBeyond(w geom.Winding, p geom.Plane, eps float64) bool {
	for _, pt := range w {
		if p.Distance(pt) > eps {
			return true
		}
	}
	return false
}

// portalFlow refines the portals the base portal can see.
func (sv *solver) portalFlow(ctx context.Context, pnum int) error {
	p := sv.portals[pnum]
	f := &flow{ctx: ctx, base: p, plane: p.plane}
	head := &pstack{mightsee: p.flood.Clone(), source: p.winding}
	return sv.leafFlow(f, p.dest, head)
}

func (sv *solver) leafFlow(f *flow, cluster int, prev *pstack) error {
	f.calls++
	if f.calls%checkEvery == 0 {
		if err := expired(f.ctx); err != nil {
			return err
		}
	}
	vis := f.base.vis
	for _, pnum := range sv.byCluster[cluster] {
		if !prev.mightsee.Test(uint(pnum)) {
			continue
		}
		p := sv.portals[pnum]

		// skip portals that cannot show anything new
		might := prev.mightsee.Intersection(p.flood)
		if !might.Difference(vis).Any() && vis.Test(uint(pnum)) {
			continue
		}

		pass := p.winding.ChopKeepOn(f.plane, sv.eps)
		if pass == nil {
			continue
		}
		source := prev.source.ChopKeepOn(p.plane.Flip(), sv.eps)
		if source == nil {
			continue
		}

		if prev.pass != nil {
			// the second cluster can only be blocked if coplanar
			pass = clipToSeparators(source, prev.pass, pass, false, sv.eps)
			if pass == nil {
				continue
			}
			pass = clipToSeparators(prev.pass, source, pass, true, sv.eps)
			if pass == nil {
				continue
			}
		}

		vis.Set(uint(pnum))
		next := &pstack{mightsee: might, source: source, pass: pass}
		if err := sv.leafFlow(f, p.dest, next); err != nil {
			return err
		}
	}
	return nil
}

// clipToSeparators clips target by every plane through an edge of source
// and a point of pass that has source behind it and pass in front. With
// flip the back side is kept, for when source and pass trade places.
func clipToSeparators(source, pass, target geom.Winding, flip bool, eps float64) geom.Winding {
	for i := range source {
		l := (i + 1) % len(source)
		v1 := source[l].Sub(source[i])

		for j := range pass {
			v2 := pass[j].Sub(source[i])
			normal := v1.Cross(v2)
			length := normal.Dot(normal)
			if length < eps {
				continue
			}
			plane := geom.NewPlane(normal.Mul(1/math.Sqrt(length)), 0)
			plane.Dist = pass[j].Dot(plane.Normal)

			// which side of the plane is source on
			flipTest, found := false, false
			for k := range source {
				if k == i || k == l {
					continue
				}
				d := plane.Distance(source[k])
				if d < -eps {
					found = true
					break
				}
				if d > eps {
					flipTest, found = true, true
					break
				}
			}
			if !found {
				continue // coplanar with source
			}
			if flipTest {
				plane = plane.Flip()
			}

			// every point of pass must be in front
			front, separating := 0, true
			for k := range pass {
				if k == j {
					continue
				}
				d := plane.Distance(pass[k])
				if d < -eps {
					separating = false
					break
				}
				if d > eps {
					front++
				}
			}
			if !separating || front == 0 {
				continue
			}

			if flip {
				plane = plane.Flip()
			}
			if target = target.ChopKeepOn(plane, eps); target == nil {
				return nil
			}
		}
	}
	return target
}

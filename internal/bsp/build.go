package bsp

import (
	"context"
	"math"

	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Split scoring weights.
const (
	weightFacing     = 5
	weightSplit      = 5
	weightAxial      = 5
	weightNearAxial  = 10
	weightEpsilon    = 1000
	splitEpsilon     = 0.1
	nearAxialCosine  = 0.999
	epsilonBrushDist = 1.0
)

type builder struct {
	s      *session.Session
	tree   *Tree
	clip   *csg.Clipper
	max    int
	forced int
	tested map[int]bool
	splits int
	size   float64
}

// Build partitions structural fragments into a tree. Leaves that no
// remaining side can split take the strongest contents of their
// fragments. Detail fragments are then filtered into the leaves.
func Build(ctx context.Context, s *session.Session, planes *geom.PlaneSet, bounds geom.Bounds, world, detail []*csg.Fragment) (*Tree, error) {
	done := s.Begin(session.StageBSP)
	defer done()

	b := &builder{
		s:      s,
		tree:   &Tree{Planes: planes, Bounds: bounds},
		clip:   csg.NewClipper(planes, s.Epsilon(), s.Config.Compile.MaxWorldCoord),
		max:    s.Config.Compile.MaxDepth,
		tested: make(map[int]bool),
	}
	b.size = b.tree.size()
	b.clip.Degenerate = func(f *csg.Fragment, msg string) {
		s.Degenerate(session.StageBSP, session.BrushRef(f.Brush.Entity, f.Brush.Index, f.Brush.Line), "%s", msg)
	}

	frags := make([]*csg.Fragment, len(world))
	for i, f := range world {
		frags[i] = f.Clone()
	}
	root, err := b.build(ctx, frags, BoxPlanes(bounds), NoNode, 0)
	if err != nil {
		return nil, err
	}
	b.tree.Root = root

	if err := b.filterDetail(ctx, detail); err != nil {
		return nil, err
	}
	if b.forced > 0 {
		s.MarkDegraded(session.StageBSP, "%d leaves forced at depth %d", b.forced, b.max)
	}

	s.SetCount("nodes", len(b.tree.Nodes)-len(b.tree.Leaves))
	s.SetCount("leaves", len(b.tree.Leaves))
	s.SetCount("splits", b.splits)
	return b.tree, nil
}

func (b *builder) alloc(parent NodeID, depth int) NodeID {
	b.tree.Nodes = append(b.tree.Nodes, Node{
		Plane:    -1,
		Children: [2]NodeID{NoNode, NoNode},
		Parent:   parent,
		Depth:    depth,
		Leaf:     -1,
		Cluster:  -1,
	})
	return NodeID(len(b.tree.Nodes) - 1)
}

// build partitions frags inside region, the outward planes bounding the
// node.
func (b *builder) build(ctx context.Context, frags []*csg.Fragment, region []geom.Plane, parent NodeID, depth int) (NodeID, error) {
	if err := ctx.Err(); err != nil {
		return NoNode, err
	}
	id := b.alloc(parent, depth)
	bounds := geom.EmptyBounds()
	for _, f := range frags {
		bounds = bounds.Union(f.Bounds)
	}
	b.tree.Nodes[id].Bounds = bounds

	pnum, ok := b.selectSplit(frags, region)
	if ok && depth >= b.max {
		b.forced++
		b.s.Warn(session.StageBSP, session.NoRef, "tree depth %d reached, %d fragments forced into a leaf", b.max, len(frags))
		ok = false
	}
	if !ok {
		b.makeLeaf(id, frags)
		return id, nil
	}

	b.tree.Nodes[id].Plane = pnum
	front, back := b.splitList(frags, pnum)
	plane := b.tree.Planes.Plane(pnum)
	region = region[:len(region):len(region)]

	child, err := b.build(ctx, front, append(region, plane.Flip()), id, depth+1)
	if err != nil {
		return NoNode, err
	}
	b.tree.Nodes[id].Children[0] = child
	child, err = b.build(ctx, back, append(region, plane), id, depth+1)
	if err != nil {
		return NoNode, err
	}
	b.tree.Nodes[id].Children[1] = child
	return id, nil
}

func (b *builder) makeLeaf(id NodeID, frags []*csg.Fragment) {
	n := &b.tree.Nodes[id]
	n.Leaf = len(b.tree.Leaves)
	b.tree.Leaves = append(b.tree.Leaves, id)
	n.Fragments = frags
	for _, f := range frags {
		if f.Contents.Rank() > n.Contents.Rank() {
			n.Contents = f.Contents
		}
	}
}

// selectSplit picks the splitting plane among the sides not yet used on
// this path. Visible faces are tried first. Planes that leave the least
// open space of the node uncovered win, so walls are cut before the
// mouths between rooms and rooms are never sliced through. Among those
// the score favours planes that many fragments face, few fragments cross
// and that balance the list; axial planes get a bonus and planes that
// nearly touch a fragment are heavily penalised. Ties go to the side of
// the largest fragment, then to the first one seen. Planes that miss the
// node region are skipped.
func (b *builder) selectSplit(frags []*csg.Fragment, region []geom.Plane) (int, bool) {
	planes := b.tree.Planes
	best := -1
	bestOpen := math.MaxInt
	bestValue := math.MinInt
	bestVolume := -1.0

	for pass := 0; pass < 2 && best < 0; pass++ {
		clear(b.tested)
		for _, f := range frags {
			volume := -1.0
			for _, side := range f.Sides {
				if side.OnNode || side.Winding == nil {
					continue
				}
				if pass == 0 && !side.Visible {
					continue
				}
				pnum := side.Plane &^ 1
				if b.tested[pnum] {
					continue
				}
				b.tested[pnum] = true

				plane := planes.Plane(pnum)
				section := b.section(plane, region)
				if section == nil {
					continue
				}
				var front, back, both, facing, splits, epsilonBrushes int
				var cover [2]float64
				crossed := 0.0
				for _, g := range frags {
					s, n, eps := b.test(g, pnum)
					splits += n
					if eps {
						epsilonBrushes++
					}
					if s&geom.SideFacing != 0 {
						facing++
						if s&geom.SideBack != 0 {
							cover[1] += faceArea(g, pnum)
						} else {
							cover[0] += faceArea(g, pnum)
						}
					}
					switch s &^ geom.SideFacing {
					case geom.SideFront:
						front++
					case geom.SideBack:
						back++
					case geom.SideBoth:
						both++
						crossed += b.crossSection(section, g)
					}
				}
				open := int(math.Round(section.Area() - crossed - max(cover[0], cover[1])))
				if open < 0 {
					open = 0
				}

				value := weightFacing*facing - weightSplit*splits - abs(front-back)
				if plane.Type.Axial() {
					value += weightAxial
				} else if nearAxial(plane) {
					value -= weightNearAxial
				}
				value -= epsilonBrushes * weightEpsilon

				if volume < 0 {
					volume = f.Volume()
				}
				if open < bestOpen || (open == bestOpen && (value > bestValue || (value == bestValue && volume > bestVolume))) {
					best, bestOpen, bestValue, bestVolume = pnum, open, value, volume
				}
			}
		}
	}
	if best < 0 {
		return 0, false
	}
	b.splits++
	return best, true
}

// section returns the part of plane p inside region, or nil when p only
// touches it.
func (b *builder) section(p geom.Plane, region []geom.Plane) geom.Winding {
	w := geom.BaseForPlane(p, b.size)
	on := b.s.Epsilon().On
	for _, q := range region {
		if w = w.Chop(q.Flip(), on); w == nil {
			return nil
		}
	}
	return w
}

// crossSection returns the area of section inside fragment f.
func (b *builder) crossSection(section geom.Winding, f *csg.Fragment) float64 {
	w := section
	for _, s := range f.Sides {
		if w = w.Chop(b.tree.Planes.Plane(s.Plane).Flip(), 0); w == nil {
			return 0
		}
	}
	return w.Area()
}

func faceArea(f *csg.Fragment, pnum int) float64 {
	a := 0.0
	for _, s := range f.Sides {
		if s.Plane&^1 == pnum && len(s.Winding) >= 3 {
			a += s.Winding.Area()
		}
	}
	return a
}

func nearAxial(p geom.Plane) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(p.Normal[i]) > nearAxialCosine {
			return true
		}
	}
	return false
}

// test classifies a fragment against plane pnum. It also returns the
// number of its faces the plane would cut, and whether the plane passes
// within a unit of the fragment without cleanly clearing it.
func (b *builder) test(f *csg.Fragment, pnum int) (side geom.Side, splits int, epsilonBrush bool) {
	if facing, ok := f.HasPlane(pnum); ok {
		if facing == pnum {
			return geom.SideBack | geom.SideFacing, 0, false
		}
		return geom.SideFront | geom.SideFacing, 0, false
	}

	plane := b.tree.Planes.Plane(pnum)
	side = f.Bounds.OnPlaneSide(plane, 0)
	if side == 0 {
		side = geom.SideFront
	}
	if side != geom.SideBoth {
		return side, 0, false
	}

	var dFront, dBack float64
	for _, s := range f.Sides {
		if s.Winding == nil {
			continue
		}
		var front, back bool
		for _, p := range s.Winding {
			d := plane.Distance(p)
			if d > dFront {
				dFront = d
			}
			if d < dBack {
				dBack = d
			}
			if d > splitEpsilon {
				front = true
			}
			if d < -splitEpsilon {
				back = true
			}
		}
		if front && back && !s.NoDraw {
			splits++
		}
	}
	if (dFront > 0 && dFront < epsilonBrushDist) || (dBack < 0 && dBack > -epsilonBrushDist) {
		epsilonBrush = true
	}
	return side, splits, epsilonBrush
}

// splitList distributes fragments to the two sides of pnum, cutting the
// ones that cross it. Sides lying on the plane are marked used.
func (b *builder) splitList(frags []*csg.Fragment, pnum int) (front, back []*csg.Fragment) {
	for _, f := range frags {
		s, _, _ := b.test(f, pnum)
		if s&^geom.SideFacing == geom.SideBoth {
			fr, bk := b.clip.Split(f, pnum)
			if fr != nil {
				front = append(front, fr)
			}
			if bk != nil {
				back = append(back, bk)
			}
			continue
		}
		if s&geom.SideFacing != 0 {
			for i := range f.Sides {
				if f.Sides[i].Plane&^1 == pnum {
					f.Sides[i].OnNode = true
				}
			}
		}
		if s&geom.SideFront != 0 {
			front = append(front, f)
		}
		if s&geom.SideBack != 0 {
			back = append(back, f)
		}
	}
	return front, back
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// filterDetail pushes detail fragments down the finished tree, cutting
// them at every node they cross, and marks the leaves they reach.
func (b *builder) filterDetail(ctx context.Context, detail []*csg.Fragment) error {
	for _, f := range detail {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.filter(f.Clone(), b.tree.Root)
	}
	return nil
}

func (b *builder) filter(f *csg.Fragment, id NodeID) {
	if f == nil {
		return
	}
	n := &b.tree.Nodes[id]
	if n.IsLeaf() {
		if n.Contents.Opaque() {
			return
		}
		n.Fragments = append(n.Fragments, f)
		if f.Contents.Rank() > n.Contents.Rank() {
			n.Contents = f.Contents
		}
		return
	}
	front, back := b.clip.Split(f, n.Plane)
	children := n.Children
	b.filter(front, children[0])
	b.filter(back, children[1])
}

package bake

import (
	"sort"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// NoLeaf is the leaf of model surfaces, which move and belong to no leaf.
const NoLeaf = -1

// Surface is a set of coplanar windings sharing a material, a leaf and a
// model.
type Surface struct {
	Material int
	Plane    int
	Leaf     int
	Model    int // 0 for the world
	Windings []geom.Winding
	Bounds   geom.Bounds
}

type surfaceKey struct {
	model    int
	leaf     int
	material int
	plane    int
}

type surfaceSet struct {
	groups map[surfaceKey][]geom.Winding
	keys   []surfaceKey
}

func newSurfaceSet() *surfaceSet {
	return &surfaceSet{groups: make(map[surfaceKey][]geom.Winding)}
}

func (ss *surfaceSet) add(k surfaceKey, w geom.Winding) {
	if _, ok := ss.groups[k]; !ok {
		ss.keys = append(ss.keys, k)
	}
	ss.groups[k] = append(ss.groups[k], w)
}

// surfaces returns the collected surfaces ordered by model, leaf,
// material and plane.
func (ss *surfaceSet) surfaces(planes *geom.PlaneSet, merge bool) []Surface {
	sort.Slice(ss.keys, func(i, j int) bool {
		a, b := ss.keys[i], ss.keys[j]
		switch {
		case a.model != b.model:
			return a.model < b.model
		case a.leaf != b.leaf:
			return a.leaf < b.leaf
		case a.material != b.material:
			return a.material < b.material
		}
		return a.plane < b.plane
	})
	out := make([]Surface, 0, len(ss.keys))
	for _, k := range ss.keys {
		ws := ss.groups[k]
		if merge {
			ws = geom.MergeWindings(ws, planes.Plane(k.plane).Normal)
		}
		b := geom.EmptyBounds()
		for _, w := range ws {
			b = b.Union(w.Bounds())
		}
		out = append(out, Surface{
			Material: k.material,
			Plane:    k.plane,
			Leaf:     k.leaf,
			Model:    k.model,
			Windings: ws,
			Bounds:   b,
		})
	}
	return out
}

// worldFaces pushes the visible faces of world fragments into the tree.
// The pieces landing in passable leaves are kept; faces against solid
// are hidden.
func (b *baker) worldFaces(frags []*csg.Fragment) {
	for _, f := range frags {
		for _, side := range f.Sides {
			side := side
			if !b.drawn(side) {
				continue
			}
			b.filter(b.tree.Root, side.Winding, side.Plane, func(leaf int, w geom.Winding) {
				if !b.tree.LeafNode(leaf).Contents.Passable() {
					b.hidden++
					return
				}
				b.set.add(surfaceKey{leaf: leaf, material: side.Material, plane: side.Plane}, w)
			})
		}
	}
}

// modelFaces collects the visible faces of a brush model.
func (b *baker) modelFaces(model int, frags []*csg.Fragment) {
	for _, f := range frags {
		for _, side := range f.Sides {
			if !b.drawn(side) {
				continue
			}
			b.set.add(surfaceKey{model: model, leaf: NoLeaf, material: side.Material, plane: side.Plane}, side.Winding)
		}
	}
}

// patchFaces adds patch triangles. World patch triangles go to the leaf
// holding their centre and are dropped inside solid.
func (b *baker) patchFaces(p *level.Patch, model int) {
	if p.NoDraw {
		b.nodraw += len(p.Triangles)
		return
	}
	for _, tri := range p.Triangles {
		pnum := b.tree.Planes.FindPlane(tri.Plane())
		if model != 0 {
			b.set.add(surfaceKey{model: model, leaf: NoLeaf, material: p.Material, plane: pnum}, tri)
			continue
		}
		leaf := b.tree.PointInLeaf(tri.Center())
		if !b.tree.LeafNode(leaf).Contents.Passable() {
			b.hidden++
			continue
		}
		b.set.add(surfaceKey{leaf: leaf, material: p.Material, plane: pnum}, tri)
	}
}

func (b *baker) drawn(side csg.Side) bool {
	if !side.Visible || side.Winding == nil {
		return false
	}
	if side.NoDraw || b.lvl.MaterialNoDraw(side.Material) {
		b.nodraw++
		return false
	}
	return true
}

// filter cuts w by the tree below id and hands each piece to leaf. A
// piece lying on a node plane follows the side its plane faces.
func (b *baker) filter(id bsp.NodeID, w geom.Winding, pnum int, leaf func(int, geom.Winding)) {
	n := b.tree.Node(id)
	if n.IsLeaf() {
		leaf(n.Leaf, w)
		return
	}
	split := b.tree.Planes.Plane(n.Plane)
	if w.Classify(split, b.eps.On) == geom.SideOn {
		if b.tree.Planes.Plane(pnum).Normal.Dot(split.Normal) > 0 {
			b.filter(n.Children[0], w, pnum, leaf)
		} else {
			b.filter(n.Children[1], w, pnum, leaf)
		}
		return
	}
	front, back := w.Split(split, b.eps.On)
	if front != nil {
		b.filter(n.Children[0], front, pnum, leaf)
	}
	if back != nil {
		b.filter(n.Children[1], back, pnum, leaf)
	}
}

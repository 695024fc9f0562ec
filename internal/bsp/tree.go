// Package bsp builds the binary space partition of the structural world
// fragments.
package bsp

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// NodeID indexes Tree.Nodes.
type NodeID int32

// NoNode is the parent of the root.
const NoNode NodeID = -1

// Node is an internal node or a leaf. Internal nodes have Leaf == -1.
type Node struct {
	Plane    int // canonical (even) plane index; -1 on leaves
	Children [2]NodeID
	Parent   NodeID
	Depth    int
	Bounds   geom.Bounds

	Leaf      int
	Contents  level.Contents
	Cluster   int
	Fragments []*csg.Fragment
	// Portals lists portal ids touching the leaf, filled by the portal
	// stage.
	Portals []int
}

// IsLeaf reports whether n is a leaf.
func (n *Node) IsLeaf() bool {
	return n.Leaf >= 0
}

// Tree is a node arena. Nodes are stored in pre-order, so a child always
// has a larger id than its parent.
type Tree struct {
	Planes *geom.PlaneSet
	Nodes  []Node
	Leaves []NodeID // leaf number to node
	Root   NodeID
	Bounds geom.Bounds
}

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node {
	return &t.Nodes[id]
}

// LeafNode returns the node of a leaf number.
func (t *Tree) LeafNode(leaf int) *Node {
	return &t.Nodes[t.Leaves[leaf]]
}

// NumLeaves returns the number of leaves.
func (t *Tree) NumLeaves() int {
	return len(t.Leaves)
}

// PointInLeaf returns the leaf number holding p. Points on a plane go to
// the back.
func (t *Tree) PointInLeaf(p mgl64.Vec3) int {
	id := t.Root
	for {
		n := &t.Nodes[id]
		if n.IsLeaf() {
			return n.Leaf
		}
		if t.Planes.Plane(n.Plane).Distance(p) > 0 {
			id = n.Children[0]
		} else {
			id = n.Children[1]
		}
	}
}

// LeafPlanes returns the planes bounding a leaf, facing out of it: the
// split planes on its path from the root followed by the world bounds.
func (t *Tree) LeafPlanes(leaf int) []geom.Plane {
	var out []geom.Plane
	id := t.Leaves[leaf]
	for {
		parent := t.Nodes[id].Parent
		if parent == NoNode {
			break
		}
		p := t.Planes.Plane(t.Nodes[parent].Plane)
		if t.Nodes[parent].Children[0] == id {
			p = p.Flip()
		}
		out = append(out, p)
		id = parent
	}
	return append(out, BoxPlanes(t.Bounds)...)
}

// BoxPlanes returns the six outward planes of a box.
func BoxPlanes(b geom.Bounds) []geom.Plane {
	out := make([]geom.Plane, 0, 6)
	for i := 0; i < 3; i++ {
		var n mgl64.Vec3
		n[i] = 1
		out = append(out, geom.NewPlane(n, b.Max[i]))
		n[i] = -1
		out = append(out, geom.NewPlane(n, -b.Min[i]))
	}
	return out
}

// Polytope returns the faces of the convex region behind every plane.
// Planes equal within eps to an earlier one are ignored.
func Polytope(planes []geom.Plane, eps geom.Epsilon, size float64) []geom.Winding {
	var uniq []geom.Plane
next:
	for _, p := range planes {
		for _, u := range uniq {
			if u.Equal(p, eps) {
				continue next
			}
		}
		uniq = append(uniq, p)
	}

	var faces []geom.Winding
	for i, p := range uniq {
		w := geom.BaseForPlane(p, size)
		for j, q := range uniq {
			if i == j {
				continue
			}
			if w = w.Chop(q.Flip(), 0); w == nil {
				break
			}
		}
		if w != nil {
			faces = append(faces, w)
		}
	}
	return faces
}

// LeafBounds returns the bounds of a leaf region.
func (t *Tree) LeafBounds(leaf int, eps geom.Epsilon) geom.Bounds {
	b := geom.EmptyBounds()
	for _, w := range Polytope(t.LeafPlanes(leaf), eps, t.size()) {
		for _, p := range w {
			b.AddPoint(p)
		}
	}
	return b
}

func (t *Tree) size() float64 {
	s := t.Bounds.Size()
	m := s[0]
	if s[1] > m {
		m = s[1]
	}
	if s[2] > m {
		m = s[2]
	}
	c := t.Bounds.Center()
	for i := 0; i < 3; i++ {
		if c[i] < 0 {
			m += -c[i]
		} else {
			m += c[i]
		}
	}
	return m * 2
}

// Package portal builds the portal graph of a tree, checks it for leaks,
// fills unreachable space and groups leaves into clusters.
package portal

import (
	"context"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Outside is the leaf number of the region beyond the world bounds.
const Outside = -1

// outsideNode stands for the outside region while portals are built.
const outsideNode bsp.NodeID = -2

// Clip tolerances while carving node portals.
const (
	baseEpsilon  = 0.001
	splitEpsilon = 0.001
)

// Portal is the boundary between two adjacent leaves.
type Portal struct {
	Plane   int // plane index, facing Leaves[0]
	Leaves  [2]int
	Node    bsp.NodeID // node that produced it, bsp.NoNode for the world bounds
	Winding geom.Winding
}

// Graph is the portal adjacency of a tree's leaves.
type Graph struct {
	Tree    *bsp.Tree
	Portals []Portal
	// Adjacency holds the portal ids of each leaf; OutsidePortals those
	// of the outside region.
	Adjacency      [][]int
	OutsidePortals []int
	// Filled marks leaves made solid by FillOutside.
	Filled []bool
}

// Other returns the leaf on the other side of portal id from leaf.
func (g *Graph) Other(id, leaf int) int {
	p := &g.Portals[id]
	if p.Leaves[0] == leaf {
		return p.Leaves[1]
	}
	return p.Leaves[0]
}

// portalsOf returns the portal ids touching leaf, which may be Outside.
func (g *Graph) portalsOf(leaf int) []int {
	if leaf == Outside {
		return g.OutsidePortals
	}
	return g.Adjacency[leaf]
}

// Passable reports whether a flood may enter leaf.
func (g *Graph) Passable(leaf int) bool {
	if leaf == Outside {
		return true
	}
	return g.Tree.LeafNode(leaf).Contents.Passable()
}

type buildPortal struct {
	plane geom.Plane
	pnum  int
	node  bsp.NodeID
	nodes [2]bsp.NodeID
	w     geom.Winding
	dead  bool
}

type generator struct {
	tree    *bsp.Tree
	eps     geom.Epsilon
	size    float64
	portals []*buildPortal
	lists   [][]int
	outside []int
	tiny    int
}

// Generate builds the portals of a finished tree. The outside region is
// bounded by portals lying exactly on the world bounds, so open space past
// the outermost brushes belongs to it.
func Generate(ctx context.Context, s *session.Session, tree *bsp.Tree) (*Graph, error) {
	done := s.Begin(session.StagePortal)
	defer done()

	g := &generator{
		tree:  tree,
		eps:   s.Epsilon(),
		size:  s.Config.Compile.MaxWorldCoord * 4,
		lists: make([][]int, len(tree.Nodes)),
	}
	g.headnodePortals()
	if err := g.treePortals(ctx, tree.Root); err != nil {
		return nil, err
	}
	graph := g.graph()

	s.SetCount("portals", len(graph.Portals))
	if g.tiny > 0 {
		s.Degenerate(session.StagePortal, session.NoRef, "%d tiny portals dropped", g.tiny)
	}
	return graph, nil
}

func (g *generator) list(id bsp.NodeID) *[]int {
	if id == outsideNode {
		return &g.outside
	}
	return &g.lists[id]
}

func (g *generator) add(p *buildPortal, front, back bsp.NodeID) int {
	id := len(g.portals)
	g.portals = append(g.portals, p)
	g.attach(id, front, back)
	return id
}

func (g *generator) attach(id int, front, back bsp.NodeID) {
	p := g.portals[id]
	p.nodes = [2]bsp.NodeID{front, back}
	l := g.list(front)
	*l = append(*l, id)
	l = g.list(back)
	*l = append(*l, id)
}

func (g *generator) detach(id int) {
	for _, n := range g.portals[id].nodes {
		l := g.list(n)
		if i := slices.Index(*l, id); i >= 0 {
			*l = slices.Delete(*l, i, i+1)
		}
	}
}

// headnodePortals surrounds the root with six inward facing portals to
// the outside.
func (g *generator) headnodePortals() {
	b := g.tree.Bounds
	var planes [6]geom.Plane
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			var n mgl64.Vec3
			var d float64
			if j == 0 {
				n[i], d = 1, b.Min[i]
			} else {
				n[i], d = -1, -b.Max[i]
			}
			planes[j*3+i] = geom.NewPlane(n, d)
		}
	}
	for i, p := range planes {
		w := geom.BaseForPlane(p, g.size)
		for j, q := range planes {
			if i != j && w != nil {
				w = w.Chop(q, g.eps.On)
			}
		}
		if w == nil {
			continue
		}
		g.add(&buildPortal{
			plane: p,
			pnum:  g.tree.Planes.FindPlane(p),
			node:  bsp.NoNode,
			w:     w,
		}, g.tree.Root, outsideNode)
	}
}

func (g *generator) treePortals(ctx context.Context, id bsp.NodeID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := g.tree.Node(id)
	if n.IsLeaf() {
		return nil
	}
	g.nodePortal(id)
	g.splitNodePortals(id)
	children := n.Children
	if err := g.treePortals(ctx, children[0]); err != nil {
		return err
	}
	return g.treePortals(ctx, children[1])
}

// nodePortal creates the portal on a node's plane: its base winding cut
// by every ancestor plane and by the portals already on the node.
func (g *generator) nodePortal(id bsp.NodeID) {
	nodes := g.tree.Nodes
	planes := g.tree.Planes
	plane := planes.Plane(nodes[id].Plane)

	w := geom.BaseForPlane(plane, g.size)
	for child, parent := id, nodes[id].Parent; parent != bsp.NoNode; child, parent = parent, nodes[parent].Parent {
		pp := planes.Plane(nodes[parent].Plane)
		if nodes[parent].Children[1] == child {
			pp = pp.Flip()
		}
		if w = w.Chop(pp, baseEpsilon); w == nil {
			return
		}
	}
	for _, pid := range *g.list(id) {
		p := g.portals[pid]
		pp := p.plane
		if p.nodes[1] == id {
			pp = pp.Flip()
		}
		if w = w.Chop(pp, g.eps.On); w == nil {
			return
		}
	}
	if w.IsTiny(g.eps.Edge) {
		g.tiny++
		return
	}
	g.add(&buildPortal{
		plane: plane,
		pnum:  nodes[id].Plane,
		node:  id,
		w:     w,
	}, nodes[id].Children[0], nodes[id].Children[1])
}

// splitNodePortals moves the portals of a node onto its children,
// cutting the ones that cross the node plane.
func (g *generator) splitNodePortals(id bsp.NodeID) {
	n := g.tree.Node(id)
	plane := g.tree.Planes.Plane(n.Plane)
	front, back := n.Children[0], n.Children[1]

	for _, pid := range slices.Clone(*g.list(id)) {
		p := g.portals[pid]
		side := 0
		if p.nodes[1] == id {
			side = 1
		}
		other := p.nodes[1-side]
		g.detach(pid)

		place := func(id int, child bsp.NodeID) {
			if side == 0 {
				g.attach(id, child, other)
			} else {
				g.attach(id, other, child)
			}
		}

		if p.w.Classify(plane, splitEpsilon) == geom.SideOn {
			// the part of the node touching the portal lies on the side
			// the portal faces from this node
			facing := p.plane.Normal.Dot(plane.Normal) > 0
			if facing == (side == 0) {
				place(pid, front)
			} else {
				place(pid, back)
			}
			continue
		}

		fw, bw := p.w.Split(plane, splitEpsilon)
		if fw != nil && fw.IsTiny(g.eps.Edge) {
			fw = nil
			g.tiny++
		}
		if bw != nil && bw.IsTiny(g.eps.Edge) {
			bw = nil
			g.tiny++
		}
		switch {
		case fw == nil && bw == nil:
			p.dead = true
		case fw == nil:
			place(pid, back)
		case bw == nil:
			place(pid, front)
		default:
			p.w = fw
			place(pid, front)
			np := &buildPortal{plane: p.plane, pnum: p.pnum, node: p.node, w: bw}
			g.portals = append(g.portals, np)
			place(len(g.portals)-1, back)
		}
	}
}

// graph converts the build state into leaf adjacency.
func (g *generator) graph() *Graph {
	tree := g.tree
	out := &Graph{
		Tree:      tree,
		Adjacency: make([][]int, tree.NumLeaves()),
		Filled:    make([]bool, tree.NumLeaves()),
	}
	leafOf := func(id bsp.NodeID) int {
		if id == outsideNode {
			return Outside
		}
		return tree.Node(id).Leaf
	}
	for _, p := range g.portals {
		if p.dead || !g.isLeaf(p.nodes[0]) || !g.isLeaf(p.nodes[1]) {
			continue
		}
		id := len(out.Portals)
		out.Portals = append(out.Portals, Portal{
			Plane:   p.pnum,
			Leaves:  [2]int{leafOf(p.nodes[0]), leafOf(p.nodes[1])},
			Node:    p.node,
			Winding: p.w,
		})
		for _, l := range out.Portals[id].Leaves {
			if l == Outside {
				out.OutsidePortals = append(out.OutsidePortals, id)
			} else {
				out.Adjacency[l] = append(out.Adjacency[l], id)
			}
		}
	}
	for leaf := range out.Adjacency {
		n := tree.LeafNode(leaf)
		n.Portals = out.Adjacency[leaf]
		if len(n.Portals) == 0 {
			continue
		}
		b := geom.EmptyBounds()
		for _, id := range n.Portals {
			for _, pt := range out.Portals[id].Winding {
				b.AddPoint(pt)
			}
		}
		n.Bounds = b
	}
	return out
}

func (g *generator) isLeaf(id bsp.NodeID) bool {
	return id == outsideNode || g.tree.Node(id).IsLeaf()
}

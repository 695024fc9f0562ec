package portal

import (
	"context"
	"sort"

	"github.com/gammazero/deque"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// NoCluster is the cluster of opaque leaves.
const NoCluster = -1

// ClusterPortal joins two clusters. Plane faces Clusters[0].
type ClusterPortal struct {
	Plane    int
	Clusters [2]int
	Winding  geom.Winding
}

// Clusters groups passable leaves into convex regions for visibility.
type Clusters struct {
	LeafCluster []int
	Leaves      [][]int
	Portals     []ClusterPortal
	// Adjacency holds the cluster portal ids touching each cluster.
	Adjacency [][]int
}

// Len returns the number of clusters.
func (c *Clusters) Len() int {
	return len(c.Leaves)
}

// Other returns the cluster across portal id from cluster.
func (c *Clusters) Other(id, cluster int) int {
	p := &c.Portals[id]
	if p.Clusters[0] == cluster {
		return p.Clusters[1]
	}
	return p.Clusters[0]
}

// BuildClusters assigns every passable leaf to a cluster. With merging
// enabled, whole subtrees of passable leaves with equal contents start as
// one group, then neighbouring groups of equal contents join while the
// union stays convex. Without merging each leaf is its own cluster.
func BuildClusters(ctx context.Context, s *session.Session, g *Graph) (*Clusters, error) {
	tree := g.Tree
	n := tree.NumLeaves()
	c := &Clusters{LeafCluster: make([]int, n)}
	for i := range c.LeafCluster {
		c.LeafCluster[i] = NoCluster
	}

	var groups [][]int
	if s.Config.Vis.MergeClusters {
		groups = g.subtreeGroups(tree.Root, nil)
	} else {
		for leaf := 0; leaf < n; leaf++ {
			if g.Passable(leaf) {
				groups = append(groups, []int{leaf})
			}
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	groupOf := make([]int, n)
	for i := range groupOf {
		groupOf[i] = -1
	}
	for i, grp := range groups {
		for _, leaf := range grp {
			groupOf[leaf] = i
		}
	}

	eps := s.Epsilon().On
	taken := make([]bool, len(groups))
	for i, grp := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if taken[i] {
			continue
		}
		taken[i] = true
		members := append([]int(nil), grp...)
		if s.Config.Vis.MergeClusters && g.hasPortals(grp) {
			members = g.grow(members, groups, groupOf, taken, eps)
		}
		id := len(c.Leaves)
		sort.Ints(members)
		for _, leaf := range members {
			c.LeafCluster[leaf] = id
		}
		c.Leaves = append(c.Leaves, members)
	}
	for leaf, cl := range c.LeafCluster {
		tree.LeafNode(leaf).Cluster = cl
	}

	c.buildPortals(g)
	s.SetCount("clusters", c.Len())
	s.SetCount("cluster_portals", len(c.Portals))
	return c, nil
}

// subtreeGroups returns the passable leaves below id grouped so that a
// subtree whose leaves all share the same passable contents forms one
// group. A node region is convex, so each such group is too.
func (g *Graph) subtreeGroups(id bsp.NodeID, out [][]int) [][]int {
	if leaves, ok := g.uniform(id); ok {
		return append(out, leaves)
	}
	n := g.Tree.Node(id)
	if n.IsLeaf() {
		if g.Passable(n.Leaf) {
			out = append(out, []int{n.Leaf})
		}
		return out
	}
	out = g.subtreeGroups(n.Children[0], out)
	return g.subtreeGroups(n.Children[1], out)
}

// uniform reports whether every leaf below id is passable, has portals
// and holds the same contents.
func (g *Graph) uniform(id bsp.NodeID) ([]int, bool) {
	var leaves []int
	var first *bsp.Node
	ok := true
	var walk func(bsp.NodeID)
	walk = func(id bsp.NodeID) {
		if !ok {
			return
		}
		n := g.Tree.Node(id)
		if !n.IsLeaf() {
			walk(n.Children[0])
			walk(n.Children[1])
			return
		}
		if first == nil {
			first = n
		}
		if !n.Contents.Passable() || n.Contents != first.Contents || len(n.Portals) == 0 {
			ok = false
			return
		}
		leaves = append(leaves, n.Leaf)
	}
	walk(id)
	return leaves, ok
}

func (g *Graph) hasPortals(leaves []int) bool {
	for _, l := range leaves {
		if len(g.Adjacency[l]) == 0 {
			return false
		}
	}
	return true
}

// grow adds neighbouring groups to members while the union stays convex,
// retrying rejected neighbours after every addition.
func (g *Graph) grow(members []int, groups [][]int, groupOf []int, taken []bool, eps float64) []int {
	contents := g.Tree.LeafNode(members[0]).Contents
	in := make(map[int]bool, len(members))
	for _, l := range members {
		in[l] = true
	}
	for changed := true; changed; {
		changed = false
		var cand deque.Deque[int]
		seen := make(map[int]bool)
		for _, leaf := range members {
			for _, pid := range g.Adjacency[leaf] {
				next := g.Other(pid, leaf)
				if next == Outside || in[next] {
					continue
				}
				gi := groupOf[next]
				if gi < 0 || taken[gi] || seen[gi] {
					continue
				}
				seen[gi] = true
				cand.PushBack(gi)
			}
		}
		for cand.Len() > 0 {
			gi := cand.PopFront()
			grp := groups[gi]
			if g.Tree.LeafNode(grp[0]).Contents != contents || !g.hasPortals(grp) {
				continue
			}
			for _, l := range grp {
				in[l] = true
			}
			if !g.convex(in, eps) {
				for _, l := range grp {
					delete(in, l)
				}
				continue
			}
			taken[gi] = true
			members = append(members, grp...)
			changed = true
		}
	}
	return members
}

// convex reports whether the union of the leaves in set is convex: every
// boundary point lies behind every outward boundary face.
func (g *Graph) convex(set map[int]bool, eps float64) bool {
	var faces []geom.Plane
	var points []geom.Winding
	for leaf := range set {
		for _, pid := range g.Adjacency[leaf] {
			p := &g.Portals[pid]
			if set[g.Other(pid, leaf)] {
				continue
			}
			pl := g.Tree.Planes.Plane(p.Plane)
			if p.Leaves[0] == leaf {
				pl = pl.Flip()
			}
			faces = append(faces, pl)
			points = append(points, p.Winding)
		}
	}
	for _, f := range faces {
		for _, w := range points {
			for _, pt := range w {
				if f.Distance(pt) > eps {
					return false
				}
			}
		}
	}
	return true
}

type clusterKey struct {
	front, back int
	plane       int
}

// buildPortals collects leaf portals between different clusters and
// merges the coplanar pieces of each cluster pair.
func (c *Clusters) buildPortals(g *Graph) {
	groups := make(map[clusterKey][]geom.Winding)
	var order []clusterKey
	for _, p := range g.Portals {
		if p.Leaves[0] == Outside || p.Leaves[1] == Outside {
			continue
		}
		c0, c1 := c.LeafCluster[p.Leaves[0]], c.LeafCluster[p.Leaves[1]]
		if c0 == NoCluster || c1 == NoCluster || c0 == c1 {
			continue
		}
		k := clusterKey{front: c0, back: c1, plane: p.Plane}
		w := p.Winding
		if c0 > c1 {
			k = clusterKey{front: c1, back: c0, plane: p.Plane ^ 1}
			w = w.Reverse()
		}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], w)
	}

	c.Adjacency = make([][]int, c.Len())
	for _, k := range order {
		normal := g.Tree.Planes.Plane(k.plane).Normal
		for _, w := range geom.MergeWindings(groups[k], normal) {
			id := len(c.Portals)
			c.Portals = append(c.Portals, ClusterPortal{
				Plane:    k.plane,
				Clusters: [2]int{k.front, k.back},
				Winding:  w,
			})
			c.Adjacency[k.front] = append(c.Adjacency[k.front], id)
			c.Adjacency[k.back] = append(c.Adjacency[k.back], id)
		}
	}
}

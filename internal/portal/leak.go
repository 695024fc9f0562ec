package portal

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gammazero/deque"
	"github.com/go-gl/mathgl/mgl64"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/session"
)

var (
	// ErrLeak is matched by every *LeakError.
	ErrLeak = errors.New("map leaks")
	// ErrNoOccupants means no point entity marks the inside of the map.
	ErrNoOccupants = errors.New("no entity marks the inside of the map")
)

// occupantLift raises entity origins off the floor they usually rest on.
var occupantLift = mgl64.Vec3{0, 0, 1}

// Occupant is a point entity placed in a leaf.
type Occupant struct {
	Entity *level.Entity
	Origin mgl64.Vec3
	Leaf   int
}

// LeakError describes a path from the outside to an occupant.
type LeakError struct {
	Entity    int
	ClassName string
	Origin    mgl64.Vec3
	Leaf      int
	// Portals is the chain of portal ids from the outside inward.
	Portals []int
	// Points traces the chain: portal centres followed by the origin.
	Points []mgl64.Vec3
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("entity %d (%s) at (%g %g %g) reachable from outside through %d portals",
		e.Entity, e.ClassName, e.Origin[0], e.Origin[1], e.Origin[2], len(e.Portals))
}

// Is matches ErrLeak.
func (e *LeakError) Is(target error) bool {
	return target == ErrLeak
}

// Unwrap returns ErrLeak.
func (e *LeakError) Unwrap() error {
	return ErrLeak
}

// WritePointfile writes the leak trace, one "x y z" point per line.
func (e *LeakError) WritePointfile(w io.Writer) error {
	for _, p := range e.Points {
		if _, err := fmt.Fprintf(w, "%g %g %g\n", p[0], p[1], p[2]); err != nil {
			return err
		}
	}
	return nil
}

// PlaceOccupants finds the leaf of every point entity. Entities inside
// opaque leaves are reported and left out.
func PlaceOccupants(s *session.Session, g *Graph, lvl *level.Level) ([]Occupant, error) {
	ents := lvl.Occupants()
	if len(ents) == 0 {
		return nil, ErrNoOccupants
	}
	var out []Occupant
	for _, e := range ents {
		origin := e.Origin.Add(occupantLift)
		leaf := g.Tree.PointInLeaf(origin)
		if !g.Passable(leaf) {
			s.Warn(session.StagePortal, session.EntityRef(e.Index, e.Line),
				"%s origin is inside solid", e.ClassName)
			continue
		}
		out = append(out, Occupant{Entity: e, Origin: origin, Leaf: leaf})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("every occupant is inside solid: %w", ErrNoOccupants)
	}
	s.SetCount("occupants", len(out))
	return out, nil
}

// CheckLeaks floods from the outside through passable leaves. When an
// occupant is reached it returns a *LeakError for the first one in
// entity order.
func CheckLeaks(ctx context.Context, s *session.Session, g *Graph, occupants []Occupant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reached, _ := g.flood(nil, true)
	for _, o := range occupants {
		if !reached[o.Leaf] {
			continue
		}
		chain := g.leakPath(o)
		leak := &LeakError{
			Entity:    o.Entity.Index,
			ClassName: o.Entity.ClassName,
			Origin:    o.Entity.Origin,
			Leaf:      o.Leaf,
			Portals:   chain,
		}
		for _, id := range chain {
			leak.Points = append(leak.Points, g.Portals[id].Winding.Center())
		}
		leak.Points = append(leak.Points, o.Origin)
		s.Log.Debug("leak traced", zap.Int("entity", leak.Entity), zap.Int("portals", len(chain)))
		return leak
	}
	return nil
}

// flood walks passable leaves from starts, or from the outside when
// fromOutside is set. It reports the reached leaves and whether the
// outside was reached.
func (g *Graph) flood(starts []int, fromOutside bool) (reached []bool, outside bool) {
	reached = make([]bool, len(g.Adjacency))
	var todo deque.Deque[int]
	if fromOutside {
		outside = true
		todo.PushBack(Outside)
	}
	for _, l := range starts {
		if !reached[l] {
			reached[l] = true
			todo.PushBack(l)
		}
	}
	for todo.Len() > 0 {
		leaf := todo.PopFront()
		for _, id := range g.portalsOf(leaf) {
			next := g.Other(id, leaf)
			if !g.Passable(next) {
				continue
			}
			if next == Outside {
				if !outside {
					outside = true
					todo.PushBack(Outside)
				}
				continue
			}
			if !reached[next] {
				reached[next] = true
				todo.PushBack(next)
			}
		}
	}
	return reached, outside
}

// pathNode is a portal crossing in the leak path search.
type pathNode struct {
	portal int
	leaf   int // leaf entered through portal
	g      float64
	h      float64
	f      float64
	parent *pathNode
	index  int
}

// pathHeap is the open set ordered by f.
type pathHeap []*pathNode

func (h pathHeap) Len() int           { return len(h) }
func (h pathHeap) Less(i, j int) bool { return h[i].f < h[j].f }
func (h pathHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *pathHeap) Push(x any) {
	n := x.(*pathNode)
	n.index = len(*h)
	*h = append(*h, n)
}

func (h *pathHeap) Pop() any {
	old := *h
	n := len(old)
	node := old[n-1]
	old[n-1] = nil
	node.index = -1
	*h = old[:n-1]
	return node
}

// leakPath returns the shortest chain of portals, measured between portal
// centres, leading from the outside to the occupant's leaf.
func (g *Graph) leakPath(o Occupant) []int {
	centres := make([]mgl64.Vec3, len(g.Portals))
	for i := range g.Portals {
		centres[i] = g.Portals[i].Winding.Center()
	}
	key := func(portal, leaf int) int {
		if g.Portals[portal].Leaves[0] == leaf {
			return portal * 2
		}
		return portal*2 + 1
	}

	open := &pathHeap{}
	heap.Init(open)
	closed := make(map[int]bool)
	nodes := make(map[int]*pathNode)

	push := func(portal, leaf int, parent *pathNode) {
		if !g.Passable(leaf) || leaf == Outside {
			return
		}
		k := key(portal, leaf)
		if closed[k] {
			return
		}
		gc := 0.0
		if parent != nil {
			gc = parent.g + centres[parent.portal].Sub(centres[portal]).Len()
		}
		if n, ok := nodes[k]; ok {
			if gc < n.g {
				n.g = gc
				n.f = gc + n.h
				n.parent = parent
				heap.Fix(open, n.index)
			}
			return
		}
		n := &pathNode{portal: portal, leaf: leaf, g: gc, parent: parent}
		n.h = centres[portal].Sub(o.Origin).Len()
		n.f = n.g + n.h
		nodes[k] = n
		heap.Push(open, n)
	}

	for _, id := range g.OutsidePortals {
		push(id, g.Other(id, Outside), nil)
	}
	for open.Len() > 0 {
		cur := heap.Pop(open).(*pathNode)
		if cur.leaf == o.Leaf {
			return reconstructPath(cur)
		}
		closed[key(cur.portal, cur.leaf)] = true
		for _, id := range g.Adjacency[cur.leaf] {
			if id == cur.portal {
				continue
			}
			push(id, g.Other(id, cur.leaf), cur)
		}
	}
	return nil
}

func reconstructPath(n *pathNode) []int {
	var out []int
	for ; n != nil; n = n.parent {
		out = append(out, n.portal)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// FillOutside makes every passable leaf that no occupant can reach solid.
// It returns the number of filled leaves.
func FillOutside(s *session.Session, g *Graph, occupants []Occupant) int {
	starts := make([]int, len(occupants))
	for i, o := range occupants {
		starts[i] = o.Leaf
	}
	reached, _ := g.flood(starts, false)
	filled := 0
	for leaf, ok := range reached {
		n := g.Tree.LeafNode(leaf)
		if ok || !n.Contents.Passable() {
			continue
		}
		n.Contents = level.ContentsSolid
		g.Filled[leaf] = true
		filled++
	}
	s.SetCount("filled_leaves", filled)
	return filled
}

package csg

import (
	"context"

	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/session"
)

// Model is the carved geometry of one brush entity.
type Model struct {
	Entity    int
	Fragments []*Fragment
}

// Result is the output of Process.
type Result struct {
	// World holds structural fragments: they partition the tree.
	World []*Fragment
	// Detail holds detail fragments, filtered into the finished tree.
	Detail []*Fragment
	Models []Model
}

// Process carves the world and every brush model. Clip and trigger
// brushes take no part; they survive only as collision brushes.
func Process(ctx context.Context, s *session.Session, lvl *level.Level) (*Result, error) {
	done := s.Begin(session.StageCSG)
	defer done()

	c := NewClipper(lvl.Planes, s.Epsilon(), s.Config.Compile.MaxWorldCoord)
	c.Degenerate = func(f *Fragment, msg string) {
		s.Degenerate(session.StageCSG, session.BrushRef(f.Brush.Entity, f.Brush.Index, f.Brush.Line), "%s", msg)
	}

	world, err := c.Carve(ctx, fragments(lvl.World))
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for _, f := range world {
		if f.Contents.Structural() {
			res.World = append(res.World, f)
		} else {
			res.Detail = append(res.Detail, f)
		}
	}
	for _, e := range lvl.Models() {
		frags, err := c.Carve(ctx, fragments(e.Brushes()))
		if err != nil {
			return nil, err
		}
		res.Models = append(res.Models, Model{Entity: e.Index, Fragments: frags})
	}

	s.SetCount("fragments", len(res.World))
	s.SetCount("detail_fragments", len(res.Detail))
	s.SetCount("visible_faces", res.visibleFaces())
	return res, nil
}

func fragments(brushes []*level.Brush) []*Fragment {
	var out []*Fragment
	for _, b := range brushes {
		if b.Contents.Volumetric() {
			out = append(out, FromBrush(b))
		}
	}
	return out
}

func (r *Result) visibleFaces() int {
	n := 0
	count := func(frags []*Fragment) {
		for _, f := range frags {
			for _, s := range f.Sides {
				if s.Visible && !s.NoDraw {
					n++
				}
			}
		}
	}
	count(r.World)
	count(r.Detail)
	for _, m := range r.Models {
		count(m.Fragments)
	}
	return n
}

// Carve removes every overlap between brushes. Higher ranked contents win
// (solid over detail over water); among equal ranks the later brush wins
// and the earlier one is cut away. The result keeps declaration order.
func (c *Clipper) Carve(ctx context.Context, brushes []*Fragment) ([]*Fragment, error) {
	var out []*Fragment
	for _, b := range brushes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rank := b.Contents.Rank()

		next := make([]*Fragment, 0, len(out)+1)
		for _, f := range out {
			if f.Contents.Rank() > rank || c.Disjoint(f, b) {
				next = append(next, f)
				continue
			}
			next = append(next, c.Subtract(f, b)...)
		}

		pieces := []*Fragment{b}
		for _, f := range next {
			if f.Contents.Rank() <= rank {
				continue
			}
			var kept []*Fragment
			for _, p := range pieces {
				if c.Disjoint(p, f) {
					kept = append(kept, p)
					continue
				}
				kept = append(kept, c.Subtract(p, f)...)
			}
			pieces = kept
		}
		out = append(next, pieces...)
	}
	return out, nil
}

// Package bake turns the carved geometry into merged draw surfaces and
// attaches static lights to the leaves and surfaces they reach.
package bake

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Result is the baked output.
type Result struct {
	Surfaces []Surface
	Lights   []Light
}

type baker struct {
	s    *session.Session
	lvl  *level.Level
	tree *bsp.Tree
	eps  geom.Epsilon
	size float64
	set  *surfaceSet

	nodraw int
	hidden int
}

// Bake builds the draw surfaces and lights of a compiled level. Models
// are numbered from 1 in the order of carved.Models.
func Bake(ctx context.Context, s *session.Session, lvl *level.Level, carved *csg.Result, tree *bsp.Tree) (*Result, error) {
	done := s.Begin(session.StageBake)
	defer done()

	b := &baker{
		s:    s,
		lvl:  lvl,
		tree: tree,
		eps:  s.Epsilon(),
		size: s.Config.Compile.MaxWorldCoord * 4,
		set:  newSurfaceSet(),
	}

	b.worldFaces(carved.World)
	b.worldFaces(carved.Detail)
	models := make(map[int]int, len(carved.Models))
	for i, m := range carved.Models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		models[m.Entity] = i + 1
		b.modelFaces(i+1, m.Fragments)
	}
	for _, e := range lvl.Entities {
		for _, p := range e.Patches() {
			model := 0
			if p.Model != 0 {
				model = models[p.Entity]
			}
			b.patchFaces(p, model)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Surfaces: b.set.surfaces(tree.Planes, s.Config.Bake.MergeFaces)}
	res.Lights = b.collectLights()
	for i := range res.Lights {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		l := &res.Lights[i]
		b.reach(l, res.Surfaces, s.Config.Bake.LightSurfaces)
		if len(l.Leaves) == 0 {
			s.Warn(session.StageBake, session.EntityRef(l.Entity, -1), "light reaches no open leaf")
		}
		s.Log.Debug("light baked", zap.Int("entity", l.Entity),
			zap.Int("leaves", len(l.Leaves)), zap.Int("surfaces", len(l.Surfaces)))
	}

	windings := 0
	for _, sf := range res.Surfaces {
		windings += len(sf.Windings)
	}
	s.SetCount("surfaces", len(res.Surfaces))
	s.SetCount("surface_windings", windings)
	s.SetCount("nodraw_faces", b.nodraw)
	s.SetCount("hidden_faces", b.hidden)
	s.SetCount("lights", len(res.Lights))
	return res, nil
}

// Package compiler runs the compile pipeline: load, carve, partition,
// portalize, check for leaks, solve visibility, bake and write the world.
package compiler

import (
	"context"
	"crypto/sha256"
	"errors"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/bake"
	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/internal/vis"
	"github.com/Faultbox/midgard-bsp/pkg/formats"
)

// Build compiles map source into a world held in memory. A leak is
// returned as a *portal.LeakError.
func Build(ctx context.Context, s *session.Session, src []byte, res level.MaterialResolver) (*formats.World, error) {
	st := &stages{}
	var err error

	if st.lvl, err = level.Load(ctx, s, src, res); err != nil {
		return nil, err
	}
	if st.carved, err = csg.Process(ctx, s, st.lvl); err != nil {
		return nil, err
	}
	if st.tree, err = bsp.Build(ctx, s, st.lvl.Planes, st.lvl.Bounds, st.carved.World, st.carved.Detail); err != nil {
		return nil, err
	}
	if err := portalize(ctx, s, st); err != nil {
		return nil, err
	}

	if s.Config.Vis.Skip {
		s.Log.Info("visibility skipped")
	} else {
		m, err := vis.Solve(ctx, s, st.lvl.Planes, st.clusters)
		if err != nil {
			return nil, err
		}
		st.vis = m.Refined.Bytes()
	}

	if st.baked, err = bake.Bake(ctx, s, st.lvl, st.carved, st.tree); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w := assemble(st, s.Epsilon())
	w.Checksum = sha256.Sum256(src)
	if s.Degraded() {
		w.Flags |= formats.WorldDegraded
	}
	s.SetCount("clusters", st.clusters.Len())
	s.SetCount("world_portals", len(w.Portals))
	return w, nil
}

// portalize builds the portal graph, rejects leaking maps, fills the
// space outside the map and groups the remaining leaves into clusters.
func portalize(ctx context.Context, s *session.Session, st *stages) error {
	g, err := portal.Generate(ctx, s, st.tree)
	if err != nil {
		return err
	}
	st.graph = g

	done := s.Begin(session.StagePortal)
	defer done()

	occupants, err := portal.PlaceOccupants(s, g, st.lvl)
	if err != nil {
		return err
	}
	if err := portal.CheckLeaks(ctx, s, g, occupants); err != nil {
		var leak *portal.LeakError
		if errors.As(err, &leak) {
			s.Error(session.StagePortal, session.EntityRef(leak.Entity, entityLine(st.lvl, leak.Entity)), err)
		}
		return err
	}
	if n := portal.FillOutside(s, g, occupants); n > 0 {
		s.Log.Debug("filled outside leaves", zap.Int("leaves", n))
	}
	st.clusters, err = portal.BuildClusters(ctx, s, g)
	return err
}

func entityLine(lvl *level.Level, index int) int {
	if e := lvl.Entity(index); e != nil {
		return e.Line
	}
	return 0
}

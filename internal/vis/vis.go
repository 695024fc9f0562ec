// Package vis computes which clusters may see each other. A conservative
// base matrix comes from flooding through front facing portals; the
// refined matrix follows sight lines through chains of portals, clipping
// them by separating planes.
package vis

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/bits-and-blooms/bitset"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Result holds both visibility matrices.
type Result struct {
	Base    *Matrix
	Refined *Matrix
	// Fallback counts clusters whose refined row was replaced by the base
	// row when the time budget ran out.
	Fallback int
}

type solver struct {
	eps       float64
	portals   []*vportal
	byCluster [][]int // vportal ids by owner
}

func newSolver(planes *geom.PlaneSet, c *portal.Clusters, eps float64) *solver {
	sv := &solver{eps: eps, byCluster: make([][]int, c.Len())}
	add := func(p *vportal) {
		id := len(sv.portals)
		sv.portals = append(sv.portals, p)
		sv.byCluster[p.owner] = append(sv.byCluster[p.owner], id)
	}
	for _, cp := range c.Portals {
		plane := planes.Plane(cp.Plane)
		// cp.Plane faces Clusters[0]
		add(&vportal{
			owner:   cp.Clusters[1],
			dest:    cp.Clusters[0],
			plane:   plane,
			winding: cp.Winding,
		})
		add(&vportal{
			owner:   cp.Clusters[0],
			dest:    cp.Clusters[1],
			plane:   plane.Flip(),
			winding: cp.Winding.Reverse(),
		})
	}
	return sv
}

// Solve computes the base and refined matrices for the clusters. Rows run
// in parallel. When the configured time budget expires, the unfinished
// rows keep their base visibility and the session is marked degraded.
// Cancelling ctx aborts the solve.
func Solve(ctx context.Context, s *session.Session, planes *geom.PlaneSet, c *portal.Clusters) (*Result, error) {
	done := s.Begin(session.StageVis)
	defer done()

	n := c.Len()
	sv := newSolver(planes, c, s.Epsilon().On)
	for i := range sv.portals {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sv.basePortalVis(i)
	}

	res := &Result{Base: NewMatrix(n), Refined: NewMatrix(n)}
	for cl := 0; cl < n; cl++ {
		res.Base.SetRow(cl, sv.row(cl, func(p *vportal) *bitset.BitSet { return p.flood }))
	}

	budget := s.Config.Vis.TimeBudget
	workers := s.Config.Vis.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	flowCtx := gctx
	if budget > 0 {
		var cancel context.CancelFunc
		flowCtx, cancel = context.WithTimeout(gctx, budget)
		defer cancel()
	}

	rows := make([]*bitset.BitSet, n)
	fallback := make([]bool, n)
	for cl := 0; cl < n; cl++ {
		cl := cl
		g.Go(func() error {
			err := sv.clusterFlow(flowCtx, cl)
			switch {
			case err == nil:
				rows[cl] = sv.row(cl, func(p *vportal) *bitset.BitSet { return p.vis })
			case errors.Is(err, context.DeadlineExceeded) && gctx.Err() == nil:
				rows[cl] = res.Base.Row(cl)
				fallback[cl] = true
			default:
				return err
			}
			s.Log.Debug("cluster vis", zap.Int("cluster", cl), zap.Uint("visible", rows[cl].Count()))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for cl, row := range rows {
		res.Refined.SetRow(cl, row)
		if fallback[cl] {
			res.Fallback++
		}
	}
	res.Base.Symmetrize()
	res.Refined.Symmetrize()
	res.Refined.Intersect(res.Base)

	if res.Fallback > 0 {
		s.MarkDegraded(session.StageVis, "time budget %v ran out, %d of %d clusters use base visibility", budget, res.Fallback, n)
	}
	s.SetCount("vis_portals", len(sv.portals))
	s.SetCount("vis_base_pairs", res.Base.Count())
	s.SetCount("vis_pairs", res.Refined.Count())
	return res, nil
}

// clusterFlow runs the portal flow for every portal leaving cl.
func (sv *solver) clusterFlow(ctx context.Context, cl int) error {
	for _, pnum := range sv.byCluster[cl] {
		if err := expired(ctx); err != nil {
			return err
		}
		if err := sv.portalFlow(ctx, pnum); err != nil {
			return err
		}
	}
	return nil
}

// row converts the portal sets of cl's portals into the clusters they
// lead into, plus cl itself.
func (sv *solver) row(cl int, set func(*vportal) *bitset.BitSet) *bitset.BitSet {
	out := bitset.New(uint(len(sv.byCluster)))
	out.Set(uint(cl))
	for _, pnum := range sv.byCluster[cl] {
		p := sv.portals[pnum]
		out.Set(uint(p.dest))
		bits := set(p)
		for j, ok := bits.NextSet(0); ok; j, ok = bits.NextSet(j + 1) {
			out.Set(uint(sv.portals[j].dest))
		}
	}
	return out
}

// expired is ctx.Err that also reports a deadline which has passed but
// whose timer has not fired yet.
func expired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

package level

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/encoding"
	"github.com/Faultbox/midgard-bsp/pkg/formats"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Loader errors.
var (
	ErrNoWorldspawn     = errors.New("first entity is not worldspawn")
	ErrNoWorldGeometry  = errors.New("worldspawn has no valid brushes")
	ErrInvalidBrush     = errors.New("invalid brush")
	ErrDegeneratePlane  = errors.New("degenerate plane")
	ErrUnboundedBrush   = errors.New("brush is not closed")
	ErrTooFewSides      = errors.New("brush has fewer than four sides")
	ErrMirroredPlanes   = errors.New("brush has opposite coincident sides")
	ErrBrushOutOfBounds = errors.New("brush exceeds world bounds")
)

// MaterialResolver supplies material definitions.
type MaterialResolver interface {
	ResolveMaterial(name string) (assets.Material, error)
}

// Entity classes that fold their brushes into the world.
const (
	classWorldspawn = "worldspawn"
	classDetail     = "func_detail"
	classGroup      = "func_group"
)

// Load decodes and parses map source and validates its geometry.
// Malformed entities and invalid brushes are reported on the session and
// skipped; only a missing or empty world is fatal.
func Load(ctx context.Context, s *session.Session, src []byte, res MaterialResolver) (*Level, error) {
	done := s.Begin(session.StageLoad)
	defer done()

	text, err := encoding.Decode(src, s.Config.Compile.Codepage)
	if err != nil {
		return nil, err
	}
	m, err := formats.ParseMap(text)
	if err != nil {
		return nil, fmt.Errorf("parsing map: %w", err)
	}

	l := &loader{
		s:   s,
		res: res,
		lvl: &Level{
			Planes:        geom.NewPlaneSet(s.Epsilon()),
			Bounds:        geom.EmptyBounds(),
			materialIndex: make(map[string]int),
		},
		warned: make(map[string]bool),
	}
	if err := l.load(ctx, m); err != nil {
		return nil, err
	}
	lvl := l.lvl
	s.SetCount("entities", len(lvl.Entities))
	s.SetCount("brushes", len(lvl.AllBrushes()))
	s.SetCount("planes", lvl.Planes.Len())
	return lvl, nil
}

type loader struct {
	s      *session.Session
	res    MaterialResolver
	lvl    *Level
	order  int
	warned map[string]bool
}

func (l *loader) load(ctx context.Context, m *formats.MapFile) error {
	first := m.Entities[0]
	if first.Err != nil {
		return fmt.Errorf("worldspawn at line %d: %w", first.Line, first.Err)
	}
	if first.ClassName() != classWorldspawn {
		return fmt.Errorf("entity 0 is %q: %w", first.ClassName(), ErrNoWorldspawn)
	}

	var world *Entity
	for i := range m.Entities {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := &m.Entities[i]
		if src.Err != nil {
			l.s.Warn(session.StageLoad, session.EntityRef(i, src.Line), "skipped malformed entity: %v", src.Err)
			continue
		}
		ent := &Entity{
			Index:      i,
			Line:       src.Line,
			ClassName:  src.ClassName(),
			Properties: src.Properties,
		}
		if v := src.Value("origin"); v != "" {
			if o, ok := parseVec(v); ok {
				ent.Origin, ent.HasOrigin = o, true
			} else {
				l.s.Warn(session.StageLoad, session.EntityRef(i, src.Line), "bad origin %q", v)
			}
		}
		if i == 0 {
			world = ent
		}

		model := i
		owner := ent
		fold := i == 0 || ent.ClassName == classDetail || ent.ClassName == classGroup
		if fold {
			model = 0
			owner = world
		}

		for bi, mb := range src.Brushes {
			b, err := l.brush(i, bi, mb)
			if err != nil {
				l.s.Warn(session.StageLoad, session.BrushRef(i, bi, mb.Line), "skipped brush: %v", err)
				continue
			}
			b.Model = model
			if ent.ClassName == classDetail {
				b.Contents = (b.Contents | ContentsDetail).normalize()
			}
			if fold {
				l.lvl.World = append(l.lvl.World, b)
				if i == 0 {
					owner.Primitives = append(owner.Primitives, Primitive{Kind: KindBrush, Brush: b})
				}
			} else {
				owner.Primitives = append(owner.Primitives, Primitive{Kind: KindBrush, Brush: b})
			}
		}
		for pi, mp := range src.Patches {
			p, err := l.patch(i, pi, mp)
			if err != nil {
				l.s.Warn(session.StageLoad, session.BrushRef(i, pi, mp.Line), "skipped patch: %v", err)
				continue
			}
			p.Model = model
			owner.Primitives = append(owner.Primitives, Primitive{Kind: KindPatch, Patch: p})
		}

		l.lvl.Entities = append(l.lvl.Entities, ent)
	}

	if len(l.lvl.World) == 0 {
		return ErrNoWorldGeometry
	}
	for _, b := range l.lvl.World {
		if b.Contents.Volumetric() {
			l.lvl.Bounds = l.lvl.Bounds.Union(b.Bounds)
		}
	}
	if l.lvl.Bounds.IsEmpty() {
		return ErrNoWorldGeometry
	}
	l.s.SetCount("patches", l.countPatches())
	return nil
}

func (l *loader) countPatches() int {
	n := 0
	for _, e := range l.lvl.Entities {
		n += len(e.Patches())
	}
	return n
}

// brush validates a source brush: planes must be well formed, distinct
// and enclose a bounded volume.
func (l *loader) brush(entity, index int, mb formats.MapBrush) (*Brush, error) {
	planes := l.lvl.Planes
	maxCoord := l.s.Config.Compile.MaxWorldCoord
	ref := session.BrushRef(entity, index, mb.Line)

	b := &Brush{Entity: entity, Index: index, Line: mb.Line, Order: l.order}
	l.order++

	seen := make(map[int]bool)
	var contents Contents
	for si, ms := range mb.Sides {
		var normal mgl64.Vec3
		var dist float64
		if ms.Explicit {
			n := ms.Normal.Len()
			if n < 1e-6 {
				return nil, fmt.Errorf("side %d: zero normal: %w", si, ErrDegeneratePlane)
			}
			normal, dist = ms.Normal.Mul(1/n), ms.Dist/n
		} else {
			p, ok := geom.PlaneFromPoints(ms.Points[0], ms.Points[1], ms.Points[2])
			if !ok {
				return nil, fmt.Errorf("side %d: collinear points: %w", si, ErrDegeneratePlane)
			}
			normal, dist = p.Normal, p.Dist
		}
		pnum := planes.Find(normal, dist)
		if seen[pnum] {
			l.s.Degenerate(session.StageLoad, ref, "duplicate side %d removed", si)
			continue
		}
		if seen[pnum^1] {
			return nil, ErrMirroredPlanes
		}
		seen[pnum] = true

		side, sc := l.side(ms, pnum)
		contents |= sc
		b.Sides = append(b.Sides, side)
	}
	if len(b.Sides) < 4 {
		return nil, ErrTooFewSides
	}
	if contents == 0 {
		contents = ContentsSolid
	}
	b.Contents = contents.normalize()

	if err := l.createWindings(b, ref, maxCoord); err != nil {
		return nil, err
	}
	return b, nil
}

// side resolves the material and contents of one side.
func (l *loader) side(ms formats.MapSide, pnum int) (Side, Contents) {
	side := Side{Plane: pnum, Line: ms.Line, Material: l.lvl.MaterialIndex(ms.Material)}

	info := contentsFromName(ms.Material)
	contents := info.contents
	side.NoDraw, side.Sky = info.nodraw, info.sky

	if mat, ok := l.resolve(ms.Material); ok && mat.Defined {
		if len(mat.Contents) > 0 {
			contents = 0
			for _, name := range mat.Contents {
				c, ok := ParseContents(name)
				if !ok {
					l.warnOnce("contents:"+name, "material %s has unknown contents %q", ms.Material, name)
					continue
				}
				contents |= c
			}
		}
		side.NoDraw = side.NoDraw || mat.NoDraw
		side.Sky = side.Sky || mat.Sky
	}
	if ms.HasFlags && ms.Contents != 0 {
		contents = contentsFromFlags(ms.Contents)
	}

	if side.NoDraw || side.Sky {
		f := &l.lvl.flags[side.Material]
		f.nodraw = f.nodraw || side.NoDraw
		f.sky = f.sky || side.Sky
	}
	side.Contents = contents
	return side, contents
}

func (l *loader) resolve(name string) (assets.Material, bool) {
	if l.res == nil {
		return assets.Material{}, false
	}
	mat, err := l.res.ResolveMaterial(name)
	if err != nil {
		l.warnOnce("materials", "material definitions unavailable: %v", err)
		return assets.Material{}, false
	}
	if !mat.Found && !mat.Defined && l.s.Config.Assets.WarnMissingMaterials {
		l.warnOnce("missing:"+strings.ToLower(name), "material %s not found", name)
	}
	return mat, true
}

func (l *loader) warnOnce(key, format string, args ...any) {
	if l.warned[key] {
		return
	}
	l.warned[key] = true
	l.s.Warn(session.StageLoad, session.NoRef, format, args...)
}

// createWindings clips a huge polygon on every side plane by all other
// sides. Sides that end up with no polygon do not touch the brush and are
// dropped.
func (l *loader) createWindings(b *Brush, ref session.Ref, maxCoord float64) error {
	planes := l.lvl.Planes
	kept := make([]Side, 0, len(b.Sides))
	b.Bounds = geom.EmptyBounds()
	for i := range b.Sides {
		side := b.Sides[i]
		w := geom.BaseForPlane(planes.Plane(side.Plane), maxCoord*4)
		for j := range b.Sides {
			if i == j || w == nil {
				continue
			}
			w = w.Chop(planes.Plane(b.Sides[j].Plane^1), 0)
		}
		if w == nil {
			l.s.Degenerate(session.StageLoad, ref, "side on plane %d does not touch the brush", side.Plane)
			continue
		}
		side.Winding = w
		for _, p := range w {
			b.Bounds.AddPoint(p)
		}
		kept = append(kept, side)
	}
	b.Sides = kept
	if len(b.Sides) < 4 {
		return ErrTooFewSides
	}
	for i := 0; i < 3; i++ {
		if b.Bounds.Min[i] <= -maxCoord*2 || b.Bounds.Max[i] >= maxCoord*2 {
			return ErrUnboundedBrush
		}
		if b.Bounds.Min[i] < -maxCoord || b.Bounds.Max[i] > maxCoord {
			return ErrBrushOutOfBounds
		}
		if b.Bounds.Max[i]-b.Bounds.Min[i] < l.s.Epsilon().On {
			return fmt.Errorf("%w: zero thickness", ErrInvalidBrush)
		}
	}
	return nil
}

// Volume returns the brush volume.
func (b *Brush) Volume() float64 {
	var corner mgl64.Vec3
	found := false
	for _, s := range b.Sides {
		if len(s.Winding) > 0 {
			corner = s.Winding[0]
			found = true
			break
		}
	}
	if !found {
		return 0
	}
	var volume float64
	for _, s := range b.Sides {
		if len(s.Winding) < 3 {
			continue
		}
		p := s.Winding.Plane()
		d := -p.Distance(corner)
		volume += d * s.Winding.Area()
	}
	return math.Abs(volume / 3)
}

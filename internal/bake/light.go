package bake

import (
	"strings"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/session"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// LightKind tells point lights from light volumes.
type LightKind uint8

// Light kinds.
const (
	LightPoint LightKind = iota
	LightVolume
)

// Falloff is the attenuation curve of a light, the "delay" key.
type Falloff uint8

// Falloff curves.
const (
	FalloffLinear Falloff = iota
	FalloffInverse
	FalloffInverseSquare
	FalloffNone
)

// cutoff is the intensity below which a light no longer reaches.
const cutoff = 1

// Light is a static light and what it reaches.
type Light struct {
	Kind      LightKind
	Entity    int
	Falloff   Falloff
	Origin    mgl64.Vec3
	Color     [3]float32
	Intensity float32
	Radius    float32
	Bounds    geom.Bounds
	// Region bounds a light volume, planes facing out.
	Region   []geom.Plane
	Leaves   []int
	Surfaces []int
}

// Radius returns the distance at which a light of the given intensity
// fades below the cutoff. scale is the "wait" key.
func Radius(intensity, scale float32, falloff Falloff, limit float32) float32 {
	if intensity <= 0 {
		return 0
	}
	if scale <= 0 {
		scale = 1
	}
	var r float32
	switch falloff {
	case FalloffLinear:
		r = intensity / scale
	case FalloffInverse:
		r = intensity * 128 / (scale * cutoff)
	case FalloffInverseSquare:
		r = 128 / scale * math32.Sqrt(intensity/cutoff)
	default:
		r = limit
	}
	return math32.Min(r, limit)
}

// parseColor reads "_color" as three components in 0..1 or 0..255 and
// scales it so the brightest component is 1.
func parseColor(e *level.Entity) [3]float32 {
	c := [3]float32{1, 1, 1}
	v, ok := e.Vec("_color")
	if !ok {
		return c
	}
	for i := range c {
		c[i] = math32.Max(float32(v[i]), 0)
	}
	m := math32.Max(c[0], math32.Max(c[1], c[2]))
	if m <= 0 {
		return [3]float32{1, 1, 1}
	}
	for i := range c {
		c[i] /= m
	}
	return c
}

func isPointLight(e *level.Entity) bool {
	return strings.HasPrefix(e.ClassName, "light") && e.ClassName != level.ClassLightVolume && e.IsPointEntity()
}

// collectLights reads light entities and light volume brushes.
func (b *baker) collectLights() []Light {
	limit := float32(b.s.Config.Compile.MaxWorldCoord)
	def := b.s.Config.Bake.DefaultLightIntensity
	var out []Light
	for _, e := range b.lvl.Entities[1:] {
		if !isPointLight(e) {
			continue
		}
		l := Light{
			Kind:      LightPoint,
			Entity:    e.Index,
			Falloff:   falloffOf(b.s, e),
			Origin:    e.Origin,
			Color:     parseColor(e),
			Intensity: float32(e.Float("light", e.Float("_light", def))),
		}
		if r := e.Float("radius", 0); r > 0 {
			l.Radius = math32.Min(float32(r), limit)
		} else {
			l.Radius = Radius(l.Intensity, float32(e.Float("wait", 1)), l.Falloff, limit)
		}
		if l.Radius <= 0 {
			b.s.Warn(session.StageBake, session.EntityRef(e.Index, e.Line), "light has no intensity")
			continue
		}
		r := float64(l.Radius)
		l.Bounds = geom.Bounds{Min: e.Origin.Sub(mgl64.Vec3{r, r, r}), Max: e.Origin.Add(mgl64.Vec3{r, r, r})}
		l.Region = bsp.BoxPlanes(l.Bounds)
		out = append(out, l)
	}

	for _, e := range b.lvl.LightVolumes() {
		for _, br := range e.Brushes() {
			l := Light{
				Kind:      LightVolume,
				Entity:    e.Index,
				Falloff:   FalloffNone,
				Origin:    br.Bounds.Center(),
				Color:     parseColor(e),
				Intensity: float32(e.Float("light", def)),
				Bounds:    br.Bounds,
			}
			l.Radius = float32(br.Bounds.Size().Len() / 2)
			for _, side := range br.Sides {
				l.Region = append(l.Region, b.lvl.Planes.Plane(side.Plane))
			}
			out = append(out, l)
		}
	}
	return out
}

func falloffOf(s *session.Session, e *level.Entity) Falloff {
	d := int(e.Float("delay", 0))
	if d < int(FalloffLinear) || d > int(FalloffNone) {
		s.Warn(session.StageBake, session.EntityRef(e.Index, e.Line), "unknown light falloff %d, using linear", d)
		return FalloffLinear
	}
	return Falloff(d)
}

// reach fills the leaves a light overlaps and, when wanted, the surfaces
// it may light. A leaf is reached when its region clipped by the light
// region is not empty.
func (b *baker) reach(l *Light, surfaces []Surface, withSurfaces bool) {
	for leaf := 0; leaf < b.tree.NumLeaves(); leaf++ {
		n := b.tree.LeafNode(leaf)
		if !n.Contents.Passable() || len(n.Portals) == 0 {
			continue
		}
		if !n.Bounds.Intersects(l.Bounds, b.eps.On) {
			continue
		}
		if l.Kind == LightPoint && boxDistance(n.Bounds, l.Origin) > float64(l.Radius) {
			continue
		}
		planes := append(b.tree.LeafPlanes(leaf), l.Region...)
		if len(bsp.Polytope(planes, b.eps, b.size)) == 0 {
			continue
		}
		l.Leaves = append(l.Leaves, leaf)
	}
	if !withSurfaces {
		return
	}

	reached := make(map[int]bool, len(l.Leaves))
	for _, leaf := range l.Leaves {
		reached[leaf] = true
	}
	for i := range surfaces {
		sf := &surfaces[i]
		if sf.Leaf != NoLeaf && !reached[sf.Leaf] {
			continue
		}
		if !sf.Bounds.Intersects(l.Bounds, b.eps.On) {
			continue
		}
		if l.Kind == LightPoint {
			if b.tree.Planes.Plane(sf.Plane).Distance(l.Origin) <= 0 {
				continue // faces away
			}
			if boxDistance(sf.Bounds, l.Origin) > float64(l.Radius) {
				continue
			}
		}
		l.Surfaces = append(l.Surfaces, i)
	}
}

// boxDistance returns the distance from p to the nearest point of b.
func boxDistance(b geom.Bounds, p mgl64.Vec3) float64 {
	var d mgl64.Vec3
	for i := 0; i < 3; i++ {
		switch {
		case p[i] < b.Min[i]:
			d[i] = b.Min[i] - p[i]
		case p[i] > b.Max[i]:
			d[i] = p[i] - b.Max[i]
		}
	}
	return d.Len()
}

// Package level turns parsed map source into validated brushes, patches
// and entities: the input of the CSG stage.
package level

import (
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/pkg/formats"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Side is one face of a brush.
type Side struct {
	Plane    int // index into Level.Planes
	Material int // index into Level.Materials
	Contents Contents
	NoDraw   bool
	Sky      bool
	Winding  geom.Winding
	Line     int
}

// Brush is a validated convex solid.
type Brush struct {
	Entity   int // source entity index
	Model    int // 0 for world geometry, else the owning entity index
	Index    int // brush number within its source entity
	Order    int // declaration order over the whole map
	Line     int
	Contents Contents
	Sides    []Side
	Bounds   geom.Bounds
}

// Kind discriminates Primitive.
type Kind uint8

// Primitive kinds.
const (
	KindBrush Kind = iota
	KindPatch
)

func (k Kind) String() string {
	switch k {
	case KindBrush:
		return "brush"
	case KindPatch:
		return "patch"
	}
	return "unknown"
}

// Primitive is a brush or a patch; exactly the field matching Kind is set.
type Primitive struct {
	Kind  Kind
	Brush *Brush
	Patch *Patch
}

// Entity is a loaded entity. Index is its position in the source so
// diagnostics can point at it; skipped entities leave gaps.
type Entity struct {
	Index      int
	Line       int
	ClassName  string
	Properties []formats.MapProperty
	Origin     mgl64.Vec3
	HasOrigin  bool
	Primitives []Primitive
}

// Value returns the last value stored under key, or "".
func (e *Entity) Value(key string) string {
	v := ""
	for _, p := range e.Properties {
		if p.Key == key {
			v = p.Value
		}
	}
	return v
}

// Float returns a numeric property, or def when absent or invalid.
func (e *Entity) Float(key string, def float64) float64 {
	v := strings.TrimSpace(e.Value(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// Vec returns a "x y z" property.
func (e *Entity) Vec(key string) (mgl64.Vec3, bool) {
	return parseVec(e.Value(key))
}

// Brushes returns the entity's brushes in source order.
func (e *Entity) Brushes() []*Brush {
	var out []*Brush
	for _, p := range e.Primitives {
		switch p.Kind {
		case KindBrush:
			out = append(out, p.Brush)
		case KindPatch:
		}
	}
	return out
}

// Patches returns the entity's patches in source order.
func (e *Entity) Patches() []*Patch {
	var out []*Patch
	for _, p := range e.Primitives {
		switch p.Kind {
		case KindBrush:
		case KindPatch:
			out = append(out, p.Patch)
		}
	}
	return out
}

// IsPointEntity reports whether the entity has an origin and no geometry.
func (e *Entity) IsPointEntity() bool {
	return e.HasOrigin && len(e.Primitives) == 0
}

// Level is a loaded map.
type Level struct {
	Planes    *geom.PlaneSet
	Materials []string
	Entities  []*Entity
	// World holds the brushes that make up model 0: worldspawn plus
	// func_detail and func_group, in declaration order.
	World  []*Brush
	Bounds geom.Bounds

	materialIndex map[string]int
	flags         []materialFlags
}

type materialFlags struct {
	nodraw bool
	sky    bool
}

// MaterialIndex returns the index of a material name, adding it.
func (l *Level) MaterialIndex(name string) int {
	if i, ok := l.materialIndex[name]; ok {
		return i
	}
	i := len(l.Materials)
	l.Materials = append(l.Materials, name)
	l.flags = append(l.flags, materialFlags{})
	l.materialIndex[name] = i
	return i
}

// MaterialNoDraw reports whether faces with material i are never drawn.
func (l *Level) MaterialNoDraw(i int) bool {
	return i >= 0 && i < len(l.flags) && l.flags[i].nodraw
}

// MaterialSky reports whether material i is sky.
func (l *Level) MaterialSky(i int) bool {
	return i >= 0 && i < len(l.flags) && l.flags[i].sky
}

// Worldspawn returns entity 0.
func (l *Level) Worldspawn() *Entity {
	return l.Entities[0]
}

// Entity returns the loaded entity with the given source index.
func (l *Level) Entity(index int) *Entity {
	for _, e := range l.Entities {
		if e.Index == index {
			return e
		}
	}
	return nil
}

// ClassLightVolume marks a brush entity whose brushes bound a light
// instead of adding geometry.
const ClassLightVolume = "light_volume"

// Models returns the brush entities other than the world, in source
// order. Light volumes are not models.
func (l *Level) Models() []*Entity {
	var out []*Entity
	for _, e := range l.Entities[1:] {
		if len(e.Brushes()) > 0 && e.ClassName != ClassLightVolume {
			out = append(out, e)
		}
	}
	return out
}

// LightVolumes returns the light_volume entities.
func (l *Level) LightVolumes() []*Entity {
	var out []*Entity
	for _, e := range l.Entities[1:] {
		if e.ClassName == ClassLightVolume && len(e.Brushes()) > 0 {
			out = append(out, e)
		}
	}
	return out
}

// Occupants returns the origins of point entities, used to find the
// inside of the map.
func (l *Level) Occupants() []*Entity {
	var out []*Entity
	for _, e := range l.Entities[1:] {
		if e.IsPointEntity() {
			out = append(out, e)
		}
	}
	return out
}

// AllBrushes returns every brush, world first then other models.
func (l *Level) AllBrushes() []*Brush {
	out := append([]*Brush(nil), l.World...)
	for _, e := range l.Models() {
		out = append(out, e.Brushes()...)
	}
	return out
}

func parseVec(s string) (mgl64.Vec3, bool) {
	f := strings.Fields(s)
	if len(f) != 3 {
		return mgl64.Vec3{}, false
	}
	var v mgl64.Vec3
	for i := range f {
		x, err := strconv.ParseFloat(f[i], 64)
		if err != nil {
			return mgl64.Vec3{}, false
		}
		v[i] = x
	}
	return v, true
}

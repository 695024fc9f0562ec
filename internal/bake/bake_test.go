package bake

import (
	"context"
	"math"
	"testing"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/config"
	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/maptest"
	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/internal/session"
)

type fixture struct {
	s    *session.Session
	tree *bsp.Tree
	res  *Result
}

func bake(t *testing.T, cfg *config.Config, b *maptest.Builder) *fixture {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	s := session.New(cfg, nil)
	ctx := context.Background()
	lvl, err := level.Load(ctx, s, b.Bytes(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	carved, err := csg.Process(ctx, s, lvl)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	tree, err := bsp.Build(ctx, s, lvl.Planes, lvl.Bounds, carved.World, carved.Detail)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g, err := portal.Generate(ctx, s, tree)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	occ, err := portal.PlaceOccupants(s, g, lvl)
	if err != nil {
		t.Fatalf("PlaceOccupants: %v", err)
	}
	portal.FillOutside(s, g, occ)
	res, err := Bake(ctx, s, lvl, carved, tree)
	if err != nil {
		t.Fatalf("Bake: %v", err)
	}
	return &fixture{s: s, tree: tree, res: res}
}

func area(sf Surface) float64 {
	a := 0.0
	for _, w := range sf.Windings {
		a += w.Area()
	}
	return a
}

func TestRoomSurfaces(t *testing.T) {
	f := bake(t, nil, maptest.SealedRoom())
	if len(f.res.Surfaces) == 0 {
		t.Fatal("no surfaces")
	}
	total, floor := 0.0, 0.0
	for _, sf := range f.res.Surfaces {
		if sf.Model != 0 || sf.Leaf == NoLeaf {
			t.Errorf("world surface in model %d leaf %d", sf.Model, sf.Leaf)
			continue
		}
		if !f.tree.LeafNode(sf.Leaf).Contents.Passable() {
			t.Errorf("surface in opaque leaf %d", sf.Leaf)
		}
		a := area(sf)
		total += a
		p := f.tree.Planes.Plane(sf.Plane)
		if p.Normal == (mgl64.Vec3{0, 0, 1}) && p.Dist == 0 {
			floor += a
		}
	}
	// 192x128 floor and ceiling, two 128x128 and two 192x128 walls
	if want := 192.0 * 128; math.Abs(floor-want) > 1e-6 {
		t.Errorf("floor area = %v, want %v", floor, want)
	}
	if want := 131072.0; math.Abs(total-want) > 1e-6 {
		t.Errorf("visible area = %v, want %v", total, want)
	}
	if f.s.Counter("hidden_faces") == 0 {
		t.Error("no face pieces hidden against solid")
	}
}

func TestMergeReducesWindings(t *testing.T) {
	merged := bake(t, nil, maptest.StraightCorridor())
	cfg := config.Default()
	cfg.Bake.MergeFaces = false
	plain := bake(t, cfg, maptest.StraightCorridor())

	if len(merged.res.Surfaces) != len(plain.res.Surfaces) {
		t.Errorf("surfaces %d vs %d: merging must not change grouping", len(merged.res.Surfaces), len(plain.res.Surfaces))
	}
	mw, pw := merged.s.Counter("surface_windings"), plain.s.Counter("surface_windings")
	if mw > pw {
		t.Errorf("merged windings %d > unmerged %d", mw, pw)
	}
	for i := range merged.res.Surfaces {
		if d := area(merged.res.Surfaces[i]) - area(plain.res.Surfaces[i]); math.Abs(d) > 1e-6 {
			t.Errorf("surface %d area changed by %v", i, d)
		}
	}
}

func TestNoDrawSkipped(t *testing.T) {
	f := bake(t, nil, maptest.SealedRoom().Material("common/nodraw"))
	if len(f.res.Surfaces) != 0 {
		t.Errorf("surfaces = %d, want 0", len(f.res.Surfaces))
	}
	if f.s.Counter("nodraw_faces") == 0 {
		t.Error("nodraw faces not counted")
	}
}

func TestModelSurfaces(t *testing.T) {
	door := maptest.Box(mgl64.Vec3{160, 96, 0}, mgl64.Vec3{176, 160, 96}, "base/door")
	b := maptest.SealedRoom().Entity(maptest.BrushEntity("func_door", []string{door}))
	f := bake(t, nil, b)

	n := 0
	for _, sf := range f.res.Surfaces {
		if sf.Model == 0 {
			continue
		}
		n++
		if sf.Model != 1 || sf.Leaf != NoLeaf {
			t.Errorf("model surface in model %d leaf %d", sf.Model, sf.Leaf)
		}
	}
	if n != 6 {
		t.Errorf("model surfaces = %d, want 6", n)
	}
}

func TestPatchSurfaces(t *testing.T) {
	patch := `patchDef2
{
base/curve
( 3 3 0 0 0 )
(
( ( 64 64 32 0 0 ) ( 64 96 32 0 0.5 ) ( 64 128 32 0 1 ) )
( ( 96 64 32 0.5 0 ) ( 96 96 32 0.5 0.5 ) ( 96 128 32 0.5 1 ) )
( ( 128 64 32 1 0 ) ( 128 96 32 1 0.5 ) ( 128 128 32 1 1 ) )
)
}
`
	f := bake(t, nil, maptest.SealedRoom().Brush("{\n"+patch+"}\n"))
	got := 0.0
	for _, sf := range f.res.Surfaces {
		p := f.tree.Planes.Plane(sf.Plane)
		if math.Abs(p.Normal[2]) == 1 && math.Abs(p.Dist) == 32 {
			got += area(sf)
		}
	}
	if math.Abs(got-64*64) > 1e-6 {
		t.Errorf("patch area = %v, want %v", got, 64*64)
	}
}

func TestPointLight(t *testing.T) {
	b := maptest.StraightCorridor()
	origin := b.Marker('A')
	b.Entity(maptest.PointEntity("light", origin, "light", "60", "_color", "255 128 0"))
	f := bake(t, nil, b)

	if len(f.res.Lights) != 1 {
		t.Fatalf("lights = %d, want 1", len(f.res.Lights))
	}
	l := f.res.Lights[0]
	if l.Kind != LightPoint || l.Radius != 60 {
		t.Errorf("light kind %d radius %v", l.Kind, l.Radius)
	}
	if l.Color[0] != 1 || l.Color[2] != 0 || math.Abs(float64(l.Color[1])-128.0/255) > 1e-6 {
		t.Errorf("color = %v", l.Color)
	}

	home := f.tree.PointInLeaf(origin)
	far := f.tree.PointInLeaf(b.Marker('B'))
	found := false
	for _, leaf := range l.Leaves {
		if !f.tree.LeafNode(leaf).Contents.Passable() {
			t.Errorf("light reaches opaque leaf %d", leaf)
		}
		found = found || leaf == home
		if leaf == far {
			t.Error("light reaches the far room")
		}
	}
	if !found {
		t.Error("light misses its own leaf")
	}
	if len(l.Surfaces) == 0 {
		t.Fatal("light has no surfaces")
	}
	for _, i := range l.Surfaces {
		sf := f.res.Surfaces[i]
		if f.tree.Planes.Plane(sf.Plane).Distance(origin) <= 0 {
			t.Errorf("surface %d faces away from the light", i)
		}
	}
}

func TestLightSurfacesOptional(t *testing.T) {
	cfg := config.Default()
	cfg.Bake.LightSurfaces = false
	b := maptest.SealedRoom()
	b.Entity(maptest.PointEntity("light", b.Marker('A')))
	f := bake(t, cfg, b)
	l := f.res.Lights[0]
	if len(l.Leaves) == 0 {
		t.Error("light reaches no leaves")
	}
	if len(l.Surfaces) != 0 {
		t.Errorf("surfaces = %d without surface lists", len(l.Surfaces))
	}
	if l.Intensity != float32(cfg.Bake.DefaultLightIntensity) {
		t.Errorf("intensity = %v, want default", l.Intensity)
	}
}

func TestLightVolume(t *testing.T) {
	vol := maptest.Box(mgl64.Vec3{80, 80, 16}, mgl64.Vec3{112, 112, 48}, "common/trigger")
	b := maptest.SealedRoom().Entity(maptest.BrushEntity(level.ClassLightVolume, []string{vol}, "light", "200"))
	f := bake(t, nil, b)

	if len(f.res.Lights) != 1 {
		t.Fatalf("lights = %d, want 1", len(f.res.Lights))
	}
	l := f.res.Lights[0]
	if l.Kind != LightVolume || len(l.Region) != 6 || l.Intensity != 200 {
		t.Errorf("volume kind %d region %d intensity %v", l.Kind, len(l.Region), l.Intensity)
	}
	inside := f.tree.PointInLeaf(mgl64.Vec3{96, 96, 32})
	found := false
	for _, leaf := range l.Leaves {
		found = found || leaf == inside
	}
	if !found {
		t.Error("volume misses the leaf it sits in")
	}
	for _, sf := range f.res.Surfaces {
		if sf.Model != 0 {
			t.Error("light volume produced model surfaces")
		}
	}
}

func TestRadius(t *testing.T) {
	tests := []struct {
		name      string
		intensity float32
		scale     float32
		falloff   Falloff
		want      float32
	}{
		{"linear", 300, 1, FalloffLinear, 300},
		{"linear scaled", 300, 2, FalloffLinear, 150},
		{"inverse", 300, 1, FalloffInverse, 38400},
		{"inverse square", 400, 1, FalloffInverseSquare, 2560},
		{"none", 300, 1, FalloffNone, 65536},
		{"clamped", 1e6, 1, FalloffInverse, 65536},
		{"zero scale", 300, 0, FalloffLinear, 300},
		{"dark", 0, 1, FalloffLinear, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Radius(tt.intensity, tt.scale, tt.falloff, 65536)
			if math32.Abs(got-tt.want) > 1e-3 {
				t.Errorf("Radius = %v, want %v", got, tt.want)
			}
		})
	}
}

package level

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/config"
	"github.com/Faultbox/midgard-bsp/internal/maptest"
	"github.com/Faultbox/midgard-bsp/internal/session"
)

func newSession() *session.Session {
	return session.New(config.Default(), nil)
}

func load(t *testing.T, src string, res MaterialResolver) (*Level, *session.Session) {
	t.Helper()
	s := newSession()
	lvl, err := Load(context.Background(), s, []byte(src), res)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return lvl, s
}

type fakeResolver map[string]assets.Material

func (f fakeResolver) ResolveMaterial(name string) (assets.Material, error) {
	if m, ok := f[name]; ok {
		return m, nil
	}
	return assets.Material{Name: name}, nil
}

func TestLoadSealedRoom(t *testing.T) {
	b := maptest.SealedRoom()
	lvl, s := load(t, b.String(), nil)

	if len(lvl.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(lvl.Entities))
	}
	// floor, ceiling and one brush per solid run
	if len(lvl.World) != 8 {
		t.Errorf("world brushes = %d, want 8", len(lvl.World))
	}
	occ := lvl.Occupants()
	if len(occ) != 1 {
		t.Fatalf("occupants = %d, want 1", len(occ))
	}
	if occ[0].Origin != b.Marker('A') {
		t.Errorf("occupant origin = %v, want %v", occ[0].Origin, b.Marker('A'))
	}
	mins, maxs := b.Bounds()
	if lvl.Bounds.Min != mins || lvl.Bounds.Max != maxs {
		t.Errorf("bounds = %v..%v, want %v..%v", lvl.Bounds.Min, lvl.Bounds.Max, mins, maxs)
	}
	if s.Warnings() != 0 {
		t.Errorf("unexpected warnings: %v", s.Diagnostics())
	}
	for _, br := range lvl.World {
		if len(br.Sides) != 6 {
			t.Errorf("brush %d has %d sides", br.Index, len(br.Sides))
		}
		for _, side := range br.Sides {
			if len(side.Winding) != 4 {
				t.Errorf("brush %d side winding has %d points", br.Index, len(side.Winding))
			}
		}
		if br.Contents != ContentsSolid {
			t.Errorf("brush %d contents = %v", br.Index, br.Contents)
		}
	}
}

func TestBrushVolume(t *testing.T) {
	src := "{\n\"classname\" \"worldspawn\"\n" +
		maptest.Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{64, 32, 16}, "base/wall") + "}\n"
	lvl, _ := load(t, src, nil)
	if got := lvl.World[0].Volume(); math.Abs(got-64*32*16) > 1e-6 {
		t.Errorf("Volume = %v, want %v", got, 64*32*16)
	}
}

func TestThreePointBrush(t *testing.T) {
	src := `{
"classname" "worldspawn"
{
( 0 0 64 ) ( 0 64 64 ) ( 64 0 64 ) base/wall 0 0 0 1 1
( 0 0 0 ) ( 64 0 0 ) ( 0 64 0 ) base/wall 0 0 0 1 1
( 0 0 0 ) ( 0 64 0 ) ( 0 0 64 ) base/wall 0 0 0 1 1
( 64 0 0 ) ( 64 0 64 ) ( 64 64 0 ) base/wall 0 0 0 1 1
( 0 0 0 ) ( 0 0 64 ) ( 64 0 0 ) base/wall 0 0 0 1 1
( 0 64 0 ) ( 64 64 0 ) ( 0 64 64 ) base/wall 0 0 0 1 1
}
}
`
	lvl, s := load(t, src, nil)
	if len(lvl.World) != 1 {
		t.Fatalf("world brushes = %d, diagnostics %v", len(lvl.World), s.Diagnostics())
	}
	b := lvl.World[0].Bounds
	if b.Min != (mgl64.Vec3{0, 0, 0}) || b.Max != (mgl64.Vec3{64, 64, 64}) {
		t.Errorf("bounds = %v..%v", b.Min, b.Max)
	}
}

func TestRedundantSideDropped(t *testing.T) {
	src := "{\n\"classname\" \"worldspawn\"\n{\n" +
		"[ 1 0 0 64 ] base/wall 0 0 0 1 1\n[ 1 0 0 200 ] base/wall 0 0 0 1 1\n" +
		"[ -1 0 0 0 ] base/wall 0 0 0 1 1\n[ 0 1 0 64 ] base/wall 0 0 0 1 1\n" +
		"[ 0 -1 0 0 ] base/wall 0 0 0 1 1\n[ 0 0 1 64 ] base/wall 0 0 0 1 1\n" +
		"[ 0 0 -1 0 ] base/wall 0 0 0 1 1\n}\n}\n"
	lvl, s := load(t, src, nil)
	if len(lvl.World) != 1 {
		t.Fatalf("world brushes = %d, diagnostics %v", len(lvl.World), s.Diagnostics())
	}
	br := lvl.World[0]
	if len(br.Sides) != 6 {
		t.Fatalf("sides = %d, want 6", len(br.Sides))
	}
	for i, side := range br.Sides {
		if a := side.Winding.Area(); math.Abs(a-64*64) > 1e-6 {
			t.Errorf("side %d winding area = %v, want %v", i, a, 64*64)
		}
	}
	if br.Bounds.Min != (mgl64.Vec3{0, 0, 0}) || br.Bounds.Max != (mgl64.Vec3{64, 64, 64}) {
		t.Errorf("bounds = %v..%v", br.Bounds.Min, br.Bounds.Max)
	}
}

func TestInvalidBrushesSkipped(t *testing.T) {
	open := "{\n[ 1 0 0 64 ] base/wall 0 0 0 1 1\n[ -1 0 0 0 ] base/wall 0 0 0 1 1\n" +
		"[ 0 1 0 64 ] base/wall 0 0 0 1 1\n[ 0 -1 0 0 ] base/wall 0 0 0 1 1\n" +
		"[ 0 0 1 64 ] base/wall 0 0 0 1 1\n}\n"
	mirrored := "{\n[ 1 0 0 64 ] base/wall 0 0 0 1 1\n[ -1 0 0 -64 ] base/wall 0 0 0 1 1\n" +
		"[ 0 1 0 64 ] base/wall 0 0 0 1 1\n[ 0 -1 0 0 ] base/wall 0 0 0 1 1\n" +
		"[ 0 0 1 64 ] base/wall 0 0 0 1 1\n[ 0 0 -1 0 ] base/wall 0 0 0 1 1\n}\n"
	tooFew := "{\n[ 1 0 0 64 ] base/wall 0 0 0 1 1\n[ -1 0 0 0 ] base/wall 0 0 0 1 1\n" +
		"[ 0 0 1 64 ] base/wall 0 0 0 1 1\n}\n"
	zero := "{\n[ 0 0 0 64 ] base/wall 0 0 0 1 1\n[ -1 0 0 0 ] base/wall 0 0 0 1 1\n" +
		"[ 0 1 0 64 ] base/wall 0 0 0 1 1\n[ 0 -1 0 0 ] base/wall 0 0 0 1 1\n}\n"
	good := maptest.Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{64, 64, 64}, "base/wall")

	src := "{\n\"classname\" \"worldspawn\"\n" + open + mirrored + tooFew + zero + good + "}\n"
	lvl, s := load(t, src, nil)
	if len(lvl.World) != 1 {
		t.Errorf("world brushes = %d, want 1", len(lvl.World))
	}
	if lvl.World[0].Index != 4 {
		t.Errorf("kept brush index = %d, want 4", lvl.World[0].Index)
	}
	if s.Warnings() != 4 {
		t.Errorf("warnings = %d, want 4: %v", s.Warnings(), s.Diagnostics())
	}
	for _, d := range s.Diagnostics() {
		if d.Ref.Entity != 0 || d.Ref.Line <= 0 {
			t.Errorf("diagnostic without source reference: %v", d)
		}
	}
}

func TestDuplicateSideDropped(t *testing.T) {
	box := maptest.Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{64, 64, 64}, "base/wall")
	box = strings.Replace(box, "}\n", "[ 1 0 0 64 ] base/wall 0 0 0 1 1\n}\n", 1)
	cfg := config.Default()
	cfg.Logging.Verbosity = 3
	s := session.New(cfg, nil)
	lvl, err := Load(context.Background(), s, []byte("{\n\"classname\" \"worldspawn\"\n"+box+"}\n"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(lvl.World[0].Sides); got != 6 {
		t.Errorf("sides = %d, want 6", got)
	}
	if s.Counter("degenerate") != 1 {
		t.Errorf("degenerate = %d, want 1", s.Counter("degenerate"))
	}
}

func TestLoadErrors(t *testing.T) {
	box := maptest.Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{64, 64, 64}, "base/wall")
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"not worldspawn", "{\n\"classname\" \"info_null\"\n}\n", ErrNoWorldspawn},
		{"no brushes", "{\n\"classname\" \"worldspawn\"\n}\n", ErrNoWorldGeometry},
		{"only trigger", "{\n\"classname\" \"worldspawn\"\n" + strings.ReplaceAll(box, "base/wall", "common/trigger") + "}\n", ErrNoWorldGeometry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(context.Background(), newSession(), []byte(tt.src), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMalformedEntitySkipped(t *testing.T) {
	src := maptest.SealedRoom().String() + "{\n\"classname\" \"light\"\n\"origin\"\n}\n"
	lvl, s := load(t, src, nil)
	if len(lvl.Entities) != 2 {
		t.Errorf("entities = %d, want 2", len(lvl.Entities))
	}
	if s.Warnings() != 1 {
		t.Errorf("warnings = %d, want 1", s.Warnings())
	}
}

func TestLoadCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, newSession(), maptest.SealedRoom().Bytes(), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestEntityClasses(t *testing.T) {
	detail := maptest.Box(mgl64.Vec3{64, 64, 0}, mgl64.Vec3{96, 96, 32}, "base/crate")
	group := maptest.Box(mgl64.Vec3{128, 64, 0}, mgl64.Vec3{160, 96, 32}, "base/wall")
	door := maptest.Box(mgl64.Vec3{64, 128, 0}, mgl64.Vec3{96, 160, 64}, "base/door")
	src := maptest.SealedRoom().
		Entity(maptest.BrushEntity("func_detail", []string{detail})).
		Entity(maptest.BrushEntity("func_group", []string{group})).
		Entity(maptest.BrushEntity("func_door", []string{door}, "speed", "100")).
		String()
	lvl, _ := load(t, src, nil)

	if len(lvl.World) != 10 {
		t.Fatalf("world brushes = %d, want 10", len(lvl.World))
	}
	d := lvl.World[8]
	if d.Contents != ContentsSolid|ContentsDetail || d.Model != 0 || d.Entity != 2 {
		t.Errorf("detail brush = contents %v model %d entity %d", d.Contents, d.Model, d.Entity)
	}
	if g := lvl.World[9]; g.Contents != ContentsSolid || g.Entity != 3 {
		t.Errorf("group brush = contents %v entity %d", g.Contents, g.Entity)
	}
	models := lvl.Models()
	if len(models) != 1 || models[0].ClassName != "func_door" {
		t.Fatalf("models = %v", models)
	}
	if b := models[0].Brushes()[0]; b.Model != models[0].Index {
		t.Errorf("door model = %d, want %d", b.Model, models[0].Index)
	}
	if len(lvl.AllBrushes()) != 11 {
		t.Errorf("all brushes = %d, want 11", len(lvl.AllBrushes()))
	}
	for i, b := range lvl.World[1:] {
		if b.Order <= lvl.World[i].Order {
			t.Errorf("brush order not increasing at %d", i+1)
		}
	}
	if got := models[0].Float("speed", 0); got != 100 {
		t.Errorf("speed = %v", got)
	}
}

func TestContentsResolution(t *testing.T) {
	box := func(mat string) string {
		return maptest.Box(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{64, 64, 64}, mat)
	}
	flagged := strings.ReplaceAll(box("base/wall"), "0 0 0 1 1", "0 0 0 1 1 32 0 0")
	src := "{\n\"classname\" \"worldspawn\"\n" + box("base/wall") + box("liquids/*water1") +
		box("common/clip") + box("defined/glass") + flagged + box("sky/space") + "}\n"
	res := fakeResolver{
		"defined/glass": {Name: "defined/glass", Defined: true, Contents: []string{"water"}},
	}
	lvl, _ := load(t, src, res)

	want := []Contents{ContentsSolid, ContentsWater, ContentsPlayerClip, ContentsWater, ContentsWater, ContentsSolid}
	if len(lvl.World) != len(want) {
		t.Fatalf("world brushes = %d", len(lvl.World))
	}
	for i, w := range want {
		if got := lvl.World[i].Contents; got != w {
			t.Errorf("brush %d contents = %v, want %v", i, got, w)
		}
	}
	clip := lvl.World[2].Sides[0]
	if !clip.NoDraw || !lvl.MaterialNoDraw(clip.Material) {
		t.Error("clip side should be nodraw")
	}
	sky := lvl.World[5].Sides[0]
	if !sky.Sky || !lvl.MaterialSky(sky.Material) {
		t.Error("sky side should be sky")
	}
	if lvl.Materials[lvl.World[0].Sides[0].Material] != "base/wall" {
		t.Errorf("materials = %v", lvl.Materials)
	}
}

func TestMissingMaterialWarnsOnce(t *testing.T) {
	cfg := config.Default()
	cfg.Assets.WarnMissingMaterials = true
	s := session.New(cfg, nil)
	_, err := Load(context.Background(), s, maptest.SealedRoom().Bytes(), fakeResolver{})
	if err != nil {
		t.Fatal(err)
	}
	if s.Warnings() != 1 {
		t.Errorf("warnings = %d, want 1", s.Warnings())
	}
}

func TestContentsRank(t *testing.T) {
	if !(ContentsSolid.Rank() > (ContentsSolid | ContentsDetail).Rank()) {
		t.Error("solid should outrank detail")
	}
	if !((ContentsSolid | ContentsDetail).Rank() > ContentsWater.Rank()) {
		t.Error("detail should outrank water")
	}
	if (ContentsSolid | ContentsDetail).Opaque() {
		t.Error("detail is not opaque")
	}
	if ContentsWater.Opaque() || !ContentsWater.Passable() {
		t.Error("water is passable")
	}
	if got := (ContentsSolid | ContentsDetail).String(); got != "solid|detail" {
		t.Errorf("String = %q", got)
	}
}

func TestPatchLoad(t *testing.T) {
	patch := `{
patchDef2
{
base/curve
( 3 3 0 0 0 )
(
( ( 64 64 32 0 0 ) ( 64 96 32 0 0.5 ) ( 64 128 32 0 1 ) )
( ( 96 64 32 0.5 0 ) ( 96 96 64 0.5 0.5 ) ( 96 128 32 0.5 1 ) )
( ( 128 64 32 1 0 ) ( 128 96 32 1 0.5 ) ( 128 128 32 1 1 ) )
)
}
}
`
	src := strings.Replace(maptest.SealedRoom().String(), "}\n{\n\"classname\" \"info_target\"", patch+"}\n{\n\"classname\" \"info_target\"", 1)
	lvl, s := load(t, src, nil)
	patches := lvl.Worldspawn().Patches()
	if len(patches) != 1 {
		t.Fatalf("patches = %d, diagnostics %v", len(patches), s.Diagnostics())
	}
	p := patches[0]
	sub := config.Default().Bake.PatchSubdivisions
	if got, want := len(p.Triangles), 2*sub*sub; got != want {
		t.Errorf("triangles = %d, want %d", got, want)
	}
	if p.Bounds.Min[2] != 32 || p.Bounds.Max[2] <= 32 || p.Bounds.Max[2] >= 64 {
		t.Errorf("bounds = %v..%v", p.Bounds.Min, p.Bounds.Max)
	}
	if len(lvl.World) != 8 {
		t.Errorf("patch changed world brushes: %d", len(lvl.World))
	}
}

func TestTessellateFlat(t *testing.T) {
	grid := make([][]mgl64.Vec3, 3)
	for i := range grid {
		grid[i] = make([]mgl64.Vec3, 5)
		for j := range grid[i] {
			grid[i][j] = mgl64.Vec3{float64(i) * 32, float64(j) * 32, 0}
		}
	}
	tris := Tessellate(grid, 2, 0.1)
	if len(tris) != 16 {
		t.Fatalf("triangles = %d, want 16", len(tris))
	}
	var area float64
	for _, tr := range tris {
		area += tr.Area()
		if n := tr.Plane().Normal; math.Abs(math.Abs(n[2])-1) > 1e-9 {
			t.Errorf("triangle normal = %v", n)
		}
	}
	if math.Abs(area-64*128) > 1e-6 {
		t.Errorf("area = %v, want %v", area, 64*128)
	}
}

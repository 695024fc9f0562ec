package formats

import (
	"errors"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

const testMap = `// test level
{
"classname" "worldspawn"
"message" "Test"
// a box
{
( 0 0 0 ) ( 0 1 0 ) ( 1 0 0 ) base/floor 0 0 0 1 1
( 0 0 64 ) ( 1 0 64 ) ( 0 1 64 ) base/floor 0 0 0 1 1
[ 1 0 0 64 ] base/wall 0 0 0 1 1 1 0 0
( 0 0 0 ) ( 0 0 1 ) ( 0 1 0 ) base/wall 0 0 0 0.5 0.5
( 0 64 0 ) ( 0 64 1 ) ( 1 64 0 ) base/wall [ 1 0 0 8 ] [ 0 0 -1 4 ] 0 1 1
( 0 0 0 ) ( 1 0 0 ) ( 0 0 1 ) base/wall 0 0 0 1 1
}
{
patchDef2
{
base/curve
( 3 3 0 0 0 )
(
( ( 0 0 0 0 0 ) ( 0 32 0 0 0.5 ) ( 0 64 0 0 1 ) )
( ( 32 0 16 0.5 0 ) ( 32 32 16 0.5 0.5 ) ( 32 64 16 0.5 1 ) )
( ( 64 0 0 1 0 ) ( 64 32 0 1 0.5 ) ( 64 64 0 1 1 ) )
)
}
}
}
{
"classname" "info_player_start"
"origin" "32 32 24"
}
`

func TestParseMap(t *testing.T) {
	m, err := ParseMap([]byte(testMap))
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if len(m.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(m.Entities))
	}

	world := m.Entities[0]
	if world.ClassName() != "worldspawn" {
		t.Errorf("expected worldspawn, got %q", world.ClassName())
	}
	if world.Value("message") != "Test" {
		t.Errorf("expected message 'Test', got %q", world.Value("message"))
	}
	if world.Line != 2 {
		t.Errorf("expected entity line 2, got %d", world.Line)
	}
	if len(world.Brushes) != 1 {
		t.Fatalf("expected 1 brush, got %d", len(world.Brushes))
	}

	sides := world.Brushes[0].Sides
	if len(sides) != 6 {
		t.Fatalf("expected 6 sides, got %d", len(sides))
	}
	if sides[0].Points[1] != (mgl64.Vec3{0, 1, 0}) {
		t.Errorf("unexpected point %v", sides[0].Points[1])
	}
	if sides[0].Line != 7 {
		t.Errorf("expected side line 7, got %d", sides[0].Line)
	}
	if !sides[2].Explicit || sides[2].Normal != (mgl64.Vec3{1, 0, 0}) || sides[2].Dist != 64 {
		t.Errorf("explicit plane not parsed: %+v", sides[2])
	}
	if !sides[2].HasFlags || sides[2].Contents != 1 {
		t.Errorf("expected contents flags 1, got %+v", sides[2])
	}
	if sides[3].Scale != [2]float64{0.5, 0.5} {
		t.Errorf("expected scale 0.5, got %v", sides[3].Scale)
	}
	if !sides[4].Valve || sides[4].Offset != [2]float64{8, 4} {
		t.Errorf("valve projection not parsed: %+v", sides[4])
	}

	if len(world.Patches) != 1 {
		t.Fatalf("expected 1 patch, got %d", len(world.Patches))
	}
	p := world.Patches[0]
	if p.Material != "base/curve" || p.Width != 3 || p.Height != 3 {
		t.Errorf("unexpected patch header %s %dx%d", p.Material, p.Width, p.Height)
	}
	if p.Points[1][1].Pos != (mgl64.Vec3{32, 32, 16}) {
		t.Errorf("unexpected control point %v", p.Points[1][1].Pos)
	}

	if m.Entities[1].Value("origin") != "32 32 24" {
		t.Errorf("unexpected origin %q", m.Entities[1].Value("origin"))
	}
}

func TestParseMap_MalformedEntitySkipped(t *testing.T) {
	src := `{
"classname" "worldspawn"
}
{
"classname" "func_door"
{
( 0 0 0 ) ( 0 1 0 ) base/wall 0 0 0 1 1
}
}
{
"classname" "light"
"origin" "0 0 0"
}
`
	m, err := ParseMap([]byte(src))
	if err != nil {
		t.Fatalf("ParseMap failed: %v", err)
	}
	if len(m.Entities) != 3 {
		t.Fatalf("expected 3 entities, got %d", len(m.Entities))
	}
	bad := m.Entities[1]
	if bad.Err == nil {
		t.Fatal("expected malformed entity error")
	}
	var se *SyntaxError
	if !errors.As(bad.Err, &se) || se.Line != 7 {
		t.Errorf("expected syntax error at line 7, got %v", bad.Err)
	}
	if bad.ClassName() != "func_door" {
		t.Errorf("properties before the error should be kept, got %q", bad.ClassName())
	}
	if len(bad.Brushes) != 0 {
		t.Error("malformed entity should hold no brushes")
	}
	if m.Entities[2].ClassName() != "light" || m.Entities[2].Err != nil {
		t.Errorf("entity after malformed one not parsed: %+v", m.Entities[2])
	}
}

func TestParseMap_Unbalanced(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing close", "{\n\"classname\" \"worldspawn\"\n"},
		{"open brush", "{\n\"classname\" \"worldspawn\"\n{\n( 0 0 0 ) ( 0 1 0 ) ( 1 0 0 ) a 0 0 0 1 1\n}\n"},
		{"malformed then eof", "{\n\"classname\" \"worldspawn\"\n{\n( 0 0 0 ) x\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMap([]byte(tt.src))
			if !errors.Is(err, ErrUnbalancedBraces) {
				t.Errorf("expected ErrUnbalancedBraces, got %v", err)
			}
		})
	}
}

func TestParseMap_Empty(t *testing.T) {
	if _, err := ParseMap([]byte("// nothing\n")); !errors.Is(err, ErrEmptyMap) {
		t.Errorf("expected ErrEmptyMap, got %v", err)
	}
}

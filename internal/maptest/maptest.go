// Package maptest builds map source for tests. Levels are drawn as grids
// of cells seen from above:
//
//	'#' solid column
//	'.' empty
//	letters empty with a marker entity (targetname = the letter)
//
// Every grid gets a floor and a ceiling slab.
package maptest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Grid dimensions.
const (
	Cell    = 64.0
	Height  = 128.0
	Slab    = 16.0
	MarkerZ = 32.0
)

// DefaultMaterial is used for generated brushes.
const DefaultMaterial = "base/wall"

// Builder accumulates a level.
type Builder struct {
	rows     []string
	material string
	world    []string
	entities []string
	markers  map[byte]bool
}

// Grid starts a level from a cell layout. Row 0 is at y = 0, column 0 at
// x = 0; rows grow along +y.
func Grid(rows ...string) *Builder {
	return &Builder{rows: rows, material: DefaultMaterial, markers: make(map[byte]bool)}
}

// Material sets the material for generated brushes.
func (b *Builder) Material(m string) *Builder {
	b.material = m
	return b
}

// Brush adds raw brush text to worldspawn.
func (b *Builder) Brush(brush string) *Builder {
	b.world = append(b.world, brush)
	return b
}

// Entity adds raw entity text.
func (b *Builder) Entity(ent string) *Builder {
	b.entities = append(b.entities, ent)
	return b
}

// NoMarkers drops the marker entities, leaving the level without
// occupants.
func (b *Builder) NoMarkers() *Builder {
	b.markers = nil
	return b
}

// CellCenter returns the centre of a cell at marker height.
func CellCenter(row, col int) mgl64.Vec3 {
	return mgl64.Vec3{(float64(col) + 0.5) * Cell, (float64(row) + 0.5) * Cell, MarkerZ}
}

// Marker returns the position of the marker for letter, found at its first
// cell in row order.
func (b *Builder) Marker(letter byte) mgl64.Vec3 {
	for r, row := range b.rows {
		if c := strings.IndexByte(row, letter); c >= 0 {
			return CellCenter(r, c)
		}
	}
	panic(fmt.Sprintf("maptest: no cell %q", letter))
}

// Bounds returns the extents of the generated world.
func (b *Builder) Bounds() (mins, maxs mgl64.Vec3) {
	w := 0
	for _, row := range b.rows {
		w = max(w, len(row))
	}
	return mgl64.Vec3{0, 0, -Slab}, mgl64.Vec3{float64(w) * Cell, float64(len(b.rows)) * Cell, Height + Slab}
}

// String renders the map source.
func (b *Builder) String() string {
	var sb strings.Builder
	sb.WriteString("// generated by maptest\n{\n\"classname\" \"worldspawn\"\n")
	if len(b.rows) > 0 {
		mins, maxs := b.Bounds()
		sb.WriteString(Box(mins, mgl64.Vec3{maxs[0], maxs[1], 0}, b.material))
		sb.WriteString(Box(mgl64.Vec3{mins[0], mins[1], Height}, maxs, b.material))
	}
	for r, row := range b.rows {
		for c := 0; c < len(row); {
			if row[c] != '#' {
				c++
				continue
			}
			end := c
			for end < len(row) && row[end] == '#' {
				end++
			}
			sb.WriteString(Box(
				mgl64.Vec3{float64(c) * Cell, float64(r) * Cell, 0},
				mgl64.Vec3{float64(end) * Cell, float64(r+1) * Cell, Height},
				b.material))
			c = end
		}
	}
	for _, br := range b.world {
		sb.WriteString(br)
	}
	sb.WriteString("}\n")

	if b.markers != nil {
		seen := make(map[byte]bool)
		for _, row := range b.rows {
			for i := 0; i < len(row); i++ {
				ch := row[i]
				if ch < 'A' || ch > 'Z' || seen[ch] {
					continue
				}
				seen[ch] = true
				sb.WriteString(PointEntity("info_target", b.Marker(ch), "targetname", string(ch)))
			}
		}
	}
	for _, e := range b.entities {
		sb.WriteString(e)
	}
	return sb.String()
}

// Bytes renders the map source.
func (b *Builder) Bytes() []byte {
	return []byte(b.String())
}

// Box returns an axis aligned brush written with explicit planes.
func Box(mins, maxs mgl64.Vec3, material string) string {
	var sb strings.Builder
	sb.WriteString("{\n")
	for axis := 0; axis < 3; axis++ {
		var n mgl64.Vec3
		n[axis] = 1
		side(&sb, n, maxs[axis], material)
		n[axis] = -1
		side(&sb, n, -mins[axis], material)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func side(sb *strings.Builder, n mgl64.Vec3, d float64, material string) {
	fmt.Fprintf(sb, "[ %s %s %s %s ] %s 0 0 0 1 1\n", num(n[0]), num(n[1]), num(n[2]), num(d), material)
}

// PointEntity returns an entity with an origin and extra key/value pairs.
func PointEntity(class string, origin mgl64.Vec3, kv ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{\n\"classname\" %q\n\"origin\" \"%s %s %s\"\n", class, num(origin[0]), num(origin[1]), num(origin[2]))
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, "%q %q\n", kv[i], kv[i+1])
	}
	sb.WriteString("}\n")
	return sb.String()
}

// BrushEntity returns an entity owning the given brushes.
func BrushEntity(class string, brushes []string, kv ...string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "{\n\"classname\" %q\n", class)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, "%q %q\n", kv[i], kv[i+1])
	}
	for _, br := range brushes {
		sb.WriteString(br)
	}
	sb.WriteString("}\n")
	return sb.String()
}

func num(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SealedRoom is a single closed room with marker A.
func SealedRoom() *Builder {
	return Grid(
		"#####",
		"#A..#",
		"#...#",
		"#####",
	)
}

// DoorRoom is a room whose whole east wall is a single door brush.
// Unsealed, the brush is missing and the room opens onto the world
// boundary, so the level leaks.
func DoorRoom(sealed bool) *Builder {
	b := Grid(
		"#####",
		"#A...",
		"#....",
		"#####",
	)
	if sealed {
		b.Brush(Box(mgl64.Vec3{4 * Cell, Cell, 0}, mgl64.Vec3{5 * Cell, 3 * Cell, Height}, DefaultMaterial))
	}
	return b
}

// StraightCorridor joins rooms A and B with a straight corridor, so A
// sees B.
func StraightCorridor() *Builder {
	return Grid(
		"#########",
		"#AA###BB#",
		"#AA...BB#",
		"#########",
	)
}

// BentCorridor joins rooms A and B through two turns, so A cannot see B.
func BentCorridor() *Builder {
	return Grid(
		"##########",
		"#AAA######",
		"#AAA######",
		"##.#######",
		"##.#######",
		"##......##",
		"#######BB#",
		"#######BB#",
		"##########",
	)
}

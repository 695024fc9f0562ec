package level

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/pkg/formats"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Patch is a tessellated curved surface. Patches are render-only: they
// never reach CSG or the tree, and only add surfaces.
type Patch struct {
	Entity   int
	Model    int
	Index    int
	Line     int
	Material int
	NoDraw   bool
	Width    int
	Height   int
	// Triangles holds the tessellation, one winding per triangle.
	Triangles []geom.Winding
	Bounds    geom.Bounds
}

// patch tessellates a control grid.
func (l *loader) patch(entity, index int, mp formats.MapPatch) (*Patch, error) {
	if mp.Width < 3 || mp.Height < 3 || mp.Width%2 == 0 || mp.Height%2 == 0 {
		return nil, fmt.Errorf("bad patch size %dx%d", mp.Width, mp.Height)
	}
	grid := make([][]mgl64.Vec3, mp.Width)
	for i := range grid {
		if len(mp.Points[i]) != mp.Height {
			return nil, fmt.Errorf("patch column %d has %d rows, want %d", i, len(mp.Points[i]), mp.Height)
		}
		grid[i] = make([]mgl64.Vec3, mp.Height)
		for j := range grid[i] {
			grid[i][j] = mp.Points[i][j].Pos
		}
	}

	p := &Patch{
		Entity:   entity,
		Index:    index,
		Line:     mp.Line,
		Material: l.lvl.MaterialIndex(mp.Material),
		Width:    mp.Width,
		Height:   mp.Height,
		Bounds:   geom.EmptyBounds(),
	}
	info := contentsFromName(mp.Material)
	p.NoDraw = info.nodraw
	if mat, ok := l.resolve(mp.Material); ok && mat.NoDraw {
		p.NoDraw = true
	}

	sub := l.s.Config.Bake.PatchSubdivisions
	if sub < 1 {
		sub = 1
	}
	p.Triangles = Tessellate(grid, sub, l.s.Epsilon().Edge)
	if len(p.Triangles) == 0 {
		return nil, fmt.Errorf("patch has no area")
	}
	for _, t := range p.Triangles {
		for _, v := range t {
			p.Bounds.AddPoint(v)
		}
	}
	l.s.Count("patch_triangles", len(p.Triangles))
	return p, nil
}

// Tessellate evaluates a grid of biquadratic Bézier patches, indexed
// [column][row], at sub steps per patch and returns the triangles.
// Triangles with an edge shorter than minEdge are dropped.
func Tessellate(grid [][]mgl64.Vec3, sub int, minEdge float64) []geom.Winding {
	w, h := len(grid), len(grid[0])
	cols := (w-1)/2*sub + 1
	rows := (h-1)/2*sub + 1

	verts := make([][]mgl64.Vec3, cols)
	for c := range verts {
		verts[c] = make([]mgl64.Vec3, rows)
	}
	for pc := 0; pc < (w-1)/2; pc++ {
		for pr := 0; pr < (h-1)/2; pr++ {
			var ctrl [3][3]mgl64.Vec3
			for i := 0; i < 3; i++ {
				for j := 0; j < 3; j++ {
					ctrl[i][j] = grid[pc*2+i][pr*2+j]
				}
			}
			for i := 0; i <= sub; i++ {
				for j := 0; j <= sub; j++ {
					u := float64(i) / float64(sub)
					v := float64(j) / float64(sub)
					verts[pc*sub+i][pr*sub+j] = bezier(ctrl, u, v)
				}
			}
		}
	}

	var tris []geom.Winding
	add := func(a, b, c mgl64.Vec3) {
		t := geom.Winding{a, b, c}
		if t.IsTiny(minEdge) {
			return
		}
		tris = append(tris, t)
	}
	for c := 0; c < cols-1; c++ {
		for r := 0; r < rows-1; r++ {
			a := verts[c][r]
			b := verts[c+1][r]
			d := verts[c][r+1]
			e := verts[c+1][r+1]
			add(a, d, b)
			add(b, d, e)
		}
	}
	return tris
}

func bezier(ctrl [3][3]mgl64.Vec3, u, v float64) mgl64.Vec3 {
	var row [3]mgl64.Vec3
	for i := 0; i < 3; i++ {
		row[i] = quadratic(ctrl[i][0], ctrl[i][1], ctrl[i][2], v)
	}
	return quadratic(row[0], row[1], row[2], u)
}

func quadratic(a, b, c mgl64.Vec3, t float64) mgl64.Vec3 {
	s := 1 - t
	return a.Mul(s * s).Add(b.Mul(2 * s * t)).Add(c.Mul(t * t))
}

package compiler

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/Faultbox/midgard-bsp/internal/bake"
	"github.com/Faultbox/midgard-bsp/internal/bsp"
	"github.com/Faultbox/midgard-bsp/internal/csg"
	"github.com/Faultbox/midgard-bsp/internal/level"
	"github.com/Faultbox/midgard-bsp/internal/portal"
	"github.com/Faultbox/midgard-bsp/pkg/formats"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Material table flags.
const (
	MaterialNoDraw uint32 = 1 << iota
	MaterialSky
)

// stages holds the output of every compile stage.
type stages struct {
	lvl      *level.Level
	carved   *csg.Result
	tree     *bsp.Tree
	graph    *portal.Graph
	clusters *portal.Clusters
	vis      []byte
	baked    *bake.Result
}

// assemble converts the stage outputs into a world.
func assemble(st *stages, eps geom.Epsilon) *formats.World {
	w := &formats.World{
		Version:      formats.WorldVersion,
		ClusterCount: uint32(st.clusters.Len()),
	}
	if st.vis != nil {
		w.Flags |= formats.WorldVisComputed
		w.Vis = st.vis
	}

	brushIndex := make(map[*level.Brush]int32)
	for i, b := range st.lvl.AllBrushes() {
		brushIndex[b] = int32(i)
	}

	w.Entities = entities(st.lvl, st.carved)
	w.Materials = materials(st.lvl)
	for _, p := range st.lvl.Planes.Planes() {
		w.Planes = append(w.Planes, worldPlane(p))
	}
	w.Nodes = nodes(st.tree)
	portals, leafPortals := worldPortals(st.graph)
	w.Portals = portals
	w.Leaves = leaves(st.tree, leafPortals, brushIndex, eps)
	w.Surfaces = surfaces(st.baked.Surfaces)
	w.Lights = lights(st.baked.Lights)
	w.Brushes = brushes(st.lvl)
	return w
}

// entities keeps the source key/values and names brush models "*n".
func entities(lvl *level.Level, carved *csg.Result) []formats.WorldEntity {
	models := make(map[int]int, len(carved.Models))
	for i, m := range carved.Models {
		models[m.Entity] = i + 1
	}
	out := make([]formats.WorldEntity, 0, len(lvl.Entities))
	for _, e := range lvl.Entities {
		props := append([]formats.MapProperty(nil), e.Properties...)
		if n, ok := models[e.Index]; ok && e.Value("model") == "" {
			props = append(props, formats.MapProperty{Key: "model", Value: fmt.Sprintf("*%d", n)})
		}
		out = append(out, formats.WorldEntity{Properties: props})
	}
	return out
}

// materials records each material with the contents of the sides using it.
func materials(lvl *level.Level) []formats.WorldMaterial {
	out := make([]formats.WorldMaterial, len(lvl.Materials))
	for i, name := range lvl.Materials {
		out[i].Name = name
		if lvl.MaterialNoDraw(i) {
			out[i].Flags |= MaterialNoDraw
		}
		if lvl.MaterialSky(i) {
			out[i].Flags |= MaterialSky
		}
	}
	for _, b := range lvl.AllBrushes() {
		for _, s := range b.Sides {
			out[s.Material].Contents |= uint32(s.Contents)
		}
	}
	return out
}

func worldPlane(p geom.Plane) formats.WorldPlane {
	return formats.WorldPlane{Normal: p.Normal, Dist: p.Dist}
}

func nodes(t *bsp.Tree) []formats.WorldNode {
	out := make([]formats.WorldNode, len(t.Nodes))
	for i := range t.Nodes {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			out[i] = formats.WorldNode{IsLeaf: true, Plane: -1, Children: [2]int32{-1, -1}, Leaf: int32(n.Leaf)}
			continue
		}
		out[i] = formats.WorldNode{
			Plane:    int32(n.Plane),
			Children: [2]int32{int32(n.Children[0]), int32(n.Children[1])},
			Leaf:     -1,
		}
	}
	return out
}

// worldPortals keeps the portals between two passable leaves, the ones
// the runtime walks. It also returns the kept portal ids of every leaf.
func worldPortals(g *portal.Graph) ([]formats.WorldPortal, [][]int32) {
	var out []formats.WorldPortal
	byLeaf := make([][]int32, g.Tree.NumLeaves())
	for _, p := range g.Portals {
		if p.Leaves[0] == portal.Outside || p.Leaves[1] == portal.Outside {
			continue
		}
		if !g.Passable(p.Leaves[0]) || !g.Passable(p.Leaves[1]) {
			continue
		}
		id := int32(len(out))
		wp := formats.WorldPortal{Plane: int32(p.Plane), Winding: vecs(p.Winding)}
		for i, leaf := range p.Leaves {
			wp.Leaves[i] = int32(leaf)
			wp.Clusters[i] = int32(g.Tree.LeafNode(leaf).Cluster)
			byLeaf[leaf] = append(byLeaf[leaf], id)
		}
		out = append(out, wp)
	}
	return out, byLeaf
}

func leaves(t *bsp.Tree, portals [][]int32, brushIndex map[*level.Brush]int32, eps geom.Epsilon) []formats.WorldLeaf {
	out := make([]formats.WorldLeaf, t.NumLeaves())
	for leaf := range out {
		n := t.LeafNode(leaf)
		b := n.Bounds
		if b.IsEmpty() {
			b = t.LeafBounds(leaf, eps)
		}
		wl := formats.WorldLeaf{
			Contents: uint32(n.Contents),
			Cluster:  int32(n.Cluster),
			Mins:     b.Min,
			Maxs:     b.Max,
			Portals:  portals[leaf],
		}
		seen := make(map[int32]bool)
		for _, f := range n.Fragments {
			if i, ok := brushIndex[f.Brush]; ok && !seen[i] {
				seen[i] = true
				wl.Brushes = append(wl.Brushes, i)
			}
		}
		out[leaf] = wl
	}
	return out
}

func surfaces(in []bake.Surface) []formats.WorldSurface {
	out := make([]formats.WorldSurface, len(in))
	for i, s := range in {
		ws := formats.WorldSurface{
			Material: int32(s.Material),
			Plane:    int32(s.Plane),
			Leaf:     int32(s.Leaf),
			Model:    int32(s.Model),
		}
		for _, w := range s.Windings {
			ws.Windings = append(ws.Windings, vecs(w))
		}
		out[i] = ws
	}
	return out
}

func lights(in []bake.Light) []formats.WorldLight {
	out := make([]formats.WorldLight, len(in))
	for i, l := range in {
		wl := formats.WorldLight{
			Kind:      uint8(l.Kind),
			Falloff:   uint8(l.Falloff),
			Origin:    [3]float32{float32(l.Origin[0]), float32(l.Origin[1]), float32(l.Origin[2])},
			Color:     l.Color,
			Intensity: l.Intensity,
			Radius:    l.Radius,
			Mins:      l.Bounds.Min,
			Maxs:      l.Bounds.Max,
			Leaves:    ints(l.Leaves),
			Surfaces:  ints(l.Surfaces),
		}
		for _, p := range l.Region {
			wl.Region = append(wl.Region, worldPlane(p))
		}
		out[i] = wl
	}
	return out
}

// brushes returns the collision brushes in the order of Level.AllBrushes.
func brushes(lvl *level.Level) []formats.WorldBrush {
	all := lvl.AllBrushes()
	out := make([]formats.WorldBrush, len(all))
	for i, b := range all {
		wb := formats.WorldBrush{Entity: int32(b.Entity), Contents: uint32(b.Contents)}
		for _, s := range b.Sides {
			p := lvl.Planes.Plane(s.Plane)
			wb.Sides = append(wb.Sides, formats.WorldBrushSide{Normal: p.Normal, Dist: p.Dist, Material: int32(s.Material)})
		}
		out[i] = wb
	}
	return out
}

func vecs(w geom.Winding) []mgl64.Vec3 {
	return append([]mgl64.Vec3(nil), w...)
}

func ints(v []int) []int32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

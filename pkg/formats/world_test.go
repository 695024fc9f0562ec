package formats

import (
	"bytes"
	"errors"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

// createTestWorld builds a small world touching every lump.
func createTestWorld() *World {
	square := []mgl64.Vec3{{0, 64, 0}, {64, 64, 0}, {64, 0, 0}, {0, 0, 0}}
	w := &World{
		Version:      WorldVersion,
		Flags:        WorldVisComputed,
		ClusterCount: 2,
		Entities: []WorldEntity{
			{Properties: []MapProperty{{Key: "classname", Value: "worldspawn"}}},
			{Properties: []MapProperty{{Key: "classname", Value: "light"}, {Key: "origin", Value: "1 2 3"}}},
		},
		Materials: []WorldMaterial{{Name: "base/floor", Contents: 1}},
		Planes: []WorldPlane{
			{Normal: mgl64.Vec3{1, 0, 0}, Dist: 32},
			{Normal: mgl64.Vec3{-1, 0, 0}, Dist: -32},
		},
		Nodes: []WorldNode{
			{Plane: 0, Children: [2]int32{1, 2}},
			{IsLeaf: true, Leaf: 0},
			{IsLeaf: true, Leaf: 1},
		},
		Leaves: []WorldLeaf{
			{Contents: 0, Cluster: 0, Maxs: mgl64.Vec3{32, 64, 64}, Portals: []int32{0}},
			{Contents: 0, Cluster: 1, Mins: mgl64.Vec3{32, 0, 0}, Maxs: mgl64.Vec3{64, 64, 64}, Portals: []int32{0}, Brushes: []int32{0}},
		},
		Portals: []WorldPortal{
			{Plane: 0, Leaves: [2]int32{0, 1}, Clusters: [2]int32{0, 1}, Winding: square},
		},
		Vis: []byte{0x0f},
		Surfaces: []WorldSurface{
			{Material: 0, Plane: 1, Leaf: 0, Model: 0, Windings: [][]mgl64.Vec3{square, square}},
		},
		Lights: []WorldLight{
			{Kind: LightPoint, Origin: [3]float32{1, 2, 3}, Color: [3]float32{1, 1, 1}, Intensity: 300, Radius: 300,
				Region: []WorldPlane{{Normal: mgl64.Vec3{0, 0, 1}, Dist: 4}}, Leaves: []int32{0, 1}, Surfaces: []int32{0}},
		},
		Brushes: []WorldBrush{
			{Entity: 0, Contents: 1, Sides: []WorldBrushSide{{Normal: mgl64.Vec3{0.6, 0.8, 0}, Dist: 1.0 / 3.0}}},
		},
	}
	return w
}

func TestWorldRoundTrip(t *testing.T) {
	w := createTestWorld()
	data, err := EncodeWorld(w)
	if err != nil {
		t.Fatalf("EncodeWorld failed: %v", err)
	}

	got, err := ParseWorld(data)
	if err != nil {
		t.Fatalf("ParseWorld failed: %v", err)
	}
	got.Lumps = [NumLumps]Lump{}
	if !reflect.DeepEqual(got, w) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, w)
	}

	again, err := EncodeWorld(got)
	if err != nil {
		t.Fatalf("EncodeWorld failed: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("re-encoding changed the bytes")
	}

	if got.Brushes[0].Sides[0].Dist != 1.0/3.0 {
		t.Error("brush distance lost precision")
	}
}

func TestWorldCanSee(t *testing.T) {
	w := createTestWorld()
	w.Vis = []byte{0x09} // 0->0 and 1->1 only
	if !w.CanSee(0, 0) || !w.CanSee(1, 1) {
		t.Error("clusters should see themselves")
	}
	if w.CanSee(0, 1) || w.CanSee(1, 0) {
		t.Error("clusters should not see each other")
	}

	w.Flags = 0
	if !w.CanSee(0, 1) {
		t.Error("without vis every cluster is visible")
	}
}

func TestParseWorld_Errors(t *testing.T) {
	data, err := EncodeWorld(createTestWorld())
	if err != nil {
		t.Fatal(err)
	}

	bad := append([]byte(nil), data...)
	copy(bad, "XXXX")
	if _, err := ParseWorld(bad); !errors.Is(err, ErrInvalidWorldMagic) {
		t.Errorf("expected ErrInvalidWorldMagic, got %v", err)
	}

	bad = append([]byte(nil), data...)
	bad[4] = 9
	if _, err := ParseWorld(bad); !errors.Is(err, ErrUnsupportedWorldVersion) {
		t.Errorf("expected ErrUnsupportedWorldVersion, got %v", err)
	}

	if _, err := ParseWorld(data[:len(data)-3]); !errors.Is(err, ErrTruncatedWorldData) {
		t.Errorf("expected ErrTruncatedWorldData, got %v", err)
	}

	w := createTestWorld()
	w.Nodes[0].Children[1] = 7
	corrupt, err := EncodeWorld(w)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseWorld(corrupt); !errors.Is(err, ErrCorruptWorld) {
		t.Errorf("expected ErrCorruptWorld, got %v", err)
	}

	w = createTestWorld()
	w.Vis = []byte{1, 2}
	if _, err := EncodeWorld(w); !errors.Is(err, ErrCorruptWorld) {
		t.Errorf("expected ErrCorruptWorld for bad vis size, got %v", err)
	}
}

func TestWorldFlagsString(t *testing.T) {
	if got := (WorldVisComputed | WorldDegraded).String(); got != "vis degraded" {
		t.Errorf("got %q", got)
	}
	if got := WorldFlags(0).String(); got != "none" {
		t.Errorf("got %q", got)
	}
}

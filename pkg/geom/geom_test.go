package geom

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func square(x0, y0, x1, y1, z float64) Winding {
	// clockwise seen from +z
	return Winding{
		{x0, y1, z},
		{x1, y1, z},
		{x1, y0, z},
		{x0, y0, z},
	}
}

func TestPlaneFromPoints(t *testing.T) {
	p, ok := PlaneFromPoints(mgl64.Vec3{0, 1, 5}, mgl64.Vec3{1, 1, 5}, mgl64.Vec3{1, 0, 5})
	if !ok {
		t.Fatal("expected valid plane")
	}
	if p.Normal != (mgl64.Vec3{0, 0, 1}) || p.Dist != 5 {
		t.Errorf("PlaneFromPoints = %v %v, want (0,0,1) 5", p.Normal, p.Dist)
	}
	if p.Type != PlaneZ {
		t.Errorf("expected PlaneZ, got %d", p.Type)
	}

	if _, ok := PlaneFromPoints(mgl64.Vec3{0, 0, 0}, mgl64.Vec3{1, 1, 1}, mgl64.Vec3{2, 2, 2}); ok {
		t.Error("collinear points should not form a plane")
	}
}

func TestPlaneSetPairs(t *testing.T) {
	s := NewPlaneSet(DefaultEpsilon())

	down := s.Find(mgl64.Vec3{0, 0, -1}, -16)
	if down%2 != 1 {
		t.Errorf("negative facing plane should be odd, got %d", down)
	}
	up := s.Find(mgl64.Vec3{0, 0, 1}, 16)
	if up != down^1 {
		t.Errorf("flipped plane = %d, want %d", up, down^1)
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 planes, got %d", s.Len())
	}

	again := s.Find(mgl64.Vec3{0, 0, 0.999999}, 16.004)
	if again != up {
		t.Errorf("near-equal plane not deduplicated: %d vs %d", again, up)
	}

	// distances around an integer boundary land in neighbouring buckets
	a := s.Find(mgl64.Vec3{1, 0, 0}, 31.999)
	b := s.Find(mgl64.Vec3{1, 0, 0}, 32.0)
	if a != b {
		t.Errorf("bucket neighbours not merged: %d vs %d", a, b)
	}

	n := mgl64.Vec3{1, 2, 0}.Normalize()
	diag := s.Find(n.Mul(-1), -10)
	p := s.Plane(diag &^ 1)
	if p.Normal[1] <= 0 {
		t.Errorf("even plane should face positive dominant axis, got %v", p.Normal)
	}
	if s.Plane(diag).Type != PlaneAnyY {
		t.Errorf("expected PlaneAnyY, got %d", s.Plane(diag).Type)
	}
}

func TestBaseForPlaneOrientation(t *testing.T) {
	planes := []Plane{
		NewPlane(mgl64.Vec3{0, 0, 1}, 10),
		NewPlane(mgl64.Vec3{-1, 0, 0}, 4),
		NewPlane(mgl64.Vec3{1, 1, 1}.Normalize(), 3),
	}
	for _, p := range planes {
		w := BaseForPlane(p, 1024)
		if len(w) != 4 {
			t.Fatalf("expected 4 points, got %d", len(w))
		}
		wp := w.Plane()
		if wp.Normal.Sub(p.Normal).Len() > 1e-9 {
			t.Errorf("winding normal %v, want %v", wp.Normal, p.Normal)
		}
		for _, pt := range w {
			if math.Abs(p.Distance(pt)) > 1e-6 {
				t.Errorf("point %v off plane by %f", pt, p.Distance(pt))
			}
		}
	}
}

func TestSplit(t *testing.T) {
	w := square(0, 0, 64, 64, 0)
	p := NewPlane(mgl64.Vec3{1, 0, 0}, 16)

	front, back := w.Split(p, 0.1)
	if front == nil || back == nil {
		t.Fatal("expected both halves")
	}
	if got := front.Area(); math.Abs(got-48*64) > 1e-6 {
		t.Errorf("front area = %f, want %d", got, 48*64)
	}
	if got := back.Area(); math.Abs(got-16*64) > 1e-6 {
		t.Errorf("back area = %f, want %d", got, 16*64)
	}

	// fully in front
	f, b := w.Split(NewPlane(mgl64.Vec3{1, 0, 0}, -5), 0.1)
	if b != nil || len(f) != 4 {
		t.Errorf("expected winding entirely in front")
	}

	// on plane goes back for Split and Chop, stays for ChopKeepOn
	on := NewPlane(mgl64.Vec3{0, 0, 1}, 0)
	f, b = w.Split(on, 0.1)
	if f != nil || b == nil {
		t.Errorf("on-plane winding should go back")
	}
	if w.Chop(on, 0.1) != nil {
		t.Error("Chop should discard on-plane winding")
	}
	if w.ChopKeepOn(on, 0.1) == nil {
		t.Error("ChopKeepOn should keep on-plane winding")
	}
}

func TestClassify(t *testing.T) {
	w := square(0, 0, 64, 64, 0)
	tests := []struct {
		plane Plane
		want  Side
	}{
		{NewPlane(mgl64.Vec3{1, 0, 0}, -1), SideFront},
		{NewPlane(mgl64.Vec3{1, 0, 0}, 65), SideBack},
		{NewPlane(mgl64.Vec3{1, 0, 0}, 32), SideBoth},
		{NewPlane(mgl64.Vec3{0, 0, 1}, 0), SideOn},
	}
	for _, tt := range tests {
		if got := w.Classify(tt.plane, 0.1); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.plane, got, tt.want)
		}
	}
}

func TestTryMerge(t *testing.T) {
	up := mgl64.Vec3{0, 0, 1}
	a := square(0, 0, 1, 1, 0)
	b := square(1, 0, 2, 1, 0)

	m := TryMerge(a, b, up)
	if m == nil {
		t.Fatal("adjacent squares should merge")
	}
	if len(m) != 4 {
		t.Errorf("expected colinear points removed, got %d points", len(m))
	}
	if got := m.Area(); math.Abs(got-2) > 1e-9 {
		t.Errorf("merged area = %f, want 2", got)
	}
	if m.Plane().Normal.Sub(up).Len() > 1e-9 {
		t.Errorf("merged winding flipped: %v", m.Plane().Normal)
	}

	c := square(0, 1, 1, 3, 0)
	tall := square(1, 0, 2, 1, 0)
	if TryMerge(c, tall, up) != nil {
		t.Error("windings touching at a corner should not merge")
	}
	wide := Winding{{0, 1, 0}, {1, 1, 0}, {2, 1, 0}, {2, 0, 0}, {0, 0, 0}}
	top := square(0, 1, 1, 2, 0)
	if TryMerge(wide, top, up) != nil {
		t.Error("concave result should not merge")
	}
}

func TestMergeWindings(t *testing.T) {
	up := mgl64.Vec3{0, 0, 1}
	ws := []Winding{
		square(0, 0, 1, 1, 0),
		square(5, 5, 6, 6, 0),
		square(1, 0, 2, 1, 0),
		square(0, 1, 2, 2, 0),
	}
	out := MergeWindings(ws, up)
	if len(out) != 2 {
		t.Fatalf("got %d windings, want 2", len(out))
	}
	if got := out[0].Area(); math.Abs(got-4) > 1e-9 {
		t.Errorf("merged area = %f, want 4", got)
	}
	if len(out[0]) != 4 {
		t.Errorf("merged winding has %d points, want 4", len(out[0]))
	}
	if math.Abs(ws[0].Area()-1) > 1e-9 || len(ws) != 4 {
		t.Error("input slice modified")
	}
}

func TestIsTiny(t *testing.T) {
	if !square(0, 0, 0.1, 0.1, 0).IsTiny(0.2) {
		t.Error("0.1 square should be tiny")
	}
	if square(0, 0, 1, 1, 0).IsTiny(0.2) {
		t.Error("unit square should not be tiny")
	}
	sliver := square(0, 0, 64, 0.1, 0)
	if !sliver.IsTiny(0.2) {
		t.Error("sliver with two long edges should be tiny")
	}
}

func TestBoundsOnPlaneSide(t *testing.T) {
	b := Bounds{Min: mgl64.Vec3{0, 0, 0}, Max: mgl64.Vec3{16, 16, 16}}
	tests := []struct {
		plane Plane
		want  Side
	}{
		{NewPlane(mgl64.Vec3{1, 0, 0}, -4), SideFront},
		{NewPlane(mgl64.Vec3{1, 0, 0}, 20), SideBack},
		{NewPlane(mgl64.Vec3{1, 0, 0}, 8), SideBoth},
		{NewPlane(mgl64.Vec3{-1, 0, 0}, 4), SideBack},
		{NewPlane(mgl64.Vec3{1, 1, 0}.Normalize(), 0), SideFront},
	}
	for _, tt := range tests {
		if got := b.OnPlaneSide(tt.plane, 0.01); got != tt.want {
			t.Errorf("OnPlaneSide(%v) = %v, want %v", tt.plane.Normal, got, tt.want)
		}
	}
}

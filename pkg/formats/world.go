package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/go-gl/mathgl/mgl64"
)

// World format errors.
var (
	ErrInvalidWorldMagic       = errors.New("invalid world magic: expected 'MWLD'")
	ErrUnsupportedWorldVersion = errors.New("unsupported world version")
	ErrTruncatedWorldData      = errors.New("truncated world data")
	ErrCorruptWorld            = errors.New("corrupt world data")
)

// World file identification.
const (
	WorldMagic   = "MWLD"
	WorldVersion = 1
)

// WorldFlags describe how a world was compiled.
type WorldFlags uint32

// World flags.
const (
	WorldVisComputed WorldFlags = 1 << iota
	WorldDegraded
)

// String lists the set flags.
func (f WorldFlags) String() string {
	s := ""
	if f&WorldVisComputed != 0 {
		s += "vis "
	}
	if f&WorldDegraded != 0 {
		s += "degraded "
	}
	if s == "" {
		return "none"
	}
	return s[:len(s)-1]
}

// Lump indices in directory order.
const (
	LumpEntities = iota
	LumpMaterials
	LumpPlanes
	LumpNodes
	LumpLeaves
	LumpPortals
	LumpVis
	LumpSurfaces
	LumpLights
	LumpBrushes
	NumLumps
)

var lumpNames = [NumLumps]string{
	"entities", "materials", "planes", "nodes", "leaves",
	"portals", "vis", "surfaces", "lights", "brushes",
}

// LumpName returns the name of lump i.
func LumpName(i int) string {
	if i < 0 || i >= NumLumps {
		return fmt.Sprintf("lump%d", i)
	}
	return lumpNames[i]
}

const worldHeaderSize = 4 + 4 + 4 + 32 + 4 + NumLumps*8

// Lump locates one section of the file.
type Lump struct {
	Offset uint32
	Length uint32
}

// World is a compiled level.
type World struct {
	Version      uint32
	Flags        WorldFlags
	Checksum     [32]byte
	ClusterCount uint32
	Lumps        [NumLumps]Lump // filled by ParseWorld

	Entities  []WorldEntity
	Materials []WorldMaterial
	Planes    []WorldPlane
	Nodes     []WorldNode
	Leaves    []WorldLeaf
	Portals   []WorldPortal
	Vis       []byte
	Surfaces  []WorldSurface
	Lights    []WorldLight
	Brushes   []WorldBrush
}

// WorldEntity keeps the source key/values of an entity.
type WorldEntity struct {
	Properties []MapProperty
}

// WorldMaterial is an entry of the material table.
type WorldMaterial struct {
	Name     string
	Contents uint32
	Flags    uint32
}

// WorldPlane is an entry of the deduplicated plane table.
type WorldPlane struct {
	Normal mgl64.Vec3
	Dist   float64
}

// WorldNode is a node of the pre-order tree array. Leaf nodes reference
// Leaves; internal nodes reference a plane and two child nodes, front
// first.
type WorldNode struct {
	IsLeaf   bool
	Plane    int32
	Children [2]int32
	Leaf     int32
}

// WorldLeaf is a convex region of the tree.
type WorldLeaf struct {
	Contents uint32
	Cluster  int32
	Mins     mgl64.Vec3
	Maxs     mgl64.Vec3
	Portals  []int32
	Brushes  []int32
}

// WorldPortal joins two leaves. The winding faces Leaves[0].
type WorldPortal struct {
	Plane    int32
	Leaves   [2]int32
	Clusters [2]int32
	Winding  []mgl64.Vec3
}

// WorldSurface is a merged draw surface.
type WorldSurface struct {
	Material int32
	Plane    int32
	Leaf     int32
	Model    int32
	Windings [][]mgl64.Vec3
}

// Light kinds.
const (
	LightPoint  uint8 = 0
	LightVolume uint8 = 1
)

// WorldLight is a static light and the leaves and surfaces it reaches.
type WorldLight struct {
	Kind      uint8
	Falloff   uint8
	Origin    [3]float32
	Color     [3]float32
	Intensity float32
	Radius    float32
	Mins      mgl64.Vec3
	Maxs      mgl64.Vec3
	Region    []WorldPlane
	Leaves    []int32
	Surfaces  []int32
}

// WorldBrush is a collision brush in full source precision.
type WorldBrush struct {
	Entity   int32
	Contents uint32
	Sides    []WorldBrushSide
}

// WorldBrushSide is one half space of a collision brush.
type WorldBrushSide struct {
	Normal   mgl64.Vec3
	Dist     float64
	Material int32
}

// VisBytes returns the size of the vis lump for n clusters.
func VisBytes(n int) int {
	return (n*n + 7) / 8
}

// CanSee reports whether cluster a may see cluster b. Without vis data
// every cluster may see every other.
func (w *World) CanSee(a, b int) bool {
	if w.Flags&WorldVisComputed == 0 {
		return true
	}
	bit := a*int(w.ClusterCount) + b
	return w.Vis[bit>>3]&(1<<(bit&7)) != 0
}

// LoadWorld reads a compiled world file.
func LoadWorld(path string) (*World, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseWorld(data)
}

// WriteWorld encodes w to out.
func WriteWorld(out io.Writer, w *World) error {
	data, err := EncodeWorld(w)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// EncodeWorld encodes w. The encoding depends only on the contents of w.
func EncodeWorld(w *World) ([]byte, error) {
	if w.Flags&WorldVisComputed != 0 && len(w.Vis) != VisBytes(int(w.ClusterCount)) {
		return nil, fmt.Errorf("vis lump is %d bytes, want %d: %w", len(w.Vis), VisBytes(int(w.ClusterCount)), ErrCorruptWorld)
	}

	var lumps [NumLumps][]byte
	lumps[LumpEntities] = encodeEntities(w.Entities)
	lumps[LumpMaterials] = encodeMaterials(w.Materials)
	lumps[LumpPlanes] = encodePlanes(w.Planes)
	lumps[LumpNodes] = encodeNodes(w.Nodes)
	lumps[LumpLeaves] = encodeLeaves(w.Leaves)
	lumps[LumpPortals] = encodePortals(w.Portals)
	lumps[LumpVis] = append([]byte(nil), w.Vis...)
	lumps[LumpSurfaces] = encodeSurfaces(w.Surfaces)
	lumps[LumpLights] = encodeLights(w.Lights)
	lumps[LumpBrushes] = encodeBrushes(w.Brushes)

	buf := new(bytes.Buffer)
	buf.WriteString(WorldMagic)
	binary.Write(buf, binary.LittleEndian, uint32(WorldVersion))
	binary.Write(buf, binary.LittleEndian, uint32(w.Flags))
	buf.Write(w.Checksum[:])
	binary.Write(buf, binary.LittleEndian, w.ClusterCount)

	offset := uint32(worldHeaderSize)
	for _, l := range lumps {
		binary.Write(buf, binary.LittleEndian, offset)
		binary.Write(buf, binary.LittleEndian, uint32(len(l)))
		offset += uint32(len(l))
	}
	for _, l := range lumps {
		buf.Write(l)
	}
	return buf.Bytes(), nil
}

// ParseWorld decodes a compiled world.
func ParseWorld(data []byte) (*World, error) {
	if len(data) < worldHeaderSize {
		return nil, ErrTruncatedWorldData
	}
	if string(data[0:4]) != WorldMagic {
		return nil, ErrInvalidWorldMagic
	}
	w := &World{}
	w.Version = binary.LittleEndian.Uint32(data[4:8])
	if w.Version != WorldVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWorldVersion, w.Version)
	}
	w.Flags = WorldFlags(binary.LittleEndian.Uint32(data[8:12]))
	copy(w.Checksum[:], data[12:44])
	w.ClusterCount = binary.LittleEndian.Uint32(data[44:48])

	var lumps [NumLumps][]byte
	for i := 0; i < NumLumps; i++ {
		off := 48 + i*8
		l := Lump{
			Offset: binary.LittleEndian.Uint32(data[off:]),
			Length: binary.LittleEndian.Uint32(data[off+4:]),
		}
		end := uint64(l.Offset) + uint64(l.Length)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("%s lump: %w", LumpName(i), ErrTruncatedWorldData)
		}
		w.Lumps[i] = l
		lumps[i] = data[l.Offset:end]
	}

	var err error
	if w.Entities, err = decodeEntities(lumps[LumpEntities]); err != nil {
		return nil, fmt.Errorf("entities lump: %w", err)
	}
	if w.Materials, err = decodeMaterials(lumps[LumpMaterials]); err != nil {
		return nil, fmt.Errorf("materials lump: %w", err)
	}
	if w.Planes, err = decodePlanes(lumps[LumpPlanes]); err != nil {
		return nil, fmt.Errorf("planes lump: %w", err)
	}
	if w.Nodes, err = decodeNodes(lumps[LumpNodes]); err != nil {
		return nil, fmt.Errorf("nodes lump: %w", err)
	}
	if w.Leaves, err = decodeLeaves(lumps[LumpLeaves]); err != nil {
		return nil, fmt.Errorf("leaves lump: %w", err)
	}
	if w.Portals, err = decodePortals(lumps[LumpPortals]); err != nil {
		return nil, fmt.Errorf("portals lump: %w", err)
	}
	if len(lumps[LumpVis]) > 0 {
		w.Vis = append([]byte(nil), lumps[LumpVis]...)
	}
	if w.Surfaces, err = decodeSurfaces(lumps[LumpSurfaces]); err != nil {
		return nil, fmt.Errorf("surfaces lump: %w", err)
	}
	if w.Lights, err = decodeLights(lumps[LumpLights]); err != nil {
		return nil, fmt.Errorf("lights lump: %w", err)
	}
	if w.Brushes, err = decodeBrushes(lumps[LumpBrushes]); err != nil {
		return nil, fmt.Errorf("brushes lump: %w", err)
	}

	if err := w.validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *World) validate() error {
	if w.Flags&WorldVisComputed != 0 && len(w.Vis) != VisBytes(int(w.ClusterCount)) {
		return fmt.Errorf("vis lump is %d bytes for %d clusters: %w", len(w.Vis), w.ClusterCount, ErrCorruptWorld)
	}
	for i, n := range w.Nodes {
		if n.IsLeaf {
			if n.Leaf < 0 || int(n.Leaf) >= len(w.Leaves) {
				return fmt.Errorf("node %d references leaf %d: %w", i, n.Leaf, ErrCorruptWorld)
			}
			continue
		}
		if n.Plane < 0 || int(n.Plane) >= len(w.Planes) {
			return fmt.Errorf("node %d references plane %d: %w", i, n.Plane, ErrCorruptWorld)
		}
		for _, c := range n.Children {
			if int(c) <= i || int(c) >= len(w.Nodes) {
				return fmt.Errorf("node %d has child %d: %w", i, c, ErrCorruptWorld)
			}
		}
	}
	for i, p := range w.Portals {
		for _, l := range p.Leaves {
			if l < 0 || int(l) >= len(w.Leaves) {
				return fmt.Errorf("portal %d references leaf %d: %w", i, l, ErrCorruptWorld)
			}
		}
	}
	return nil
}

// encoder appends little endian values.
type encoder struct {
	b []byte
}

func (e *encoder) u8(v uint8)   { e.b = append(e.b, v) }
func (e *encoder) u32(v uint32) { e.b = binary.LittleEndian.AppendUint32(e.b, v) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }
func (e *encoder) f32(v float32) {
	e.u32(math.Float32bits(v))
}
func (e *encoder) f64(v float64) {
	e.b = binary.LittleEndian.AppendUint64(e.b, math.Float64bits(v))
}
func (e *encoder) vec(v mgl64.Vec3) {
	e.f64(v[0])
	e.f64(v[1])
	e.f64(v[2])
}
func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.b = append(e.b, s...)
}
func (e *encoder) ints(v []int32) {
	e.u32(uint32(len(v)))
	for _, x := range v {
		e.i32(x)
	}
}
func (e *encoder) winding(w []mgl64.Vec3) {
	e.u32(uint32(len(w)))
	for _, p := range w {
		e.vec(p)
	}
}
func (e *encoder) plane(p WorldPlane) {
	e.vec(p.Normal)
	e.f64(p.Dist)
}

// decoder reads little endian values and remembers the first error.
type decoder struct {
	b   []byte
	pos int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.pos+n > len(d.b) {
		d.err = ErrTruncatedWorldData
		return nil
	}
	s := d.b[d.pos : d.pos+n]
	d.pos += n
	return s
}

func (d *decoder) u8() uint8 {
	if s := d.take(1); s != nil {
		return s[0]
	}
	return 0
}

func (d *decoder) u32() uint32 {
	if s := d.take(4); s != nil {
		return binary.LittleEndian.Uint32(s)
	}
	return 0
}

func (d *decoder) i32() int32   { return int32(d.u32()) }
func (d *decoder) f32() float32 { return math.Float32frombits(d.u32()) }
func (d *decoder) f64() float64 {
	if s := d.take(8); s != nil {
		return math.Float64frombits(binary.LittleEndian.Uint64(s))
	}
	return 0
}
func (d *decoder) vec() mgl64.Vec3 {
	return mgl64.Vec3{d.f64(), d.f64(), d.f64()}
}

// count reads an element count and checks that at least min bytes per
// element remain.
func (d *decoder) count(min int) int {
	n := int(d.u32())
	if d.err == nil && n*min > len(d.b)-d.pos {
		d.err = ErrTruncatedWorldData
		return 0
	}
	return n
}

func (d *decoder) str() string {
	n := d.count(1)
	return string(d.take(n))
}

func (d *decoder) ints() []int32 {
	n := d.count(4)
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = d.i32()
	}
	return out
}

func (d *decoder) winding() []mgl64.Vec3 {
	n := d.count(24)
	if n == 0 {
		return nil
	}
	out := make([]mgl64.Vec3, n)
	for i := range out {
		out[i] = d.vec()
	}
	return out
}

func (d *decoder) plane() WorldPlane {
	return WorldPlane{Normal: d.vec(), Dist: d.f64()}
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.b) {
		return fmt.Errorf("%d trailing bytes: %w", len(d.b)-d.pos, ErrCorruptWorld)
	}
	return nil
}

func encodeEntities(ents []WorldEntity) []byte {
	e := &encoder{}
	e.u32(uint32(len(ents)))
	for _, ent := range ents {
		e.u32(uint32(len(ent.Properties)))
		for _, p := range ent.Properties {
			e.str(p.Key)
			e.str(p.Value)
		}
	}
	return e.b
}

func decodeEntities(b []byte) ([]WorldEntity, error) {
	d := &decoder{b: b}
	n := d.count(4)
	var out []WorldEntity
	for i := 0; i < n && d.err == nil; i++ {
		var ent WorldEntity
		np := d.count(8)
		for j := 0; j < np && d.err == nil; j++ {
			ent.Properties = append(ent.Properties, MapProperty{Key: d.str(), Value: d.str()})
		}
		out = append(out, ent)
	}
	return out, d.finish()
}

func encodeMaterials(mats []WorldMaterial) []byte {
	e := &encoder{}
	e.u32(uint32(len(mats)))
	for _, m := range mats {
		e.str(m.Name)
		e.u32(m.Contents)
		e.u32(m.Flags)
	}
	return e.b
}

func decodeMaterials(b []byte) ([]WorldMaterial, error) {
	d := &decoder{b: b}
	n := d.count(12)
	var out []WorldMaterial
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, WorldMaterial{Name: d.str(), Contents: d.u32(), Flags: d.u32()})
	}
	return out, d.finish()
}

func encodePlanes(planes []WorldPlane) []byte {
	e := &encoder{}
	e.u32(uint32(len(planes)))
	for _, p := range planes {
		e.plane(p)
	}
	return e.b
}

func decodePlanes(b []byte) ([]WorldPlane, error) {
	d := &decoder{b: b}
	n := d.count(32)
	var out []WorldPlane
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, d.plane())
	}
	return out, d.finish()
}

const (
	nodeTagInternal = 0
	nodeTagLeaf     = 1
)

func encodeNodes(nodes []WorldNode) []byte {
	e := &encoder{}
	e.u32(uint32(len(nodes)))
	for _, n := range nodes {
		if n.IsLeaf {
			e.u8(nodeTagLeaf)
			e.i32(n.Leaf)
			continue
		}
		e.u8(nodeTagInternal)
		e.i32(n.Plane)
		e.i32(n.Children[0])
		e.i32(n.Children[1])
	}
	return e.b
}

func decodeNodes(b []byte) ([]WorldNode, error) {
	d := &decoder{b: b}
	n := d.count(5)
	var out []WorldNode
	for i := 0; i < n && d.err == nil; i++ {
		switch tag := d.u8(); tag {
		case nodeTagLeaf:
			out = append(out, WorldNode{IsLeaf: true, Leaf: d.i32()})
		case nodeTagInternal:
			out = append(out, WorldNode{Plane: d.i32(), Children: [2]int32{d.i32(), d.i32()}})
		default:
			return nil, fmt.Errorf("node %d has tag %d: %w", i, tag, ErrCorruptWorld)
		}
	}
	return out, d.finish()
}

func encodeLeaves(leaves []WorldLeaf) []byte {
	e := &encoder{}
	e.u32(uint32(len(leaves)))
	for _, l := range leaves {
		e.u32(l.Contents)
		e.i32(l.Cluster)
		e.vec(l.Mins)
		e.vec(l.Maxs)
		e.ints(l.Portals)
		e.ints(l.Brushes)
	}
	return e.b
}

func decodeLeaves(b []byte) ([]WorldLeaf, error) {
	d := &decoder{b: b}
	n := d.count(64)
	var out []WorldLeaf
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, WorldLeaf{
			Contents: d.u32(),
			Cluster:  d.i32(),
			Mins:     d.vec(),
			Maxs:     d.vec(),
			Portals:  d.ints(),
			Brushes:  d.ints(),
		})
	}
	return out, d.finish()
}

func encodePortals(portals []WorldPortal) []byte {
	e := &encoder{}
	e.u32(uint32(len(portals)))
	for _, p := range portals {
		e.i32(p.Plane)
		e.i32(p.Leaves[0])
		e.i32(p.Leaves[1])
		e.i32(p.Clusters[0])
		e.i32(p.Clusters[1])
		e.winding(p.Winding)
	}
	return e.b
}

func decodePortals(b []byte) ([]WorldPortal, error) {
	d := &decoder{b: b}
	n := d.count(24)
	var out []WorldPortal
	for i := 0; i < n && d.err == nil; i++ {
		out = append(out, WorldPortal{
			Plane:    d.i32(),
			Leaves:   [2]int32{d.i32(), d.i32()},
			Clusters: [2]int32{d.i32(), d.i32()},
			Winding:  d.winding(),
		})
	}
	return out, d.finish()
}

func encodeSurfaces(surfs []WorldSurface) []byte {
	e := &encoder{}
	e.u32(uint32(len(surfs)))
	for _, s := range surfs {
		e.i32(s.Material)
		e.i32(s.Plane)
		e.i32(s.Leaf)
		e.i32(s.Model)
		e.u32(uint32(len(s.Windings)))
		for _, w := range s.Windings {
			e.winding(w)
		}
	}
	return e.b
}

func decodeSurfaces(b []byte) ([]WorldSurface, error) {
	d := &decoder{b: b}
	n := d.count(20)
	var out []WorldSurface
	for i := 0; i < n && d.err == nil; i++ {
		s := WorldSurface{Material: d.i32(), Plane: d.i32(), Leaf: d.i32(), Model: d.i32()}
		nw := d.count(4)
		for j := 0; j < nw && d.err == nil; j++ {
			s.Windings = append(s.Windings, d.winding())
		}
		out = append(out, s)
	}
	return out, d.finish()
}

func encodeLights(lights []WorldLight) []byte {
	e := &encoder{}
	e.u32(uint32(len(lights)))
	for _, l := range lights {
		e.u8(l.Kind)
		e.u8(l.Falloff)
		for _, v := range l.Origin {
			e.f32(v)
		}
		for _, v := range l.Color {
			e.f32(v)
		}
		e.f32(l.Intensity)
		e.f32(l.Radius)
		e.vec(l.Mins)
		e.vec(l.Maxs)
		e.u32(uint32(len(l.Region)))
		for _, p := range l.Region {
			e.plane(p)
		}
		e.ints(l.Leaves)
		e.ints(l.Surfaces)
	}
	return e.b
}

func decodeLights(b []byte) ([]WorldLight, error) {
	d := &decoder{b: b}
	n := d.count(98)
	var out []WorldLight
	for i := 0; i < n && d.err == nil; i++ {
		l := WorldLight{Kind: d.u8(), Falloff: d.u8()}
		for k := range l.Origin {
			l.Origin[k] = d.f32()
		}
		for k := range l.Color {
			l.Color[k] = d.f32()
		}
		l.Intensity = d.f32()
		l.Radius = d.f32()
		l.Mins = d.vec()
		l.Maxs = d.vec()
		nr := d.count(32)
		for j := 0; j < nr && d.err == nil; j++ {
			l.Region = append(l.Region, d.plane())
		}
		l.Leaves = d.ints()
		l.Surfaces = d.ints()
		out = append(out, l)
	}
	return out, d.finish()
}

func encodeBrushes(brushes []WorldBrush) []byte {
	e := &encoder{}
	e.u32(uint32(len(brushes)))
	for _, br := range brushes {
		e.i32(br.Entity)
		e.u32(br.Contents)
		e.u32(uint32(len(br.Sides)))
		for _, s := range br.Sides {
			e.vec(s.Normal)
			e.f64(s.Dist)
			e.i32(s.Material)
		}
	}
	return e.b
}

func decodeBrushes(b []byte) ([]WorldBrush, error) {
	d := &decoder{b: b}
	n := d.count(12)
	var out []WorldBrush
	for i := 0; i < n && d.err == nil; i++ {
		br := WorldBrush{Entity: d.i32(), Contents: d.u32()}
		ns := d.count(36)
		for j := 0; j < ns && d.err == nil; j++ {
			br.Sides = append(br.Sides, WorldBrushSide{Normal: d.vec(), Dist: d.f64(), Material: d.i32()})
		}
		out = append(out, br)
	}
	return out, d.finish()
}

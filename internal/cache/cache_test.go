package cache

import (
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/Faultbox/midgard-bsp/internal/assets"
	"github.com/Faultbox/midgard-bsp/internal/config"
)

func testEntry() *Entry {
	return &Entry{
		Source:   sha256.Sum256([]byte("map source")),
		Config:   sha256.Sum256([]byte("settings")),
		World:    []byte("MWLD world bytes"),
		Created:  time.Unix(1700000000, 42),
		Counters: map[string]int{"leaves": 12, "portals": 9, "delta": -3},
		Warnings: []string{"first", "second"},
	}
}

func TestEntryRoundTrip(t *testing.T) {
	e := testEntry()
	e.Version = "v1"
	got, err := UnmarshalEntry(e.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalEntry: %v", err)
	}
	if got.Source != e.Source || got.Config != e.Config {
		t.Error("checksums differ")
	}
	if got.Version != "v1" || string(got.World) != string(e.World) {
		t.Errorf("got version %q world %q", got.Version, got.World)
	}
	if !got.Created.Equal(e.Created) {
		t.Errorf("created = %v, want %v", got.Created, e.Created)
	}
	if len(got.Counters) != 3 || got.Counters["delta"] != -3 || got.Counters["leaves"] != 12 {
		t.Errorf("counters = %v", got.Counters)
	}
	if len(got.Warnings) != 2 || got.Warnings[1] != "second" {
		t.Errorf("warnings = %v", got.Warnings)
	}
}

func TestEntryDeterministic(t *testing.T) {
	a := testEntry().Marshal()
	b := testEntry().Marshal()
	if string(a) != string(b) {
		t.Error("equal entries encode differently")
	}
}

func TestEntryCorrupt(t *testing.T) {
	data := testEntry().Marshal()
	for _, b := range [][]byte{data[:len(data)-3], {0x0a, 0x02, 0x01, 0x02}, {0xff}} {
		if _, err := UnmarshalEntry(b); !errors.Is(err, ErrCorruptEntry) {
			t.Errorf("UnmarshalEntry(% x) error = %v, want ErrCorruptEntry", b, err)
		}
	}
}

func TestCacheHitAndMiss(t *testing.T) {
	store := NewMemoryStore()
	c := New(store, "v1", nil)
	e := testEntry()

	if _, ok, err := c.Get(e.Source, e.Config); ok || err != nil {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Put(e); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(e.Source, e.Config)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got.World) != string(e.World) {
		t.Errorf("world = %q", got.World)
	}

	other := e.Config
	other[0] ^= 1
	if _, ok, _ := c.Get(e.Source, other); ok {
		t.Error("different settings hit")
	}
	if _, ok, _ := New(store, "v2", nil).Get(e.Source, e.Config); ok {
		t.Error("entry from another version hit")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	e := testEntry()
	if err := store.Save(Key(e.Source, e.Config), []byte{0xff, 0xff}); err != nil {
		t.Fatal(err)
	}
	_, ok, err := New(store, "v1", nil).Get(e.Source, e.Config)
	if ok || err != nil {
		t.Errorf("ok=%v err=%v, want a silent miss", ok, err)
	}
}

func TestFingerprint(t *testing.T) {
	base, err := Fingerprint(config.Default(), nil)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Logging.Verbosity = 3
	cfg.Vis.Workers = 7
	cfg.Cache.Force = true
	if fp, _ := Fingerprint(cfg, nil); fp != base {
		t.Error("logging or worker settings changed the fingerprint")
	}

	cfg = config.Default()
	cfg.Vis.Skip = true
	if fp, _ := Fingerprint(cfg, nil); fp == base {
		t.Error("skip-vis did not change the fingerprint")
	}
	cfg = config.Default()
	cfg.Compile.Epsilon.On = 0.25
	if fp, _ := Fingerprint(cfg, nil); fp == base {
		t.Error("epsilon did not change the fingerprint")
	}

	defs := map[string]assets.MaterialDef{"base/wall": {}}
	plain, _ := Fingerprint(config.Default(), defs)
	if plain == base {
		t.Error("material definitions did not change the fingerprint")
	}
	defs["base/wall"] = assets.MaterialDef{NoDraw: true}
	if fp, _ := Fingerprint(config.Default(), defs); fp == plain {
		t.Error("nodraw flag did not change the fingerprint")
	}
	defs["base/wall"] = assets.MaterialDef{Contents: []string{"water"}}
	if fp, _ := Fingerprint(config.Default(), defs); fp == plain {
		t.Error("contents did not change the fingerprint")
	}
}

func TestOpenDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	c, err := Open(cfg, "v1", nil)
	if c != nil || err != nil {
		t.Errorf("Open = %v, %v; want nil, nil", c, err)
	}
}

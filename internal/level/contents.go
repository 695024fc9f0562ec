package level

import (
	"strings"
)

// Contents classifies the volume of a brush or leaf.
type Contents uint32

// Contents flags. Detail marks solid that does not partition space.
const (
	ContentsEmpty      Contents = 0
	ContentsSolid      Contents = 1 << 0
	ContentsWater      Contents = 1 << 1
	ContentsPlayerClip Contents = 1 << 2
	ContentsTrigger    Contents = 1 << 3
	ContentsDetail     Contents = 1 << 4
)

// Quake 2 style side flags found in map sources.
const (
	q2Solid      = 0x1
	q2Lava       = 0x8
	q2Slime      = 0x10
	q2Water      = 0x20
	q2PlayerClip = 0x10000
	q2Detail     = 0x8000000
	q2Trigger    = 0x40000000
)

func (c Contents) String() string {
	if c == ContentsEmpty {
		return "empty"
	}
	var parts []string
	names := []struct {
		flag Contents
		name string
	}{
		{ContentsSolid, "solid"},
		{ContentsWater, "water"},
		{ContentsPlayerClip, "playerclip"},
		{ContentsTrigger, "trigger"},
		{ContentsDetail, "detail"},
	}
	for _, n := range names {
		if c&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Opaque reports whether the contents block sight and movement for
// partitioning purposes.
func (c Contents) Opaque() bool {
	return c&ContentsSolid != 0 && c&ContentsDetail == 0
}

// Passable reports whether the leak flood may pass through.
func (c Contents) Passable() bool {
	return !c.Opaque()
}

// Structural reports whether a brush with these contents partitions the
// tree.
func (c Contents) Structural() bool {
	return c&ContentsDetail == 0 && c&(ContentsSolid|ContentsWater) != 0
}

// Volumetric reports whether a brush takes part in CSG.
func (c Contents) Volumetric() bool {
	return c&(ContentsSolid|ContentsWater) != 0
}

// Rank orders contents for overlap resolution: solid over detail over
// water.
func (c Contents) Rank() int {
	switch {
	case c&ContentsSolid != 0 && c&ContentsDetail == 0:
		return 3
	case c&ContentsDetail != 0:
		return 2
	case c&ContentsWater != 0:
		return 1
	}
	return 0
}

// ParseContents converts a material definition keyword.
func ParseContents(name string) (Contents, bool) {
	switch strings.ToLower(name) {
	case "solid":
		return ContentsSolid, true
	case "water", "slime", "lava":
		return ContentsWater, true
	case "playerclip", "clip":
		return ContentsPlayerClip, true
	case "trigger":
		return ContentsTrigger, true
	case "detail":
		return ContentsDetail, true
	case "empty", "nonsolid":
		return ContentsEmpty, true
	}
	return 0, false
}

func contentsFromFlags(flags int) Contents {
	var c Contents
	if flags&q2Solid != 0 {
		c |= ContentsSolid
	}
	if flags&(q2Lava|q2Slime|q2Water) != 0 {
		c |= ContentsWater
	}
	if flags&q2PlayerClip != 0 {
		c |= ContentsPlayerClip
	}
	if flags&q2Detail != 0 {
		c |= ContentsDetail
	}
	if flags&q2Trigger != 0 {
		c |= ContentsTrigger
	}
	return c
}

// nameInfo is what a material name implies when no definition exists.
type nameInfo struct {
	contents Contents
	known    bool
	nodraw   bool
	sky      bool
}

func contentsFromName(material string) nameInfo {
	full := strings.ToLower(material)
	name := full
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case name == "clip" || name == "*clip" || strings.HasSuffix(name, "playerclip"):
		return nameInfo{contents: ContentsPlayerClip, known: true, nodraw: true}
	case strings.Contains(name, "trigger"):
		return nameInfo{contents: ContentsTrigger, known: true, nodraw: true}
	case strings.HasPrefix(name, "*") || strings.Contains(name, "water") ||
		strings.Contains(name, "slime") || strings.Contains(name, "lava"):
		return nameInfo{contents: ContentsWater, known: true}
	case strings.HasPrefix(name, "sky") || strings.HasPrefix(full, "sky"):
		return nameInfo{contents: ContentsSolid, known: true, sky: true}
	case name == "nodraw" || name == "caulk" || name == "skip":
		return nameInfo{contents: ContentsSolid, known: true, nodraw: true}
	}
	return nameInfo{contents: ContentsSolid}
}

// normalize removes contradictions: solid swallows water, and brushes
// that are only detail become detail solid.
func (c Contents) normalize() Contents {
	if c&ContentsSolid != 0 {
		c &^= ContentsWater
	}
	if c&ContentsDetail != 0 && c&(ContentsSolid|ContentsWater) == 0 {
		c |= ContentsSolid
	}
	if c&(ContentsPlayerClip|ContentsTrigger) != 0 && c&ContentsSolid != 0 && c&ContentsDetail == 0 {
		// clip and trigger faces on an otherwise solid brush keep it solid
		c &^= ContentsPlayerClip | ContentsTrigger
	}
	return c
}

package assets

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaterialsFile is the definition file read from every source.
const MaterialsFile = "materials.yaml"

// textureExts are tried in order when checking that a material has an
// image.
var textureExts = []string{".tga", ".png", ".jpg", ".wal"}

// MaterialDef is the YAML definition of a material:
//
//	common/clip:
//	  contents: [playerclip]
//	  nodraw: true
type MaterialDef struct {
	Contents []string `yaml:"contents"`
	NoDraw   bool     `yaml:"nodraw"`
	Sky      bool     `yaml:"sky"`
}

// Material is a resolved material.
type Material struct {
	Name     string
	Defined  bool // a definition exists
	Found    bool // an image exists under textures/
	Contents []string
	NoDraw   bool
	Sky      bool
}

// ParseMaterials parses a definition file. Names are lowercased.
func ParseMaterials(data []byte) (map[string]MaterialDef, error) {
	raw := make(map[string]MaterialDef)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	defs := make(map[string]MaterialDef, len(raw))
	for name, def := range raw {
		defs[strings.ToLower(name)] = def
	}
	return defs, nil
}

// Materials returns the merged definitions of every source. Higher
// priority sources override lower ones per material.
func (m *Manager) Materials() (map[string]MaterialDef, error) {
	m.matOnce.Do(func() {
		m.mu.RLock()
		defer m.mu.RUnlock()

		m.matDefs = make(map[string]MaterialDef)
		for _, s := range m.sources {
			if !s.Contains(MaterialsFile) {
				continue
			}
			data, err := s.Read(MaterialsFile)
			if err != nil {
				m.matErr = fmt.Errorf("reading %s from %s: %w", MaterialsFile, s, err)
				return
			}
			defs, err := ParseMaterials(data)
			if err != nil {
				m.matErr = fmt.Errorf("parsing %s from %s: %w", MaterialsFile, s, err)
				return
			}
			for name, def := range defs {
				m.matDefs[name] = def
			}
		}
	})
	return m.matDefs, m.matErr
}

// ResolveMaterial looks up the definition and image of a material.
func (m *Manager) ResolveMaterial(name string) (Material, error) {
	defs, err := m.Materials()
	if err != nil {
		return Material{Name: name}, err
	}
	mat := Material{Name: name}
	if def, ok := defs[strings.ToLower(name)]; ok {
		mat.Defined = true
		mat.Contents = def.Contents
		mat.NoDraw = def.NoDraw
		mat.Sky = def.Sky
	}
	for _, ext := range textureExts {
		if m.Exists("textures/" + name + ext) {
			mat.Found = true
			break
		}
	}
	return mat, nil
}

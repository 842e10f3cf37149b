package data

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Attribute indexes the fixed-width attribute vector carried by every entity.
type Attribute int

const (
	AttrColor  Attribute = iota // packed RGBA, see PackColor
	AttrSolid                   // 1 = blocks movement
	AttrLayer                   // draw layer
	AttrHealth                  // hit points, 0 = indestructible

	AttrCount
)

var attributeNames = [AttrCount]string{
	AttrColor:  "color",
	AttrSolid:  "solid",
	AttrLayer:  "layer",
	AttrHealth: "health",
}

func (a Attribute) String() string {
	if a < 0 || a >= AttrCount {
		return fmt.Sprintf("attr(%d)", int(a))
	}
	return attributeNames[a]
}

// ParseAttribute maps an attribute name ("color", "solid", ...) to its index.
func ParseAttribute(name string) (Attribute, bool) {
	for i, n := range attributeNames {
		if n == name {
			return Attribute(i), true
		}
	}
	return 0, false
}

// Attributes is the attribute vector of a single entity.
type Attributes [AttrCount]int32

// Archetype names a template of default attributes. The set is closed.
type Archetype uint8

const (
	ArchetypeNone Archetype = iota
	ArchetypePlayer
	ArchetypeWall
	ArchetypeFloor
	ArchetypeWater
	ArchetypeTree

	archetypeCount
)

var archetypeNames = [archetypeCount]string{
	ArchetypeNone:   "none",
	ArchetypePlayer: "player",
	ArchetypeWall:   "wall",
	ArchetypeFloor:  "floor",
	ArchetypeWater:  "water",
	ArchetypeTree:   "tree",
}

func (a Archetype) String() string {
	if a >= archetypeCount {
		return fmt.Sprintf("archetype(%d)", int(a))
	}
	return archetypeNames[a]
}

// ParseArchetype maps an archetype name to its identifier.
func ParseArchetype(name string) (Archetype, bool) {
	for i, n := range archetypeNames {
		if n == name {
			return Archetype(i), true
		}
	}
	return 0, false
}

// ErrUnknownArchetype is returned for archetype ids or names outside the enumeration.
var ErrUnknownArchetype = errors.New("unknown archetype")

// PackColor packs an RGBA colour into a single attribute value.
func PackColor(r, g, b, a uint8) int32 {
	return int32(uint32(r)<<24 | uint32(g)<<16 | uint32(b)<<8 | uint32(a))
}

// SplitColor unpacks a colour produced by PackColor.
func SplitColor(c int32) (r, g, b, a uint8) {
	u := uint32(c)
	return uint8(u >> 24), uint8(u >> 16), uint8(u >> 8), uint8(u)
}

var builtinArchetypes = [archetypeCount]Attributes{
	ArchetypeNone:   {},
	ArchetypePlayer: {AttrColor: PackColor(230, 60, 60, 255), AttrSolid: 1, AttrLayer: 2, AttrHealth: 100},
	ArchetypeWall:   {AttrColor: PackColor(90, 90, 90, 255), AttrSolid: 1, AttrLayer: 1},
	ArchetypeFloor:  {AttrColor: PackColor(180, 160, 120, 255)},
	ArchetypeWater:  {AttrColor: PackColor(40, 90, 200, 200)},
	ArchetypeTree:   {AttrColor: PackColor(30, 140, 50, 255), AttrSolid: 1, AttrLayer: 1, AttrHealth: 20},
}

// ArchetypeTable holds the default attribute vector of every archetype.
// It is never mutated after construction and may be shared freely.
type ArchetypeTable struct {
	defaults [archetypeCount]Attributes
}

// DefaultArchetypes returns the compiled-in table.
func DefaultArchetypes() *ArchetypeTable {
	return &ArchetypeTable{defaults: builtinArchetypes}
}

// Defaults returns the default attribute vector for an archetype.
func (t *ArchetypeTable) Defaults(a Archetype) (Attributes, bool) {
	if a >= archetypeCount {
		return Attributes{}, false
	}
	return t.defaults[a], true
}

// Count returns the number of archetypes in the table.
func (t *ArchetypeTable) Count() int {
	return int(archetypeCount)
}

// ByColor returns the first archetype, None excluded, whose default colour
// is c.
func (t *ArchetypeTable) ByColor(c int32) (Archetype, bool) {
	for a := ArchetypeNone + 1; a < archetypeCount; a++ {
		if t.defaults[a][AttrColor] == c {
			return a, true
		}
	}
	return ArchetypeNone, false
}

// ArchetypeOverride is one row of the archetype YAML file. Unset fields keep
// the builtin value.
type ArchetypeOverride struct {
	Name   string `yaml:"name"`
	Color  []int  `yaml:"color,omitempty"` // r, g, b, a
	Solid  *int32 `yaml:"solid,omitempty"`
	Layer  *int32 `yaml:"layer,omitempty"`
	Health *int32 `yaml:"health,omitempty"`
}

type archetypeListFile struct {
	Archetypes []ArchetypeOverride `yaml:"archetypes"`
}

// LoadArchetypeTable loads archetype overrides from a YAML file on top of
// the builtin defaults.
func LoadArchetypeTable(path string) (*ArchetypeTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read archetype_list: %w", err)
	}
	return ParseArchetypeTable(raw)
}

// ParseArchetypeTable is LoadArchetypeTable for in-memory YAML.
func ParseArchetypeTable(raw []byte) (*ArchetypeTable, error) {
	var f archetypeListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse archetype_list: %w", err)
	}
	t := DefaultArchetypes()
	for _, row := range f.Archetypes {
		id, ok := ParseArchetype(row.Name)
		if !ok {
			return nil, fmt.Errorf("archetype_list %q: %w", row.Name, ErrUnknownArchetype)
		}
		attrs := &t.defaults[id]
		if row.Color != nil {
			if len(row.Color) != 4 {
				return nil, fmt.Errorf("archetype_list %q: color needs 4 components, got %d", row.Name, len(row.Color))
			}
			var rgba [4]uint8
			for i, c := range row.Color {
				if c < 0 || c > 255 {
					return nil, fmt.Errorf("archetype_list %q: color component %d out of range", row.Name, c)
				}
				rgba[i] = uint8(c)
			}
			attrs[AttrColor] = PackColor(rgba[0], rgba[1], rgba[2], rgba[3])
		}
		if row.Solid != nil {
			attrs[AttrSolid] = *row.Solid
		}
		if row.Layer != nil {
			attrs[AttrLayer] = *row.Layer
		}
		if row.Health != nil {
			attrs[AttrHealth] = *row.Health
		}
	}
	return t, nil
}

package models

import (
	"fmt"
	"strconv"
)

// AreaType is immutable reference data naming a level of the hierarchy
// ("Region", "District", "Commune").
type AreaType struct {
	ID   int64  `json:"id" yaml:"-"`
	Name string `json:"name" yaml:"name"`
	Slug string `json:"slug" yaml:"slug"`
}

// Area is one named region in the hierarchy. Left, Right, TreeID and Level
// are the persisted nested-set attributes and are owned by the tree engine.
// All nullable fields use pointers to distinguish between zero values and NULL.
type Area struct {
	ID       int64         `json:"id"`
	Name     string        `json:"name"`
	Code     string        `json:"code"`
	KindID   int64         `json:"kind"`
	ParentID *int64        `json:"parent,omitempty"`
	Left     int           `json:"-"`
	Right    int           `json:"-"`
	TreeID   int           `json:"-"`
	Level    int           `json:"level"`
	Geom     *MultiPolygon `json:"geometry,omitempty"`
	Location *Point        `json:"location,omitempty"`
}

// Point is a representative location of an area, such as its capital or
// a survey marker. It is independent of the boundary.
type Point struct {
	Latitude  float64 `json:"lat" validate:"min=-90,max=90"`
	Longitude float64 `json:"lng" validate:"min=-180,max=180"`
}

// String renders the point as "lat, lng".
func (p Point) String() string {
	return fmt.Sprintf("%s, %s", strconv.FormatFloat(p.Latitude, 'f', -1, 64), strconv.FormatFloat(p.Longitude, 'f', -1, 64))
}

// HasGeometry reports whether the area carries a non-empty boundary.
func (a *Area) HasGeometry() bool {
	return a.Geom != nil && !a.Geom.IsEmpty()
}

// Parent returns the parent id, 0 for a root.
func (a *Area) Parent() int64 {
	if a.ParentID == nil {
		return 0
	}
	return *a.ParentID
}

// DisplayNameAndType renders the area with its kind, e.g. "District of Bamako".
func (a *Area) DisplayNameAndType(kind AreaType) string {
	return fmt.Sprintf("%s of %s", kind.Name, a.Name)
}

// DisplayWithParent renders the area with its kind and its parent's, e.g.
// "Aldeia of Baha-Neo in Suco of Lia Ruca". Roots and districts are shown
// without the parent.
func (a *Area) DisplayWithParent(kind AreaType, parent *Area, parentKind AreaType) string {
	if parent == nil || kind.Name == "District" {
		return a.DisplayNameAndType(kind)
	}
	return fmt.Sprintf("%s in %s", a.DisplayNameAndType(kind), parent.DisplayNameAndType(parentKind))
}

// AreaInput is a request to create an area.
type AreaInput struct {
	Name     string        `json:"name" validate:"required,max=100"`
	Code     string        `json:"code" validate:"required,max=50"`
	KindID   int64         `json:"kind" validate:"required,gt=0"`
	ParentID *int64        `json:"parent,omitempty" validate:"omitempty,gt=0"`
	Geom     *MultiPolygon `json:"geometry,omitempty"`
	Location *Point        `json:"location,omitempty"`
}

// LocateInput sets or clears an area's location. A nil Location clears it.
type LocateInput struct {
	AreaID   int64  `json:"area" validate:"required,gt=0"`
	Location *Point `json:"location,omitempty"`
}

// MoveInput is a request to relocate an area's subtree.
type MoveInput struct {
	AreaID   int64  `json:"area" validate:"required,gt=0"`
	TargetID int64  `json:"target" validate:"required,gt=0"`
	Position string `json:"position" validate:"required,oneof=inside before after"`
}

// RenameInput is a request to change an area's display name.
type RenameInput struct {
	AreaID int64  `json:"area" validate:"required,gt=0"`
	Name   string `json:"name" validate:"required,max=100"`
}

// Border is a derived shared edge and every area whose boundary includes it.
// AreaIDs and AreaTypes are parallel arrays.
type Border struct {
	ID        int64      `json:"id"`
	Geom      LineString `json:"geometry"`
	AreaIDs   []int64    `json:"area_ids"`
	AreaTypes []int64    `json:"area_types"`
}

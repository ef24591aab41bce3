package models

import (
	"testing"
)

func TestAreaDisplay(t *testing.T) {
	district := AreaType{ID: 1, Name: "District", Slug: "district"}
	suco := AreaType{ID: 2, Name: "Suco", Slug: "suco"}
	aldeia := AreaType{ID: 3, Name: "Aldeia", Slug: "aldeia"}

	dili := &Area{ID: 1, Name: "Dili", KindID: district.ID}
	parentID := int64(2)
	liaRuca := &Area{ID: 2, Name: "Lia Ruca", KindID: suco.ID, ParentID: &parentID}
	bahaNeo := &Area{ID: 3, Name: "Baha-Neo", KindID: aldeia.ID, ParentID: &parentID}

	tests := []struct {
		name       string
		area       *Area
		kind       AreaType
		parent     *Area
		parentKind AreaType
		want       string
	}{
		{"root", dili, district, nil, AreaType{}, "District of Dili"},
		{"with parent", bahaNeo, aldeia, liaRuca, suco, "Aldeia of Baha-Neo in Suco of Lia Ruca"},
		{"district hides parent", &Area{Name: "Ermera", ParentID: &parentID}, district, dili, district, "District of Ermera"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.area.DisplayWithParent(tt.kind, tt.parent, tt.parentKind)
			if got != tt.want {
				t.Errorf("DisplayWithParent() = %q, want %q", got, tt.want)
			}
		})
	}

	if got := dili.DisplayNameAndType(district); got != "District of Dili" {
		t.Errorf("DisplayNameAndType() = %q", got)
	}
}

func TestAreaParent(t *testing.T) {
	root := Area{ID: 1}
	if root.Parent() != 0 {
		t.Errorf("root parent should be 0, got %d", root.Parent())
	}
	if root.HasGeometry() {
		t.Error("area without boundary reports geometry")
	}

	p := int64(9)
	child := Area{ID: 2, ParentID: &p, Geom: &MultiPolygon{}}
	if child.Parent() != 9 {
		t.Errorf("expected parent 9, got %d", child.Parent())
	}
	if child.HasGeometry() {
		t.Error("empty boundary reports geometry")
	}
}

func TestPointString(t *testing.T) {
	p := Point{Latitude: -8.5568557, Longitude: 125.5603143}
	if got := p.String(); got != "-8.5568557, 125.5603143" {
		t.Errorf("String() = %q", got)
	}
}

package block

import (
	"maps"
	"reflect"
	"slices"
)

// Fields is the per-type field set of a block. The set of variants is closed:
// only types in this package implement it.
type Fields interface {
	accepts(t Type) bool
	clone() Fields
}

// BoardFields describes a board and its card property schema.
type BoardFields struct {
	Icon            string
	Description     string
	ShowDescription bool
	IsTemplate      bool
	CardProperties  []PropertyTemplate
}

func (*BoardFields) accepts(t Type) bool { return t == TypeBoard }

func (f *BoardFields) clone() Fields {
	out := *f
	if f.CardProperties != nil {
		out.CardProperties = make([]PropertyTemplate, len(f.CardProperties))
		for i, p := range f.CardProperties {
			out.CardProperties[i] = p.clone()
		}
	}
	return &out
}

// Property returns the card property template with the given id.
func (f *BoardFields) Property(id string) (PropertyTemplate, bool) {
	for _, p := range f.CardProperties {
		if p.ID == id {
			return p, true
		}
	}
	return PropertyTemplate{}, false
}

// ViewType selects how a view lays out its cards.
type ViewType string

const (
	ViewBoard    ViewType = "board"
	ViewTable    ViewType = "table"
	ViewGallery  ViewType = "gallery"
	ViewCalendar ViewType = "calendar"
)

// Grouped reports whether views of this type partition cards by a
// group-by property.
func (v ViewType) Grouped() bool {
	return v == ViewBoard || v == ViewTable
}

// ViewFields describes how a board's cards are filtered, grouped and sorted.
type ViewFields struct {
	ViewType           ViewType
	GroupByID          string
	SortOptions        []SortOption
	VisiblePropertyIDs []string
	VisibleOptionIDs   []string
	HiddenOptionIDs    []string
	CollapsedOptionIDs []string
	Filter             FilterGroup
	CardOrder          []string
	ColumnWidths       map[string]int64
	ColumnCalculations map[string]string
}

func (*ViewFields) accepts(t Type) bool { return t == TypeView }

func (f *ViewFields) clone() Fields {
	out := *f
	out.SortOptions = slices.Clone(f.SortOptions)
	out.VisiblePropertyIDs = slices.Clone(f.VisiblePropertyIDs)
	out.VisibleOptionIDs = slices.Clone(f.VisibleOptionIDs)
	out.HiddenOptionIDs = slices.Clone(f.HiddenOptionIDs)
	out.CollapsedOptionIDs = slices.Clone(f.CollapsedOptionIDs)
	out.Filter = f.Filter.clone()
	out.CardOrder = slices.Clone(f.CardOrder)
	out.ColumnWidths = maps.Clone(f.ColumnWidths)
	out.ColumnCalculations = maps.Clone(f.ColumnCalculations)
	return &out
}

// SortOption orders cards by one property.
type SortOption struct {
	PropertyID string
	Reversed   bool
}

// CardFields carries a card's property values and content ordering.
type CardFields struct {
	Icon         string
	IsTemplate   bool
	Properties   map[string]Value
	ContentOrder []string
}

func (*CardFields) accepts(t Type) bool { return t == TypeCard }

func (f *CardFields) clone() Fields {
	out := *f
	if f.Properties != nil {
		out.Properties = make(map[string]Value, len(f.Properties))
		for k, v := range f.Properties {
			out.Properties[k] = v.clone()
		}
	}
	out.ContentOrder = slices.Clone(f.ContentOrder)
	return &out
}

// Value returns the value stored for a property id; the zero Value when unset.
func (f *CardFields) Value(propertyID string) Value {
	if f == nil || f.Properties == nil {
		return Value{}
	}
	return f.Properties[propertyID]
}

// CommentFields is empty: a comment's text lives in the header title.
type CommentFields struct{}

func (*CommentFields) accepts(t Type) bool { return t == TypeComment }

func (f *CommentFields) clone() Fields { return &CommentFields{} }

// ContentFields is shared by the content block kinds. Text content lives
// in the header title.
type ContentFields struct {
	FileID  string
	Checked bool
}

// ContentFields also back content kinds registered at runtime, so they are
// accepted by every type that has no dedicated variant.
func (*ContentFields) accepts(t Type) bool {
	switch t {
	case TypeBoard, TypeView, TypeCard, TypeComment:
		return false
	}
	return t != ""
}

func (f *ContentFields) clone() Fields {
	out := *f
	return &out
}

// Value is a card property value. Multi-select properties hold several
// option ids; everything else is a single string.
type Value struct {
	Str   string
	List  []string
	Multi bool
}

// Text returns a single-valued property value.
func Text(s string) Value {
	return Value{Str: s}
}

// List returns a multi-valued property value.
func List(ids ...string) Value {
	return Value{List: ids, Multi: true}
}

// IsEmpty reports whether the value carries nothing.
func (v Value) IsEmpty() bool {
	if v.Multi {
		return len(v.List) == 0
	}
	return v.Str == ""
}

// Strings returns the value as a list of strings.
func (v Value) Strings() []string {
	if v.Multi {
		return slices.Clone(v.List)
	}
	if v.Str == "" {
		return nil
	}
	return []string{v.Str}
}

func (v Value) clone() Value {
	v.List = slices.Clone(v.List)
	return v
}

func fieldsEqual(a, b Fields) bool {
	return reflect.DeepEqual(a, b)
}

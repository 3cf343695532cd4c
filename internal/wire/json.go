package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/boardreplica/internal/block"
)

// blockJSON is the wire shape of a block.
type blockJSON struct {
	ID          string          `json:"id"`
	ParentID    string          `json:"parentId"`
	RootID      string          `json:"rootId"`
	CreatedBy   string          `json:"createdBy"`
	ModifiedBy  string          `json:"modifiedBy"`
	Schema      int64           `json:"schema"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Fields      json.RawMessage `json:"fields,omitempty"`
	CreateAt    int64           `json:"createAt"`
	UpdateAt    int64           `json:"updateAt"`
	DeleteAt    int64           `json:"deleteAt"`
	WorkspaceID string          `json:"workspaceId"`
}

type boardFieldsJSON struct {
	Icon            string                 `json:"icon,omitempty"`
	Description     string                 `json:"description,omitempty"`
	ShowDescription bool                   `json:"showDescription,omitempty"`
	IsTemplate      bool                   `json:"isTemplate,omitempty"`
	CardProperties  []propertyTemplateJSON `json:"cardProperties,omitempty"`
}

type propertyTemplateJSON struct {
	ID      string               `json:"id"`
	Name    string               `json:"name"`
	Type    string               `json:"type"`
	Options []propertyOptionJSON `json:"options,omitempty"`
}

type propertyOptionJSON struct {
	ID    string `json:"id"`
	Value string `json:"value"`
	Color string `json:"color,omitempty"`
}

type viewFieldsJSON struct {
	ViewType           string            `json:"viewType,omitempty"`
	GroupByID          string            `json:"groupById,omitempty"`
	SortOptions        []sortOptionJSON  `json:"sortOptions,omitempty"`
	VisiblePropertyIDs []string          `json:"visiblePropertyIds,omitempty"`
	VisibleOptionIDs   []string          `json:"visibleOptionIds,omitempty"`
	HiddenOptionIDs    []string          `json:"hiddenOptionIds,omitempty"`
	CollapsedOptionIDs []string          `json:"collapsedOptionIds,omitempty"`
	Filter             *filterJSON       `json:"filter,omitempty"`
	CardOrder          []string          `json:"cardOrder,omitempty"`
	ColumnWidths       map[string]int64  `json:"columnWidths,omitempty"`
	ColumnCalculations map[string]string `json:"columnCalculations,omitempty"`
}

type sortOptionJSON struct {
	PropertyID string `json:"propertyId"`
	Reversed   bool   `json:"reversed"`
}

// filterJSON covers both filter groups and clauses; an entry with a
// condition is a clause.
type filterJSON struct {
	Operation  string       `json:"operation,omitempty"`
	Filters    []filterJSON `json:"filters,omitempty"`
	PropertyID string       `json:"propertyId,omitempty"`
	Condition  string       `json:"condition,omitempty"`
	Values     []string     `json:"values,omitempty"`
	From       int64        `json:"from,omitempty"`
	To         int64        `json:"to,omitempty"`
}

type cardFieldsJSON struct {
	Icon         string                     `json:"icon,omitempty"`
	IsTemplate   bool                       `json:"isTemplate,omitempty"`
	Properties   map[string]json.RawMessage `json:"properties,omitempty"`
	ContentOrder []string                   `json:"contentOrder,omitempty"`
}

type contentFieldsJSON struct {
	FileID  string `json:"fileId,omitempty"`
	Checked bool   `json:"value,omitempty"`
}

func decodeFields(raw json.RawMessage, f block.Fields) error {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	switch f := f.(type) {
	case *block.BoardFields:
		var j boardFieldsJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		f.Icon = j.Icon
		f.Description = j.Description
		f.ShowDescription = j.ShowDescription
		f.IsTemplate = j.IsTemplate
		for _, p := range j.CardProperties {
			tmpl := block.PropertyTemplate{ID: p.ID, Name: p.Name, Type: block.PropertyType(p.Type)}
			for _, o := range p.Options {
				tmpl.Options = append(tmpl.Options, block.PropertyOption{ID: o.ID, Value: o.Value, Color: o.Color})
			}
			f.CardProperties = append(f.CardProperties, tmpl)
		}
	case *block.ViewFields:
		var j viewFieldsJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		if j.ViewType != "" {
			f.ViewType = block.ViewType(j.ViewType)
		}
		f.GroupByID = j.GroupByID
		for _, s := range j.SortOptions {
			f.SortOptions = append(f.SortOptions, block.SortOption{PropertyID: s.PropertyID, Reversed: s.Reversed})
		}
		f.VisiblePropertyIDs = j.VisiblePropertyIDs
		f.VisibleOptionIDs = j.VisibleOptionIDs
		f.HiddenOptionIDs = j.HiddenOptionIDs
		f.CollapsedOptionIDs = j.CollapsedOptionIDs
		if j.Filter != nil {
			f.Filter = decodeFilterGroup(*j.Filter)
		}
		f.CardOrder = j.CardOrder
		f.ColumnWidths = j.ColumnWidths
		f.ColumnCalculations = j.ColumnCalculations
	case *block.CardFields:
		var j cardFieldsJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		f.Icon = j.Icon
		f.IsTemplate = j.IsTemplate
		f.ContentOrder = j.ContentOrder
		if f.Properties == nil {
			f.Properties = make(map[string]block.Value, len(j.Properties))
		}
		for id, rv := range j.Properties {
			v, err := decodeValue(rv)
			if err != nil {
				return fmt.Errorf("property %s: %w", id, err)
			}
			f.Properties[id] = v
		}
	case *block.ContentFields:
		var j contentFieldsJSON
		if err := json.Unmarshal(raw, &j); err != nil {
			return err
		}
		f.FileID = j.FileID
		f.Checked = j.Checked
	case *block.CommentFields:
	default:
		return fmt.Errorf("no wire mapping for %T", f)
	}
	return nil
}

func decodeValue(raw json.RawMessage) (block.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ids []string
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return block.Value{}, err
		}
		return block.List(ids...), nil
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return block.Value{}, err
	}
	return block.Text(s), nil
}

func decodeFilterGroup(j filterJSON) block.FilterGroup {
	g := block.FilterGroup{Operation: block.FilterOperation(j.Operation)}
	if g.Operation == "" {
		g.Operation = block.FilterAnd
	}
	for _, entry := range j.Filters {
		if entry.Condition != "" {
			g.Filters = append(g.Filters, block.Filter{Clause: &block.FilterClause{
				PropertyID: entry.PropertyID,
				Condition:  block.Condition(entry.Condition),
				Values:     entry.Values,
				From:       entry.From,
				To:         entry.To,
			}})
			continue
		}
		sub := decodeFilterGroup(entry)
		g.Filters = append(g.Filters, block.Filter{Group: &sub})
	}
	return g
}

func encodeFields(f block.Fields) (json.RawMessage, error) {
	var v any
	switch f := f.(type) {
	case nil:
		return nil, nil
	case *block.BoardFields:
		j := boardFieldsJSON{
			Icon:            f.Icon,
			Description:     f.Description,
			ShowDescription: f.ShowDescription,
			IsTemplate:      f.IsTemplate,
		}
		for _, p := range f.CardProperties {
			pj := propertyTemplateJSON{ID: p.ID, Name: p.Name, Type: string(p.Type)}
			for _, o := range p.Options {
				pj.Options = append(pj.Options, propertyOptionJSON{ID: o.ID, Value: o.Value, Color: o.Color})
			}
			j.CardProperties = append(j.CardProperties, pj)
		}
		v = j
	case *block.ViewFields:
		j := viewFieldsJSON{
			ViewType:           string(f.ViewType),
			GroupByID:          f.GroupByID,
			VisiblePropertyIDs: f.VisiblePropertyIDs,
			VisibleOptionIDs:   f.VisibleOptionIDs,
			HiddenOptionIDs:    f.HiddenOptionIDs,
			CollapsedOptionIDs: f.CollapsedOptionIDs,
			CardOrder:          f.CardOrder,
			ColumnWidths:       f.ColumnWidths,
			ColumnCalculations: f.ColumnCalculations,
		}
		for _, s := range f.SortOptions {
			j.SortOptions = append(j.SortOptions, sortOptionJSON{PropertyID: s.PropertyID, Reversed: s.Reversed})
		}
		fj := encodeFilterGroup(f.Filter)
		j.Filter = &fj
		v = j
	case *block.CardFields:
		j := cardFieldsJSON{Icon: f.Icon, IsTemplate: f.IsTemplate, ContentOrder: f.ContentOrder}
		if len(f.Properties) > 0 {
			j.Properties = make(map[string]json.RawMessage, len(f.Properties))
			for id, val := range f.Properties {
				raw, err := encodeValue(val)
				if err != nil {
					return nil, fmt.Errorf("property %s: %w", id, err)
				}
				j.Properties[id] = raw
			}
		}
		v = j
	case *block.ContentFields:
		v = contentFieldsJSON{FileID: f.FileID, Checked: f.Checked}
	case *block.CommentFields:
		v = struct{}{}
	default:
		return nil, fmt.Errorf("no wire mapping for %T", f)
	}
	return json.Marshal(v)
}

func encodeValue(v block.Value) (json.RawMessage, error) {
	if v.Multi {
		ids := v.List
		if ids == nil {
			ids = []string{}
		}
		return json.Marshal(ids)
	}
	return json.Marshal(v.Str)
}

func encodeFilterGroup(g block.FilterGroup) filterJSON {
	op := string(g.Operation)
	if op == "" {
		op = string(block.FilterAnd)
	}
	j := filterJSON{Operation: op}
	for _, f := range g.Filters {
		switch {
		case f.Clause != nil:
			j.Filters = append(j.Filters, filterJSON{
				PropertyID: f.Clause.PropertyID,
				Condition:  string(f.Clause.Condition),
				Values:     f.Clause.Values,
				From:       f.Clause.From,
				To:         f.Clause.To,
			})
		case f.Group != nil:
			j.Filters = append(j.Filters, encodeFilterGroup(*f.Group))
		}
	}
	return j
}

package projection

import "github.com/roach88/boardreplica/internal/block"

func blockMaps(blocks []block.Block) []any {
	out := make([]any, len(blocks))
	for i, b := range blocks {
		out[i] = blockMap(b)
	}
	return out
}

// blockMap renders a block for canonical encoding. Nil slices and maps are
// written as empty values so that nil and empty never hash differently.
func blockMap(b block.Block) map[string]any {
	return map[string]any{
		"id":          b.ID,
		"parentId":    b.ParentID,
		"rootId":      b.RootID,
		"type":        string(b.Type),
		"schema":      b.Schema,
		"title":       b.Title,
		"createdBy":   b.CreatedBy,
		"modifiedBy":  b.ModifiedBy,
		"createAt":    b.CreateAt,
		"updateAt":    b.UpdateAt,
		"deleteAt":    b.DeleteAt,
		"workspaceId": b.WorkspaceID,
		"fields":      fieldsMap(b.Fields),
	}
}

func fieldsMap(f block.Fields) map[string]any {
	switch f := f.(type) {
	case *block.BoardFields:
		props := make([]any, 0, len(f.CardProperties))
		for _, p := range f.CardProperties {
			opts := make([]any, 0, len(p.Options))
			for _, o := range p.Options {
				opts = append(opts, map[string]any{"id": o.ID, "value": o.Value, "color": o.Color})
			}
			props = append(props, map[string]any{
				"id":      p.ID,
				"name":    p.Name,
				"type":    string(p.Type),
				"options": opts,
			})
		}
		return map[string]any{
			"icon":            f.Icon,
			"description":     f.Description,
			"showDescription": f.ShowDescription,
			"isTemplate":      f.IsTemplate,
			"cardProperties":  props,
		}
	case *block.ViewFields:
		sorts := make([]any, 0, len(f.SortOptions))
		for _, s := range f.SortOptions {
			sorts = append(sorts, map[string]any{"propertyId": s.PropertyID, "reversed": s.Reversed})
		}
		widths := make(map[string]any, len(f.ColumnWidths))
		for k, v := range f.ColumnWidths {
			widths[k] = v
		}
		calcs := make(map[string]any, len(f.ColumnCalculations))
		for k, v := range f.ColumnCalculations {
			calcs[k] = v
		}
		return map[string]any{
			"viewType":           string(f.ViewType),
			"groupById":          f.GroupByID,
			"sortOptions":        sorts,
			"visiblePropertyIds": strs(f.VisiblePropertyIDs),
			"visibleOptionIds":   strs(f.VisibleOptionIDs),
			"hiddenOptionIds":    strs(f.HiddenOptionIDs),
			"collapsedOptionIds": strs(f.CollapsedOptionIDs),
			"filter":             filterMap(f.Filter),
			"cardOrder":          strs(f.CardOrder),
			"columnWidths":       widths,
			"columnCalculations": calcs,
		}
	case *block.CardFields:
		props := make(map[string]any, len(f.Properties))
		for k, v := range f.Properties {
			if v.Multi {
				props[k] = strs(v.List)
			} else {
				props[k] = v.Str
			}
		}
		return map[string]any{
			"icon":         f.Icon,
			"isTemplate":   f.IsTemplate,
			"properties":   props,
			"contentOrder": strs(f.ContentOrder),
		}
	case *block.ContentFields:
		return map[string]any{"fileId": f.FileID, "checked": f.Checked}
	}
	return map[string]any{}
}

func filterMap(g block.FilterGroup) map[string]any {
	filters := make([]any, 0, len(g.Filters))
	for _, f := range g.Filters {
		switch {
		case f.Clause != nil:
			filters = append(filters, map[string]any{
				"propertyId": f.Clause.PropertyID,
				"condition":  string(f.Clause.Condition),
				"values":     strs(f.Clause.Values),
				"from":       f.Clause.From,
				"to":         f.Clause.To,
			})
		case f.Group != nil:
			filters = append(filters, filterMap(*f.Group))
		}
	}
	return map[string]any{"operation": string(g.Operation), "filters": filters}
}

func strs(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

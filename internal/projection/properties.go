package projection

import (
	"strconv"

	"github.com/roach88/boardreplica/internal/block"
)

// properties resolves property ids against a board's card property schema.
type properties struct {
	byID  map[string]block.PropertyTemplate
	order []block.PropertyTemplate
}

var titleProperty = block.PropertyTemplate{ID: block.TitlePropertyID, Name: "Title", Type: block.PropertyText}

func newProperties(bf *block.BoardFields) properties {
	p := properties{byID: map[string]block.PropertyTemplate{block.TitlePropertyID: titleProperty}}
	if bf == nil {
		return p
	}
	for _, t := range bf.CardProperties {
		if _, dup := p.byID[t.ID]; dup {
			continue
		}
		p.byID[t.ID] = t
		p.order = append(p.order, t)
	}
	return p
}

func (p properties) lookup(id string) (block.PropertyTemplate, bool) {
	t, ok := p.byID[id]
	return t, ok
}

// groupBy returns the select property a grouped view partitions by: the
// named one when it is an option property, otherwise the first select
// property of the board.
func (p properties) groupBy(id string) (block.PropertyTemplate, bool) {
	if t, ok := p.byID[id]; ok && t.HasOptions() {
		return t, true
	}
	for _, t := range p.order {
		if t.Type == block.PropertySelect {
			return t, true
		}
	}
	return block.PropertyTemplate{}, false
}

// value returns the value of property id on card c. Built-in property types
// read header attributes. Option properties drop ids the template does not
// define, so a dangling reference reads as no value.
func (p properties) value(c block.Block, id string) block.Value {
	if id == block.TitlePropertyID {
		return block.Text(c.Title)
	}
	t, known := p.byID[id]
	if known {
		switch t.Type {
		case block.PropertyCreatedTime:
			return block.Text(strconv.FormatInt(c.CreateAt, 10))
		case block.PropertyUpdatedTime:
			return block.Text(strconv.FormatInt(c.UpdateAt, 10))
		case block.PropertyCreatedBy:
			return block.Text(c.CreatedBy)
		case block.PropertyUpdatedBy:
			return block.Text(c.ModifiedBy)
		}
	}
	cf, _ := c.Card()
	v := cf.Value(id)
	if !known || !t.HasOptions() {
		return v
	}
	return validOptions(t, v)
}

func validOptions(t block.PropertyTemplate, v block.Value) block.Value {
	if !v.Multi {
		if _, ok := t.Option(v.Str); !ok {
			return block.Value{}
		}
		return v
	}
	var ids []string
	for _, id := range v.List {
		if _, ok := t.Option(id); ok {
			ids = append(ids, id)
		}
	}
	return block.List(ids...)
}

// displayStrings returns the human-readable text of a value: option labels
// for option properties, raw strings otherwise.
func (p properties) displayStrings(c block.Block, id string) []string {
	v := p.value(c, id)
	t, ok := p.byID[id]
	if !ok || !t.HasOptions() {
		return v.Strings()
	}
	var out []string
	for _, optID := range v.Strings() {
		if o, ok := t.Option(optID); ok {
			out = append(out, o.Value)
		}
	}
	return out
}

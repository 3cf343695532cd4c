package block

import "slices"

// PropertyType is the value type of a card property template.
type PropertyType string

const (
	PropertyText        PropertyType = "text"
	PropertyNumber      PropertyType = "number"
	PropertySelect      PropertyType = "select"
	PropertyMultiSelect PropertyType = "multiSelect"
	PropertyDate        PropertyType = "date"
	PropertyPerson      PropertyType = "person"
	PropertyCheckbox    PropertyType = "checkbox"
	PropertyURL         PropertyType = "url"
	PropertyEmail       PropertyType = "email"
	PropertyPhone       PropertyType = "phone"
	PropertyCreatedTime PropertyType = "createdTime"
	PropertyCreatedBy   PropertyType = "createdBy"
	PropertyUpdatedTime PropertyType = "updatedTime"
	PropertyUpdatedBy   PropertyType = "updatedBy"
)

// TitlePropertyID is the pseudo property that addresses a card's title in
// sort options and filters.
const TitlePropertyID = "__title"

// PropertyTemplate defines one card property on a board.
type PropertyTemplate struct {
	ID      string
	Name    string
	Type    PropertyType
	Options []PropertyOption
}

// PropertyOption is one choice of a select or multi-select property.
type PropertyOption struct {
	ID    string
	Value string
	Color string
}

// Option returns the option with the given id.
func (p PropertyTemplate) Option(id string) (PropertyOption, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return PropertyOption{}, false
}

// HasOptions reports whether the property's values are option ids.
func (p PropertyTemplate) HasOptions() bool {
	return p.Type == PropertySelect || p.Type == PropertyMultiSelect
}

func (p PropertyTemplate) clone() PropertyTemplate {
	p.Options = slices.Clone(p.Options)
	return p
}

package block

import "errors"

// Type tags a block with its variant.
type Type string

const (
	TypeBoard    Type = "board"
	TypeView     Type = "view"
	TypeCard     Type = "card"
	TypeComment  Type = "comment"
	TypeText     Type = "text"
	TypeImage    Type = "image"
	TypeDivider  Type = "divider"
	TypeCheckbox Type = "checkbox"
)

// Block errors.
var (
	ErrUnknownType    = errors.New("unknown block type")
	ErrKindRegistered = errors.New("block kind already registered")
	ErrFieldsMismatch = errors.New("fields variant does not match block type")
)

// Header holds the attributes every block carries regardless of type.
type Header struct {
	ID          string
	ParentID    string
	RootID      string
	Type        Type
	Schema      int64
	Title       string
	CreatedBy   string
	ModifiedBy  string
	CreateAt    int64
	UpdateAt    int64
	DeleteAt    int64
	WorkspaceID string
}

// Block is the universal replicated unit.
type Block struct {
	Header
	Fields Fields
}

// IsDeleted reports whether the block is a tombstone.
func (b Block) IsDeleted() bool {
	return b.DeleteAt != 0
}

// IsRoot reports whether the block has no parent.
func (b Block) IsRoot() bool {
	return b.ParentID == ""
}

// Clone returns a deep copy. Blocks handed out by the store are clones so
// callers can never mutate stored state through a shared slice or map.
func (b Block) Clone() Block {
	out := Block{Header: b.Header}
	if b.Fields != nil {
		out.Fields = b.Fields.clone()
	}
	return out
}

// Validate checks that the fields variant matches the type tag.
func (b Block) Validate() error {
	if b.Fields == nil {
		return nil
	}
	if !b.Fields.accepts(b.Type) {
		return ErrFieldsMismatch
	}
	return nil
}

// Board returns the board fields when b is a board. A board that arrived
// without fields reports empty ones.
func (b Block) Board() (*BoardFields, bool) {
	if b.Type != TypeBoard {
		return nil, false
	}
	if b.Fields == nil {
		return &BoardFields{}, true
	}
	f, ok := b.Fields.(*BoardFields)
	return f, ok
}

// View returns the view fields when b is a view. A view that arrived
// without fields reports empty ones.
func (b Block) View() (*ViewFields, bool) {
	if b.Type != TypeView {
		return nil, false
	}
	if b.Fields == nil {
		return &ViewFields{}, true
	}
	f, ok := b.Fields.(*ViewFields)
	return f, ok
}

// Card returns the card fields when b is a card. A card that arrived
// without fields reports empty ones.
func (b Block) Card() (*CardFields, bool) {
	if b.Type != TypeCard {
		return nil, false
	}
	if b.Fields == nil {
		return &CardFields{}, true
	}
	f, ok := b.Fields.(*CardFields)
	return f, ok
}

// Content returns the content fields when b is a content block.
func (b Block) Content() (*ContentFields, bool) {
	f, ok := b.Fields.(*ContentFields)
	return f, ok
}

// Tombstone returns a copy of b marked deleted at ts.
func (b Block) Tombstone(ts int64, modifiedBy string) Block {
	out := b.Clone()
	out.DeleteAt = ts
	out.UpdateAt = ts
	if modifiedBy != "" {
		out.ModifiedBy = modifiedBy
	}
	return out
}

// IsContentType reports whether t is one of the built-in content block types.
func IsContentType(t Type) bool {
	switch t {
	case TypeText, TypeImage, TypeDivider, TypeCheckbox:
		return true
	}
	return false
}

// Equal reports whether two blocks carry the same header and fields.
func Equal(a, b Block) bool {
	if a.Header != b.Header {
		return false
	}
	return fieldsEqual(a.Fields, b.Fields)
}

// SameContent compares two blocks ignoring version bookkeeping
// (UpdateAt, ModifiedBy). Undo restores content under a fresh version, so
// this is the equality that survives an undo.
func SameContent(a, b Block) bool {
	ah, bh := a.Header, b.Header
	ah.UpdateAt, bh.UpdateAt = 0, 0
	ah.ModifiedBy, bh.ModifiedBy = "", ""
	if ah != bh {
		return false
	}
	return fieldsEqual(a.Fields, b.Fields)
}

package block

import (
	"fmt"
	"sync"
)

// Kind describes one block type: how to create its empty fields and
// whether it is a card content kind.
type Kind struct {
	Type        Type
	DisplayName string
	IsContent   bool
	NewFields   func() Fields
}

// Registry maps block types to kinds. It is constructed once at startup and
// passed to the components that dispatch on type (wire codec, mutators).
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[Type]Kind
	order []Type
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[Type]Kind)}
}

// DefaultRegistry returns a new registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	builtins := []Kind{
		{Type: TypeBoard, DisplayName: "board", NewFields: func() Fields { return &BoardFields{} }},
		{Type: TypeView, DisplayName: "view", NewFields: func() Fields {
			return &ViewFields{ViewType: ViewBoard, Filter: FilterGroup{Operation: FilterAnd}}
		}},
		{Type: TypeCard, DisplayName: "card", NewFields: func() Fields {
			return &CardFields{Properties: map[string]Value{}}
		}},
		{Type: TypeComment, DisplayName: "comment", NewFields: func() Fields { return &CommentFields{} }},
		{Type: TypeText, DisplayName: "text", IsContent: true, NewFields: newContentFields},
		{Type: TypeImage, DisplayName: "image", IsContent: true, NewFields: newContentFields},
		{Type: TypeDivider, DisplayName: "divider", IsContent: true, NewFields: newContentFields},
		{Type: TypeCheckbox, DisplayName: "checkbox", IsContent: true, NewFields: newContentFields},
	}
	for _, k := range builtins {
		// Builtins are unique; Register cannot fail here.
		_ = r.Register(k)
	}
	return r
}

func newContentFields() Fields { return &ContentFields{} }

// Register adds a kind. Registering a type twice is an error.
func (r *Registry) Register(k Kind) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[k.Type]; ok {
		return fmt.Errorf("%w: %s", ErrKindRegistered, k.Type)
	}
	r.kinds[k.Type] = k
	r.order = append(r.order, k.Type)
	return nil
}

// Lookup returns the kind registered for t.
func (r *Registry) Lookup(t Type) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kinds[t]
	return k, ok
}

// ContentTypes lists the content kinds in registration order.
func (r *Registry) ContentTypes() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Type
	for _, t := range r.order {
		if r.kinds[t].IsContent {
			out = append(out, t)
		}
	}
	return out
}

// IsContent reports whether t is a registered content kind.
func (r *Registry) IsContent(t Type) bool {
	k, ok := r.Lookup(t)
	return ok && k.IsContent
}

// New returns an empty block of type t with fresh fields.
func (r *Registry) New(t Type) (Block, error) {
	k, ok := r.Lookup(t)
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
	return Block{Header: Header{Type: t}, Fields: k.NewFields()}, nil
}

// Package wire converts blocks between the typed union in package block and
// the JSON shape used by the remote persistence API and push channel.
//
// Every inbound block is validated against an embedded CUE schema before it
// is dispatched on its type tag through a block.Registry. A block that fails
// either step is rejected with ErrInvalidBlock; nothing malformed reaches the
// block store.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/boardreplica/internal/block"
)

// ErrInvalidBlock is returned for wire blocks that fail schema validation or
// type dispatch.
var ErrInvalidBlock = errors.New("invalid wire block")

// Codec encodes and decodes wire blocks.
//
// Thread-safety: Codec is safe for concurrent use.
type Codec struct {
	registry *block.Registry
	schema   *schema
}

// NewCodec creates a codec dispatching on registry.
func NewCodec(registry *block.Registry) (*Codec, error) {
	s, err := newSchema()
	if err != nil {
		return nil, err
	}
	return &Codec{registry: registry, schema: s}, nil
}

// Decode parses and validates one wire block.
func (c *Codec) Decode(data []byte) (block.Block, error) {
	if err := c.schema.validate(data); err != nil {
		return block.Block{}, fmt.Errorf("%w: %w", ErrInvalidBlock, err)
	}

	var j blockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return block.Block{}, fmt.Errorf("%w: %w", ErrInvalidBlock, err)
	}

	b, err := c.registry.New(block.Type(j.Type))
	if err != nil {
		return block.Block{}, fmt.Errorf("%w: block %s: %w", ErrInvalidBlock, j.ID, err)
	}
	b.Header = block.Header{
		ID:          j.ID,
		ParentID:    j.ParentID,
		RootID:      j.RootID,
		Type:        block.Type(j.Type),
		Schema:      j.Schema,
		Title:       j.Title,
		CreatedBy:   j.CreatedBy,
		ModifiedBy:  j.ModifiedBy,
		CreateAt:    j.CreateAt,
		UpdateAt:    j.UpdateAt,
		DeleteAt:    j.DeleteAt,
		WorkspaceID: j.WorkspaceID,
	}
	if err := decodeFields(j.Fields, b.Fields); err != nil {
		return block.Block{}, fmt.Errorf("%w: block %s fields: %w", ErrInvalidBlock, j.ID, err)
	}
	return b, nil
}

// DecodeBatch parses a JSON array of wire blocks. The whole batch is
// rejected if any element is invalid.
func (c *Codec) DecodeBatch(data []byte) ([]block.Block, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: batch: %w", ErrInvalidBlock, err)
	}
	out := make([]block.Block, 0, len(raws))
	for i, raw := range raws {
		b, err := c.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("batch[%d]: %w", i, err)
		}
		out = append(out, b)
	}
	return out, nil
}

// Encode renders b in wire form.
func (c *Codec) Encode(b block.Block) ([]byte, error) {
	j, err := c.toJSON(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// EncodeBatch renders blocks as a JSON array.
func (c *Codec) EncodeBatch(blocks []block.Block) ([]byte, error) {
	out := make([]blockJSON, 0, len(blocks))
	for _, b := range blocks {
		j, err := c.toJSON(b)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return json.Marshal(out)
}

func (c *Codec) toJSON(b block.Block) (blockJSON, error) {
	if err := b.Validate(); err != nil {
		return blockJSON{}, fmt.Errorf("encode block %s: %w", b.ID, err)
	}
	fields, err := encodeFields(b.Fields)
	if err != nil {
		return blockJSON{}, fmt.Errorf("encode block %s: %w", b.ID, err)
	}
	return blockJSON{
		ID:          b.ID,
		ParentID:    b.ParentID,
		RootID:      b.RootID,
		CreatedBy:   b.CreatedBy,
		ModifiedBy:  b.ModifiedBy,
		Schema:      b.Schema,
		Type:        string(b.Type),
		Title:       b.Title,
		Fields:      fields,
		CreateAt:    b.CreateAt,
		UpdateAt:    b.UpdateAt,
		DeleteAt:    b.DeleteAt,
		WorkspaceID: b.WorkspaceID,
	}, nil
}

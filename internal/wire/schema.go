package wire

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed block.cue
var blockSchemaSource string

// schema validates raw wire blocks against block.cue before they are
// decoded into the typed union.
//
// Thread-safety: cue values are not safe for concurrent use, so every
// validation holds mu.
type schema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	block cue.Value
}

func newSchema() (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(blockSchemaSource, cue.Filename("block.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile block schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Block"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("lookup #Block: %w", err)
	}
	return &schema{ctx: ctx, block: def}, nil
}

// validate checks one JSON object against #Block.
func (s *schema) validate(data []byte) error {
	expr, err := cuejson.Extract("block.json", data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return fmt.Errorf("build: %w", err)
	}
	if err := s.block.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return err
	}
	return nil
}

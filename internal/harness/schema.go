package harness

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

var schema = sync.OnceValues(func() (cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile scenario schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Scenario")), nil
})

// SchemaError lists every violation of the scenario schema.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	if len(e.Problems) == 1 {
		return "scenario schema: " + e.Problems[0]
	}
	return fmt.Sprintf("scenario schema: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// checkSchema validates a decoded YAML document against #Scenario. The
// definition is closed, so unknown fields fail here with their path.
func checkSchema(doc any) error {
	def, err := schema()
	if err != nil {
		return err
	}
	v := def.Context().Encode(doc)
	if err := v.Err(); err != nil {
		return fmt.Errorf("encode scenario: %w", err)
	}
	unified := def.Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		se := &SchemaError{}
		for _, e := range cueerrors.Errors(err) {
			format, args := e.Msg()
			msg := fmt.Sprintf(format, args...)
			if path := e.Path(); len(path) > 0 {
				msg = strings.Join(path, ".") + ": " + msg
			}
			se.Problems = append(se.Problems, msg)
		}
		if len(se.Problems) == 0 {
			se.Problems = []string{err.Error()}
		}
		return se
	}
	return nil
}

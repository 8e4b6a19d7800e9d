package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// ValidationError is one schema or cross-field violation.
type ValidationError struct {
	// Path is the dotted location of the offending value, e.g.
	// "families.0.max_parallel". Empty for whole-document errors.
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// validateSchema checks raw YAML data against #Config. All violations are
// returned joined.
func validateSchema(raw map[string]any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	data := ctx.Encode(raw)
	if err := data.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	err := def.Unify(data).Validate(cue.Concrete(true))
	if err == nil {
		return nil
	}

	var errs []error
	for _, ce := range cueerrors.Errors(err) {
		format, args := ce.Msg()
		errs = append(errs, &ValidationError{
			Path:    strings.Join(trimDefinition(ce.Path()), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	return joinErrors(errs)
}

// trimDefinition drops the leading "#Config" selector from CUE paths.
func trimDefinition(path []string) []string {
	if len(path) > 0 && path[0] == "#Config" {
		return path[1:]
	}
	return path
}

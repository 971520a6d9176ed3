package masking

import (
	"fmt"
	"os"
	"strings"

	"github.com/phimask/phimask/pkg/identity"
)

// expression yields the synthetic value written into one sensitive column.
type expression interface {
	// Eval renders the value from a mask; false means the mask lacks a referenced field.
	Eval(mask *identity.Mask) (string, bool)
}

// fieldExpr copies one synthetic field verbatim.
type fieldExpr struct {
	field string
}

func (e fieldExpr) Eval(mask *identity.Mask) (string, bool) {
	return mask.Field(e.field)
}

// templateExpr composes several synthetic fields, e.g. "${first_name} ${last_name}".
type templateExpr struct {
	raw string
}

func (e templateExpr) Eval(mask *identity.Mask) (string, bool) {
	ok := true
	out := os.Expand(e.raw, func(name string) string {
		v, found := mask.Field(name)
		if !found {
			ok = false
		}
		return v
	})
	return out, ok
}

// compileExpression parses a field mapping value. Plain names must be known
// synthetic fields; values containing "$" are templates whose references must be.
func compileExpression(column, raw string) (expression, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: column %q has an empty mapping", ErrInvalidRule, column)
	}
	if !strings.Contains(raw, "$") {
		if !identity.IsKnownField(raw) {
			return nil, fmt.Errorf("%w: column %q maps to %q", identity.ErrUnknownField, column, raw)
		}
		return fieldExpr{field: raw}, nil
	}

	var unknown []string
	refs := 0
	os.Expand(raw, func(name string) string {
		refs++
		if !identity.IsKnownField(name) {
			unknown = append(unknown, name)
		}
		return ""
	})
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: column %q template references %s", identity.ErrUnknownField, column, strings.Join(unknown, ", "))
	}
	if refs == 0 {
		return nil, fmt.Errorf("%w: column %q template %q references no fields", ErrInvalidRule, column, raw)
	}
	return templateExpr{raw: raw}, nil
}

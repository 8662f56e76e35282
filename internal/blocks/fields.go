package blocks

import (
	"fmt"
	"strings"
)

// Field declares one short code and the canonical name it expands to.
type Field struct {
	Code       string `yaml:"code"`
	Name       string `yaml:"name"`
	Repeatable bool   `yaml:"repeatable"`
}

// FieldMap translates short field codes into canonical long names.
type FieldMap struct {
	byCode map[string]Field
	order  []string
}

// NewFieldMap builds a FieldMap. Codes and names must be unique and non-empty.
func NewFieldMap(fields ...Field) (FieldMap, error) {
	m := FieldMap{byCode: make(map[string]Field, len(fields))}
	names := make(map[string]string, len(fields))
	for _, f := range fields {
		f.Code = strings.TrimSpace(f.Code)
		f.Name = strings.TrimSpace(f.Name)
		if f.Code == "" || f.Name == "" {
			return FieldMap{}, fmt.Errorf("field %q: code and name are required", f.Code+f.Name)
		}
		if !isCode(f.Code) {
			return FieldMap{}, fmt.Errorf("field code %q: only letters, digits and underscore allowed", f.Code)
		}
		if _, dup := m.byCode[f.Code]; dup {
			return FieldMap{}, fmt.Errorf("duplicate field code %q", f.Code)
		}
		if other, dup := names[f.Name]; dup {
			return FieldMap{}, fmt.Errorf("field name %q used by codes %q and %q", f.Name, other, f.Code)
		}
		names[f.Name] = f.Code
		m.byCode[f.Code] = f
		m.order = append(m.order, f.Code)
	}
	return m, nil
}

// MustFieldMap is NewFieldMap that panics on error, for static tables.
func MustFieldMap(fields ...Field) FieldMap {
	m, err := NewFieldMap(fields...)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the field declared for code.
func (m FieldMap) Lookup(code string) (Field, bool) {
	f, ok := m.byCode[code]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (m FieldMap) Fields() []Field {
	out := make([]Field, 0, len(m.order))
	for _, code := range m.order {
		out = append(out, m.byCode[code])
	}
	return out
}

// NameOf returns the canonical name for code, or "" when unmapped.
func (m FieldMap) NameOf(code string) string {
	return m.byCode[code].Name
}

func isCode(s string) bool {
	for i, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

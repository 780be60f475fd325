// Package schema holds the closed, immutable definitions of expected fields
// and rules per document type. Definitions are embedded at build time and
// loaded once at process start; they are never mutated at runtime.
package schema

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veridoc/veridoc/internal/core/domain"
)

//go:embed defs.yaml
var rawDefs []byte

// FieldSpec describes one expected field of a document type.
type FieldSpec struct {
	Name      string           `yaml:"name"`
	Kind      domain.FieldKind `yaml:"kind"`
	Required  bool             `yaml:"required"`
	Keywords  []string         `yaml:"keywords"`
	Positive  bool             `yaml:"positive"`
	NotFuture bool             `yaml:"not_future"`
	Min       *float64         `yaml:"min"`
	Max       *float64         `yaml:"max"`
	// Prefix specs match repeated fields: a spec named "line_item"
	// covers "line_item", "line_item_1", "line_item_2", and so on.
	Prefix bool `yaml:"prefix"`
}

// Matches reports whether the spec covers a field with the given name.
func (s *FieldSpec) Matches(name string) bool {
	if name == s.Name {
		return true
	}
	if !s.Prefix {
		return false
	}
	return strings.HasPrefix(name, s.Name+"_")
}

// DocumentSchema is the ordered field set for one document type.
type DocumentSchema struct {
	Type   domain.DocumentType
	Fields []FieldSpec

	byName map[string]*FieldSpec
}

// Lookup resolves a field name to its spec, trying exact names before
// prefix specs.
func (s *DocumentSchema) Lookup(name string) (*FieldSpec, bool) {
	if spec, ok := s.byName[name]; ok {
		return spec, true
	}
	for i := range s.Fields {
		spec := &s.Fields[i]
		if spec.Prefix && spec.Matches(name) {
			return spec, true
		}
	}
	return nil, false
}

// Required returns the specs of all required fields in declaration order.
func (s *DocumentSchema) Required() []FieldSpec {
	var out []FieldSpec
	for _, f := range s.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// Registry is the closed set of document-type schemas.
type Registry struct {
	types map[domain.DocumentType]*DocumentSchema
	order []domain.DocumentType
}

type defsFile struct {
	Types map[string]struct {
		Fields []FieldSpec `yaml:"fields"`
	} `yaml:"types"`
}

// NewRegistry parses the embedded definitions. It fails fast on malformed
// definitions since the rule set must be total before any document is
// processed.
func NewRegistry() (*Registry, error) {
	var parsed defsFile
	if err := yaml.Unmarshal(rawDefs, &parsed); err != nil {
		return nil, fmt.Errorf("parse schema definitions: %w", err)
	}
	if len(parsed.Types) == 0 {
		return nil, fmt.Errorf("schema definitions declare no document types")
	}

	reg := &Registry{types: make(map[domain.DocumentType]*DocumentSchema)}
	for name, def := range parsed.Types {
		docType := domain.DocumentType(name)
		if !domain.KnownDocumentType(docType) {
			return nil, fmt.Errorf("schema declares unknown document type %q", name)
		}
		sch := &DocumentSchema{
			Type:   docType,
			Fields: def.Fields,
			byName: make(map[string]*FieldSpec, len(def.Fields)),
		}
		for i := range sch.Fields {
			spec := &sch.Fields[i]
			if spec.Name == "" {
				return nil, fmt.Errorf("%s: field spec with empty name", name)
			}
			if err := validKind(spec.Kind); err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, spec.Name, err)
			}
			if _, dup := sch.byName[spec.Name]; dup {
				return nil, fmt.Errorf("%s: duplicate field %q", name, spec.Name)
			}
			sch.byName[spec.Name] = spec
		}
		reg.types[docType] = sch
	}

	for _, t := range []domain.DocumentType{domain.TypeInvoice, domain.TypeMedicalBill, domain.TypePrescription} {
		if _, ok := reg.types[t]; !ok {
			return nil, fmt.Errorf("schema definitions missing document type %q", t)
		}
		reg.order = append(reg.order, t)
	}
	return reg, nil
}

// Get returns the schema for a classified document type.
func (r *Registry) Get(t domain.DocumentType) (*DocumentSchema, error) {
	sch, ok := r.types[t]
	if !ok {
		return nil, fmt.Errorf("%w: no schema for document type %q", domain.ErrInvalidInput, t)
	}
	return sch, nil
}

// Types lists the supported document types in stable order.
func (r *Registry) Types() []domain.DocumentType {
	out := make([]domain.DocumentType, len(r.order))
	copy(out, r.order)
	return out
}

func validKind(k domain.FieldKind) error {
	switch k {
	case domain.KindDate, domain.KindAmount, domain.KindPhone, domain.KindIdentifier, domain.KindFreeText:
		return nil
	}
	return fmt.Errorf("unknown field kind %q", k)
}

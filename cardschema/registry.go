package cardschema

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

// Service resolves fields of card types.
type Service interface {
	// Field resolves name against the card type, including fields the type
	// adopts from its ancestors.
	Field(ctx context.Context, typeContext CardID, name string) (*Field, error)

	// Ancestors lists the card type followed by each type it adopts from.
	Ancestors(ctx context.Context, typeContext CardID) ([]CardID, error)
}

type CardType struct {
	ID         CardID     `yaml:"id"`
	AdoptsFrom *CardID    `yaml:"adoptsFrom,omitempty"`
	Fields     []FieldDef `yaml:"fields"`
}

type FieldDef struct {
	Name   string  `yaml:"name"`
	Type   string  `yaml:"type"`
	Plural bool    `yaml:"plural,omitempty"`
	Card   *CardID `yaml:"card,omitempty"`
}

type RegistryFile struct {
	CardTypes []CardType `yaml:"cardTypes"`
}

// Registry is a static Service of card types defined in code or YAML.
type Registry struct {
	lock       sync.RWMutex
	types      map[string]*CardType
	fieldTypes map[string]FieldHooks
}

var _ Service = &Registry{}

func NewRegistry() *Registry {
	return &Registry{
		types:      map[string]*CardType{},
		fieldTypes: builtinFieldTypes(),
	}
}

// LoadRegistry parses a RegistryFile.
func LoadRegistry(data []byte) (*Registry, error) {
	file := &RegistryFile{}
	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("parsing card types: %w", err)
	}

	reg := NewRegistry()
	for _, ct := range file.CardTypes {
		if err := reg.Define(ct); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// RegisterFieldType adds or replaces a field type. Types must be registered
// before the card types using them are defined.
func (r *Registry) RegisterFieldType(name string, hooks FieldHooks) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.fieldTypes[name] = hooks
}

func (r *Registry) Define(ct CardType) error {
	if ct.ID.Realm == "" || ct.ID.ID == "" {
		return fmt.Errorf("card type requires realm and id, got %q %q", ct.ID.Realm, ct.ID.ID)
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	seen := map[string]struct{}{}
	for _, fd := range ct.Fields {
		if fd.Name == "" {
			return fmt.Errorf("card type %s: field with no name", ct.ID.URL())
		}
		if IsMetaField(fd.Name) {
			return fmt.Errorf("card type %s: field name %s is reserved", ct.ID.URL(), fd.Name)
		}
		if _, ok := seen[fd.Name]; ok {
			return fmt.Errorf("card type %s: duplicate field %s", ct.ID.URL(), fd.Name)
		}
		seen[fd.Name] = struct{}{}

		typeName := fd.Type
		if typeName == "" {
			typeName = TypeString
		}
		if _, ok := r.fieldTypes[typeName]; !ok {
			return fmt.Errorf("card type %s: field %s has unknown type %q", ct.ID.URL(), fd.Name, typeName)
		}
		if (typeName == TypeCard) != (fd.Card != nil) {
			return fmt.Errorf("card type %s: field %s must set card exactly when its type is %q", ct.ID.URL(), fd.Name, TypeCard)
		}
	}

	ct.ID = ct.ID.Canonical()
	r.types[ct.ID.URL()] = &ct
	return nil
}

func (r *Registry) lookup(id CardID) (*CardType, error) {
	ct, ok := r.types[id.URL()]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "card type %s not found", id.URL())
	}
	return ct, nil
}

// walk visits the card type and then its ancestors until visit returns
// false.
func (r *Registry) walk(typeContext CardID, visit func(*CardType) bool) error {
	r.lock.RLock()
	defer r.lock.RUnlock()

	seen := map[string]struct{}{}
	id := typeContext
	for {
		if _, ok := seen[id.URL()]; ok {
			return fmt.Errorf("card type %s adopts from itself via %s", typeContext.URL(), id.URL())
		}
		seen[id.URL()] = struct{}{}

		ct, err := r.lookup(id)
		if err != nil {
			return err
		}
		if !visit(ct) || ct.AdoptsFrom == nil {
			return nil
		}
		id = *ct.AdoptsFrom
	}
}

func (r *Registry) Field(ctx context.Context, typeContext CardID, name string) (*Field, error) {
	var found *Field
	err := r.walk(typeContext, func(ct *CardType) bool {
		for _, fd := range ct.Fields {
			if fd.Name != name {
				continue
			}
			found = r.buildField(ct, fd)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, status.Errorf(codes.NotFound, "card type %s has no field %q", typeContext.URL(), name)
	}
	return found, nil
}

func (r *Registry) buildField(ct *CardType, fd FieldDef) *Field {
	typeName := fd.Type
	if typeName == "" {
		typeName = TypeString
	}
	field := &Field{
		Name:             fd.Name,
		Cardinality:      Singular,
		EnclosingCardURL: ct.ID.URL(),
		TypeName:         typeName,
		Hooks:            r.fieldTypes[typeName],
	}
	if fd.Plural {
		field.Cardinality = Plural
	}
	if fd.Card != nil {
		cardType := fd.Card.Canonical()
		field.Card = &cardType
	}
	return field
}

func (r *Registry) Ancestors(ctx context.Context, typeContext CardID) ([]CardID, error) {
	chain := []CardID{}
	err := r.walk(typeContext, func(ct *CardType) bool {
		chain = append(chain, ct.ID)
		return true
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

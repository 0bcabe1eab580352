package typedb

import "fmt"

// Kind classifies a constructed type.
type Kind uint8

const (
	KindStruct Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindColorRGBA8
)

func (k Kind) String() string {
	switch k {
	case KindStruct:
		return "struct"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindColorRGBA8:
		return "color_rgba8"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Type is the object built by BuildType.
type Type struct {
	Name       string
	Kind       Kind
	Component  bool
	Properties []Property
}

type Property struct {
	Name     string
	TypeName string
	// Type is nil when the property's type was inserted as something other
	// than a *Type.
	Type *Type
}

func (t *Type) Property(name string) (Property, bool) {
	for _, p := range t.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// BuildType is the default Constructor.
func BuildType(db *DB, name string, desc Descriptor) (any, error) {
	t := &Type{
		Name:       name,
		Kind:       KindStruct,
		Component:  desc.Component,
		Properties: make([]Property, 0, len(desc.Properties)),
	}

	for _, p := range desc.Properties {
		obj, ok := db.types[p.TypeName]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s has type %s", ErrUnresolvedDependency, name, p.Name, p.TypeName)
		}
		prop := Property{Name: p.Name, TypeName: p.TypeName}
		prop.Type, _ = obj.(*Type)
		t.Properties = append(t.Properties, prop)
	}
	return t, nil
}

// primitives are the engine's built-in reflection types.
var primitives = []struct {
	name string
	kind Kind
}{
	{"bool", KindBool},
	{"int8", KindInt},
	{"uint8", KindUint},
	{"int16", KindInt},
	{"uint16", KindUint},
	{"int32", KindInt},
	{"uint32", KindUint},
	{"int64", KindInt},
	{"uint64", KindUint},
	{"float", KindFloat},
	{"double", KindFloat},
	{"sge::String", KindString},
	{"sge::color::RGBA8", KindColorRGBA8},
}

// InsertPrimitives registers the built-in types as *Type values.
func InsertPrimitives(db *DB) {
	for _, p := range primitives {
		db.InsertType(p.name, &Type{Name: p.name, Kind: p.kind})
	}
}

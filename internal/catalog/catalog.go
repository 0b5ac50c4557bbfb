// Package catalog is the closed, static table of every node type the graph
// compiler and evaluator library know about: its category, its declared
// input and output ports, and its parameter schema. It is the single source
// of truth both the compiler (structural/type validation) and the evaluator
// registry consult, mirroring the way the wider engine's resource kinds are
// all funneled through one RegisterResource table rather than scattered
// per-kind special cases.
package catalog

import "github.com/lumenstage/lumen/internal/ports"

// Category groups node types for documentation and UI purposes. It plays no
// role in compilation.
type Category string

// The closed set of node categories from spec.md §4.2.
const (
	CategoryInput     Category = "input"
	CategoryConstant  Category = "constant"
	CategorySelection Category = "selection"
	CategoryMath      Category = "math"
	CategoryEffect    Category = "effect"
	CategoryColor     Category = "color"
	CategoryPosition  Category = "position"
	CategoryBundle    Category = "bundle"
	CategoryOutput    Category = "output"
)

// PortDecl declares one input or output port of a node type.
type PortDecl struct {
	Name string
	Type ports.Type

	// Default is the value an input port resolves to when no edge feeds
	// it. A nil Default on an input whose Type is in {Bundle, Selection,
	// Trigger} makes the port required (spec.md §4.1 pass 5).
	Default *ports.Value

	// Min/Max optionally bound a Scalar input's legal range. Both nil
	// means unbounded.
	Min, Max *float64
}

// ParamType identifies the primitive kind of a node parameter.
type ParamType int

// The primitive parameter kinds a node's params map may hold.
const (
	ParamString ParamType = iota
	ParamFloat
	ParamStringList
)

// ParamDecl declares one entry in a node type's parameter schema.
type ParamDecl struct {
	Name     string
	Type     ParamType
	Required bool

	// Min/Max bound a ParamFloat's legal numeric range, when declared.
	Min, Max *float64
}

// NodeTypeDef is one entry in the catalog: everything the compiler and
// evaluator need to know about a node type, independent of any particular
// instance of it in a graph.
type NodeTypeDef struct {
	Category Category
	Inputs   []PortDecl
	Outputs  []PortDecl
	Params   []ParamDecl
}

// InputPort looks up a declared input port by name.
func (d NodeTypeDef) InputPort(name string) (PortDecl, bool) {
	for _, p := range d.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDecl{}, false
}

// OutputPort looks up a declared output port by name.
func (d NodeTypeDef) OutputPort(name string) (PortDecl, bool) {
	for _, p := range d.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDecl{}, false
}

// Param looks up a declared param by name.
func (d NodeTypeDef) Param(name string) (ParamDecl, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamDecl{}, false
}

// Required reports whether an input port must have an incoming edge: no
// declared default, and its type is one that has no sensible implicit zero
// for a sink to act on (spec.md §4.1 pass 5).
func (p PortDecl) Required() bool {
	if p.Default != nil {
		return false
	}
	switch p.Type {
	case ports.Bundle, ports.Selection, ports.Trigger:
		return true
	}
	return false
}

func floatp(f float64) *float64 { return &f }

func defScalar(f float64) *ports.Value {
	v := ports.ScalarValue(f)
	return &v
}

func defColor(c ports.RGB) *ports.Value {
	v := ports.ColorValue(c)
	return &v
}

// names are the registered node type identifiers. They are also used as the
// `type` field operators write into Node.Type in an authored graph.
const (
	Time             = "Time"
	Fader            = "Fader"
	Button           = "Button"
	SineLFO          = "SineLFO"
	TriangleLFO      = "TriangleLFO"
	SawLFO           = "SawLFO"
	Smooth           = "Smooth"
	MapRange         = "MapRange"
	Clamp01          = "Clamp01"
	MixColor         = "MixColor"
	ScaleColor       = "ScaleColor"
	ColorConstant    = "ColorConstant"
	PositionConstant = "PositionConstant"
	SelectGroup      = "SelectGroup"
	SelectFixture    = "SelectFixture"
	MergeBundle      = "MergeBundle"
	ScaleBundle      = "ScaleBundle"
	WriteAttributes  = "WriteAttributes"
)

// Catalog is the closed, static table of node types. It is never mutated at
// runtime: every node type this system understands is listed here once, at
// init time.
var Catalog = map[string]NodeTypeDef{
	Time: {
		Category: CategoryInput,
		Outputs: []PortDecl{
			{Name: "t", Type: ports.Scalar},
			{Name: "dt", Type: ports.Scalar},
		},
	},
	Fader: {
		Category: CategoryInput,
		Outputs: []PortDecl{
			{Name: "value", Type: ports.Scalar},
		},
		Params: []ParamDecl{
			{Name: "fader_id", Type: ParamString, Required: true},
		},
	},
	Button: {
		Category: CategoryInput,
		Outputs: []PortDecl{
			{Name: "pressed", Type: ports.Trigger},
			{Name: "down", Type: ports.Bool},
		},
		Params: []ParamDecl{
			{Name: "button_id", Type: ParamString, Required: true},
		},
	},
	SineLFO:     oscillatorDef(),
	TriangleLFO: oscillatorDef(),
	SawLFO:      oscillatorDef(),
	Smooth: {
		Category: CategoryMath,
		Inputs: []PortDecl{
			{Name: "in", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "smoothing", Type: ports.Scalar, Default: defScalar(0.9), Min: floatp(0), Max: floatp(1)},
		},
		Outputs: []PortDecl{
			{Name: "value", Type: ports.Scalar},
		},
	},
	MapRange: {
		Category: CategoryMath,
		Inputs: []PortDecl{
			{Name: "in", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "in_min", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "in_max", Type: ports.Scalar, Default: defScalar(1)},
			{Name: "out_min", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "out_max", Type: ports.Scalar, Default: defScalar(1)},
		},
		Outputs: []PortDecl{
			{Name: "value", Type: ports.Scalar},
		},
	},
	Clamp01: {
		Category: CategoryMath,
		Inputs: []PortDecl{
			{Name: "in", Type: ports.Scalar, Default: defScalar(0)},
		},
		Outputs: []PortDecl{
			{Name: "value", Type: ports.Scalar},
		},
	},
	MixColor: {
		Category: CategoryColor,
		Inputs: []PortDecl{
			{Name: "a", Type: ports.Color, Default: defColor(ports.RGB{})},
			{Name: "b", Type: ports.Color, Default: defColor(ports.RGB{})},
			{Name: "mix", Type: ports.Scalar, Default: defScalar(0), Min: floatp(0), Max: floatp(1)},
		},
		Outputs: []PortDecl{
			{Name: "color", Type: ports.Color},
		},
	},
	ScaleColor: {
		Category: CategoryColor,
		Inputs: []PortDecl{
			{Name: "color", Type: ports.Color, Default: defColor(ports.RGB{})},
			{Name: "scale", Type: ports.Scalar, Default: defScalar(1)},
		},
		Outputs: []PortDecl{
			{Name: "color", Type: ports.Color},
		},
	},
	ColorConstant: {
		Category: CategoryConstant,
		Inputs: []PortDecl{
			{Name: "r", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "g", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "b", Type: ports.Scalar, Default: defScalar(0)},
		},
		Outputs: []PortDecl{
			{Name: "color", Type: ports.Color},
		},
	},
	PositionConstant: {
		Category: CategoryConstant,
		Inputs: []PortDecl{
			{Name: "pan", Type: ports.Scalar, Default: defScalar(0)},
			{Name: "tilt", Type: ports.Scalar, Default: defScalar(0)},
		},
		Outputs: []PortDecl{
			{Name: "position", Type: ports.Position},
		},
	},
	SelectGroup: {
		Category: CategorySelection,
		Outputs: []PortDecl{
			{Name: "selection", Type: ports.Selection},
		},
		Params: []ParamDecl{
			{Name: "group_ids", Type: ParamStringList, Required: true},
		},
	},
	SelectFixture: {
		Category: CategorySelection,
		Outputs: []PortDecl{
			{Name: "selection", Type: ports.Selection},
		},
		Params: []ParamDecl{
			{Name: "fixture_ids", Type: ParamStringList, Required: true},
		},
	},
	MergeBundle: {
		Category: CategoryBundle,
		Inputs: []PortDecl{
			{Name: "base", Type: ports.Bundle, Default: emptyBundle()},
			{Name: "override", Type: ports.Bundle, Default: emptyBundle()},
		},
		Outputs: []PortDecl{
			{Name: "bundle", Type: ports.Bundle},
		},
	},
	ScaleBundle: {
		Category: CategoryBundle,
		Inputs: []PortDecl{
			{Name: "bundle", Type: ports.Bundle, Default: emptyBundle()},
			{Name: "scale", Type: ports.Scalar, Default: defScalar(1)},
		},
		Outputs: []PortDecl{
			{Name: "bundle", Type: ports.Bundle},
		},
	},
	WriteAttributes: {
		Category: CategoryOutput,
		Inputs: []PortDecl{
			{Name: "selection", Type: ports.Selection}, // no default: required
			{Name: "bundle", Type: ports.Bundle},       // no default: required
		},
		Params: []ParamDecl{
			{Name: "priority", Type: ParamFloat, Required: false},
		},
	},
}

func oscillatorDef() NodeTypeDef {
	return NodeTypeDef{
		Category: CategoryEffect,
		Inputs: []PortDecl{
			{Name: "frequency", Type: ports.Scalar, Default: defScalar(1), Min: floatp(0)},
			{Name: "speed", Type: ports.Scalar, Default: defScalar(1)},
		},
		Outputs: []PortDecl{
			{Name: "value", Type: ports.Scalar},
		},
	}
}

func emptyBundle() *ports.Value {
	v := ports.BundleValue(ports.AttributeBundle{})
	return &v
}

// Lookup returns the definition for a node type and whether it exists in the
// catalog.
func Lookup(nodeType string) (NodeTypeDef, bool) {
	d, ok := Catalog[nodeType]
	return d, ok
}

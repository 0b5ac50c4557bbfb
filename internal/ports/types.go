// Package ports defines the runtime port-value algebra shared by the graph
// compiler and the node evaluator library: the tagged union of values that
// flow along a compiled graph's edges, and the promotion rules that let one
// port type be consumed where another is expected.
//
// The dynamic value dispatch a naive port system would reach for becomes, in
// Go, one exhaustively-matched struct instead of scattered type assertions —
// every evaluator reads and writes Value and nothing else.
package ports

import "fmt"

// Type identifies which member of a Value is populated.
type Type int

// The closed set of port types. Order matters only for readability; it is
// not used for catalog iteration (catalog.go declares its own slices for
// that).
const (
	Scalar Type = iota
	Bool
	Trigger
	Color
	Position
	Bundle
	Selection
)

// String renders a Type for error messages.
func (t Type) String() string {
	switch t {
	case Scalar:
		return "Scalar"
	case Bool:
		return "Bool"
	case Trigger:
		return "Trigger"
	case Color:
		return "Color"
	case Position:
		return "Position"
	case Bundle:
		return "Bundle"
	case Selection:
		return "Selection"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// RGB is a normalized color value, each component in [0,1].
type RGB struct {
	R, G, B float64
}

// PanTilt is a normalized position value, each component in [-1,1].
type PanTilt struct {
	Pan, Tilt float64
}

// AttributeBundle is the sparse, per-fixture normalized attribute record that
// flows out of WriteAttributes sinks and is reduced across instances into the
// final per-tick frame. A nil pointer means the attribute is absent, not
// zero.
type AttributeBundle struct {
	Intensity *float64
	Color     *RGB
	Pan       *float64
	Tilt      *float64
	Zoom      *float64
}

// Clone returns a deep copy so that merges never alias the original's
// pointers.
func (b AttributeBundle) Clone() AttributeBundle {
	out := AttributeBundle{}
	if b.Intensity != nil {
		v := *b.Intensity
		out.Intensity = &v
	}
	if b.Color != nil {
		v := *b.Color
		out.Color = &v
	}
	if b.Pan != nil {
		v := *b.Pan
		out.Pan = &v
	}
	if b.Tilt != nil {
		v := *b.Tilt
		out.Tilt = &v
	}
	if b.Zoom != nil {
		v := *b.Zoom
		out.Zoom = &v
	}
	return out
}

// Value is the tagged union carried along a compiled graph's edges. Only the
// field matching Kind is meaningful.
type Value struct {
	Kind Type

	ScalarVal    float64
	BoolVal      bool
	TriggerVal   bool
	ColorVal     RGB
	PositionVal  PanTilt
	BundleVal    AttributeBundle
	SelectionVal map[string]struct{} // fixture ids
}

// ScalarValue builds a Scalar-kinded Value.
func ScalarValue(f float64) Value { return Value{Kind: Scalar, ScalarVal: f} }

// BoolValue builds a Bool-kinded Value.
func BoolValue(b bool) Value { return Value{Kind: Bool, BoolVal: b} }

// TriggerValue builds a Trigger-kinded Value.
func TriggerValue(b bool) Value { return Value{Kind: Trigger, TriggerVal: b} }

// ColorValue builds a Color-kinded Value.
func ColorValue(c RGB) Value { return Value{Kind: Color, ColorVal: c} }

// PositionValue builds a Position-kinded Value.
func PositionValue(p PanTilt) Value { return Value{Kind: Position, PositionVal: p} }

// BundleValue builds a Bundle-kinded Value.
func BundleValue(b AttributeBundle) Value { return Value{Kind: Bundle, BundleVal: b} }

// SelectionValue builds a Selection-kinded Value.
func SelectionValue(ids map[string]struct{}) Value {
	if ids == nil {
		ids = map[string]struct{}{}
	}
	return Value{Kind: Selection, SelectionVal: ids}
}

// Zero returns the identity/zero value for a given port type, used when an
// optional input has neither an incoming edge nor a declared default.
func Zero(t Type) Value {
	switch t {
	case Scalar:
		return ScalarValue(0)
	case Bool:
		return BoolValue(false)
	case Trigger:
		return TriggerValue(false)
	case Color:
		return ColorValue(RGB{})
	case Position:
		return PositionValue(PanTilt{})
	case Bundle:
		return BundleValue(AttributeBundle{})
	case Selection:
		return SelectionValue(nil)
	default:
		return Value{}
	}
}

// Promotable reports whether a value of type `from` may be delivered to a
// port declared as type `to`, per the compiler's asymmetric compatibility
// table (spec.md §4.1 pass 4):
//
//   - identity T -> T always holds
//   - Trigger -> Bool (falling edge to level) holds
//   - Scalar -> Bundle, Color -> Bundle, Position -> Bundle hold
//     (auto-promotion to a single-attribute bundle)
//   - every other cross-type pair fails
func Promotable(from, to Type) bool {
	if from == to {
		return true
	}
	switch {
	case from == Trigger && to == Bool:
		return true
	case from == Scalar && to == Bundle:
		return true
	case from == Color && to == Bundle:
		return true
	case from == Position && to == Bundle:
		return true
	}
	return false
}

// Promote converts a value to the type a consuming port expects, applying
// the same rules Promotable checks. It panics if the conversion is not
// promotable; callers must only invoke it after the compiler has already
// validated the edge (or after calling Promotable themselves).
func Promote(v Value, to Type) Value {
	if v.Kind == to {
		return v
	}
	switch {
	case v.Kind == Trigger && to == Bool:
		return BoolValue(v.TriggerVal)
	case v.Kind == Scalar && to == Bundle:
		i := v.ScalarVal
		return BundleValue(AttributeBundle{Intensity: &i})
	case v.Kind == Color && to == Bundle:
		c := v.ColorVal
		return BundleValue(AttributeBundle{Color: &c})
	case v.Kind == Position && to == Bundle:
		pan, tilt := v.PositionVal.Pan, v.PositionVal.Tilt
		return BundleValue(AttributeBundle{Pan: &pan, Tilt: &tilt})
	}
	panic(fmt.Sprintf("ports: %s is not promotable to %s", v.Kind, to))
}

// Clip returns f clamped to [lo, hi]. NaN and Inf are coerced to 0 first, per
// spec.md §4.2's numeric semantics ("NaN/Inf values propagated into attribute
// bundles are coerced to 0.0 by the bridge before DMX encoding" — evaluators
// apply the same rule at their own clip boundaries so that a misbehaving
// upstream node can't poison a whole chain).
func Clip(f, lo, hi float64) float64 {
	if f != f || f > 1e308 || f < -1e308 { // NaN or effectively Inf
		f = 0
	}
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

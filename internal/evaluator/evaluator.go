// Package evaluator is the per-tick node evaluation library: one function per
// catalog node type, registered into a single table the same way the wider
// engine registers one constructor per resource kind rather than
// special-casing each one in its scheduler. The tick engine calls Eval once
// per node per tick, in the compiled evaluation order, and never needs to
// know what kind of node it's looking at.
package evaluator

import (
	"math"

	"github.com/lumenstage/lumen/internal/catalog"
	"github.com/lumenstage/lumen/internal/ports"
)

// InputState is the live snapshot of external control surfaces the tick
// engine hands the evaluator each tick. Fader values are continuous;
// ButtonDown is the current held state; ButtonPressed is true for exactly the
// tick a press edge was observed, and the engine resets it after the tick per
// spec.md §4.3's input-edge-reset phase.
type InputState struct {
	Faders        map[string]float64
	ButtonDown    map[string]bool
	ButtonPressed map[string]bool
}

// NodeState is a per-instance, per-node bag for evaluator-local persistent
// state (oscillator phase, smoothing accumulator) that must survive from one
// tick to the next but never escapes the node that owns it.
type NodeState map[string]interface{}

// Context is everything a node evaluator function needs beyond its own
// inputs: the tick clock, the live input snapshot, and its own persistent
// state slot.
type Context struct {
	Time      float64
	DeltaTime float64
	Inputs    InputState
	State     NodeState

	// Warnf reports a non-fatal evaluation problem (unknown group/fixture
	// id referenced by a selection node, etc.) without aborting the tick.
	// It may be nil, in which case warnings are silently dropped.
	Warnf func(format string, args ...interface{})

	// ResolveGroup expands a group id to its current member fixture ids.
	// The tick engine supplies this from the live group roster; SelectGroup
	// resolves through it immediately rather than carrying a group
	// reference downstream, so every other node only ever sees fixture ids.
	ResolveGroup func(groupID string) ([]string, bool)
}

func (c *Context) warn(format string, args ...interface{}) {
	if c.Warnf != nil {
		c.Warnf(format, args...)
	}
}

// EvalFunc computes a node's outputs for one tick given its resolved inputs.
// params is the node's static parameter map as authored in the graph.
type EvalFunc func(ctx *Context, params map[string]interface{}, in map[string]ports.Value) map[string]ports.Value

// registry is the closed table of node evaluators, keyed by the same type
// names catalog.Catalog uses. It is populated once at init time and never
// mutated afterward.
var registry = map[string]EvalFunc{
	catalog.Time:             evalTime,
	catalog.Fader:            evalFader,
	catalog.Button:           evalButton,
	catalog.SineLFO:          evalSineLFO,
	catalog.TriangleLFO:      evalTriangleLFO,
	catalog.SawLFO:           evalSawLFO,
	catalog.Smooth:           evalSmooth,
	catalog.MapRange:         evalMapRange,
	catalog.Clamp01:          evalClamp01,
	catalog.MixColor:         evalMixColor,
	catalog.ScaleColor:       evalScaleColor,
	catalog.ColorConstant:    evalColorConstant,
	catalog.PositionConstant: evalPositionConstant,
	catalog.SelectGroup:      evalSelectGroup,
	catalog.SelectFixture:    evalSelectFixture,
	catalog.MergeBundle:      evalMergeBundle,
	catalog.ScaleBundle:      evalScaleBundle,
	catalog.WriteAttributes:  evalWriteAttributes,
}

// Lookup returns the evaluator registered for a node type.
func Lookup(nodeType string) (EvalFunc, bool) {
	f, ok := registry[nodeType]
	return f, ok
}

func evalTime(ctx *Context, _ map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	return map[string]ports.Value{
		"t":  ports.ScalarValue(ctx.Time),
		"dt": ports.ScalarValue(ctx.DeltaTime),
	}
}

func evalFader(ctx *Context, params map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	id, _ := params["fader_id"].(string)
	v := ctx.Inputs.Faders[id]
	return map[string]ports.Value{"value": ports.ScalarValue(ports.Clip(v, 0, 1))}
}

func evalButton(ctx *Context, params map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	id, _ := params["button_id"].(string)
	return map[string]ports.Value{
		"pressed": ports.TriggerValue(ctx.Inputs.ButtonPressed[id]),
		"down":    ports.BoolValue(ctx.Inputs.ButtonDown[id]),
	}
}

// oscillatorPhase advances a phase accumulator in [0,1) by frequency*speed*dt
// and stores it back into the node's persistent state, grounded on the same
// "small bag of state carried across calls" shape the engine's own stateful
// resources use for their internal bookkeeping.
func oscillatorPhase(ctx *Context, in map[string]ports.Value) float64 {
	freq := in["frequency"].ScalarVal
	speed := in["speed"].ScalarVal

	phase, _ := ctx.State["phase"].(float64)
	phase += freq * speed * ctx.DeltaTime
	phase -= math.Floor(phase)
	ctx.State["phase"] = phase
	return phase
}

func evalSineLFO(ctx *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	phase := oscillatorPhase(ctx, in)
	v := (math.Sin(2*math.Pi*phase) + 1) / 2
	return map[string]ports.Value{"value": ports.ScalarValue(v)}
}

func evalTriangleLFO(ctx *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	phase := oscillatorPhase(ctx, in)
	v := 1 - math.Abs(2*phase-1)
	return map[string]ports.Value{"value": ports.ScalarValue(v)}
}

func evalSawLFO(ctx *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	phase := oscillatorPhase(ctx, in)
	return map[string]ports.Value{"value": ports.ScalarValue(phase)}
}

func evalSmooth(ctx *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	target := in["in"].ScalarVal
	smoothing := ports.Clip(in["smoothing"].ScalarVal, 0, 1)

	y, ok := ctx.State["y"].(float64)
	if !ok {
		y = target // first tick: snap to target, nothing to smooth from yet
	}
	y = y*smoothing + target*(1-smoothing)
	ctx.State["y"] = y
	return map[string]ports.Value{"value": ports.ScalarValue(y)}
}

func evalMapRange(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	v := in["in"].ScalarVal
	inMin, inMax := in["in_min"].ScalarVal, in["in_max"].ScalarVal
	outMin, outMax := in["out_min"].ScalarVal, in["out_max"].ScalarVal

	span := inMax - inMin
	var t float64
	if span != 0 {
		t = (v - inMin) / span
	} // a degenerate zero-width input range maps everything to out_min

	return map[string]ports.Value{"value": ports.ScalarValue(outMin + t*(outMax-outMin))}
}

func evalClamp01(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	return map[string]ports.Value{"value": ports.ScalarValue(ports.Clip(in["in"].ScalarVal, 0, 1))}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func evalMixColor(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	a, b := in["a"].ColorVal, in["b"].ColorVal
	mix := ports.Clip(in["mix"].ScalarVal, 0, 1)
	out := ports.RGB{
		R: lerp(a.R, b.R, mix),
		G: lerp(a.G, b.G, mix),
		B: lerp(a.B, b.B, mix),
	}
	return map[string]ports.Value{"color": ports.ColorValue(out)}
}

func evalScaleColor(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	c := in["color"].ColorVal
	scale := in["scale"].ScalarVal
	out := ports.RGB{
		R: ports.Clip(c.R*scale, 0, 1),
		G: ports.Clip(c.G*scale, 0, 1),
		B: ports.Clip(c.B*scale, 0, 1),
	}
	return map[string]ports.Value{"color": ports.ColorValue(out)}
}

func evalColorConstant(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	out := ports.RGB{R: in["r"].ScalarVal, G: in["g"].ScalarVal, B: in["b"].ScalarVal}
	return map[string]ports.Value{"color": ports.ColorValue(out)}
}

func evalPositionConstant(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	out := ports.PanTilt{Pan: in["pan"].ScalarVal, Tilt: in["tilt"].ScalarVal}
	return map[string]ports.Value{"position": ports.PositionValue(out)}
}

func stringList(params map[string]interface{}, key string) []string {
	list, _ := params[key].([]string)
	return list
}

func evalSelectGroup(ctx *Context, params map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	ids := stringList(params, "group_ids")
	sel := map[string]struct{}{}
	for _, groupID := range ids {
		if ctx == nil || ctx.ResolveGroup == nil {
			continue
		}
		members, ok := ctx.ResolveGroup(groupID)
		if !ok {
			ctx.warn("SelectGroup: unknown group id %q, dropping", groupID)
			continue
		}
		for _, fixtureID := range members {
			sel[fixtureID] = struct{}{}
		}
	}
	return map[string]ports.Value{"selection": ports.SelectionValue(sel)}
}

func evalSelectFixture(_ *Context, params map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	ids := stringList(params, "fixture_ids")
	sel := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		sel[id] = struct{}{}
	}
	return map[string]ports.Value{"selection": ports.SelectionValue(sel)}
}

func mergeBundle(base, override ports.AttributeBundle) ports.AttributeBundle {
	out := base.Clone()
	if override.Intensity != nil {
		v := *override.Intensity
		out.Intensity = &v
	}
	if override.Color != nil {
		v := *override.Color
		out.Color = &v
	}
	if override.Pan != nil {
		v := *override.Pan
		out.Pan = &v
	}
	if override.Tilt != nil {
		v := *override.Tilt
		out.Tilt = &v
	}
	if override.Zoom != nil {
		v := *override.Zoom
		out.Zoom = &v
	}
	return out
}

func evalMergeBundle(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	out := mergeBundle(in["base"].BundleVal, in["override"].BundleVal)
	return map[string]ports.Value{"bundle": ports.BundleValue(out)}
}

// scaleAttr multiplies an optional attribute by scale and clips the result
// to [lo, hi], the attribute's legal range (spec.md §4.2).
func scaleAttr(p *float64, scale, lo, hi float64) *float64 {
	if p == nil {
		return nil
	}
	v := ports.Clip(*p*scale, lo, hi)
	return &v
}

func evalScaleBundle(_ *Context, _ map[string]interface{}, in map[string]ports.Value) map[string]ports.Value {
	b := in["bundle"].BundleVal
	scale := in["scale"].ScalarVal
	out := ports.AttributeBundle{
		Intensity: scaleAttr(b.Intensity, scale, 0, 1),
		Pan:       scaleAttr(b.Pan, scale, -1, 1),
		Tilt:      scaleAttr(b.Tilt, scale, -1, 1),
		Zoom:      scaleAttr(b.Zoom, scale, 0, 1),
	}
	if b.Color != nil {
		c := ports.RGB{
			R: ports.Clip(b.Color.R*scale, 0, 1),
			G: ports.Clip(b.Color.G*scale, 0, 1),
			B: ports.Clip(b.Color.B*scale, 0, 1),
		}
		out.Color = &c
	}
	return map[string]ports.Value{"bundle": ports.BundleValue(out)}
}

// evalWriteAttributes is a pure sink: it has no outputs. The tick engine
// reads its resolved "selection" and "bundle" inputs plus its "priority"
// param directly after evaluation to build the tick's WriteRecords (spec.md
// §4.3 phase "write collection") — nothing about that belongs in the
// evaluator table itself.
func evalWriteAttributes(_ *Context, _ map[string]interface{}, _ map[string]ports.Value) map[string]ports.Value {
	return nil
}

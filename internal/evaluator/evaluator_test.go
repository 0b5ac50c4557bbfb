package evaluator

import (
	"math"
	"testing"

	"github.com/lumenstage/lumen/internal/ports"
)

func newCtx(dt float64) *Context {
	return &Context{DeltaTime: dt, State: NodeState{}, Inputs: InputState{
		Faders:        map[string]float64{},
		ButtonDown:    map[string]bool{},
		ButtonPressed: map[string]bool{},
	}}
}

func TestEvaluatorT1_Time(t *testing.T) {
	ctx := newCtx(0.5)
	ctx.Time = 3
	out := evalTime(ctx, nil, nil)
	if out["t"].ScalarVal != 3 || out["dt"].ScalarVal != 0.5 {
		t.Fatalf("unexpected Time outputs: %+v", out)
	}
}

func TestEvaluatorT2_FaderClips(t *testing.T) {
	ctx := newCtx(1)
	ctx.Inputs.Faders["f1"] = 2.5 // out of range input should clip to 1
	out := evalFader(ctx, map[string]interface{}{"fader_id": "f1"}, nil)
	if out["value"].ScalarVal != 1 {
		t.Fatalf("expected fader to clip to 1, got %v", out["value"].ScalarVal)
	}
}

func TestEvaluatorT3_ButtonEdge(t *testing.T) {
	ctx := newCtx(1)
	ctx.Inputs.ButtonDown["b1"] = true
	ctx.Inputs.ButtonPressed["b1"] = true
	out := evalButton(ctx, map[string]interface{}{"button_id": "b1"}, nil)
	if !out["pressed"].TriggerVal || !out["down"].BoolVal {
		t.Fatalf("expected both pressed and down set, got %+v", out)
	}
}

func TestEvaluatorT4_SineLFOPhaseAdvances(t *testing.T) {
	ctx := newCtx(0.25)
	in := map[string]ports.Value{"frequency": ports.ScalarValue(1), "speed": ports.ScalarValue(1)}
	out1 := evalSineLFO(ctx, nil, in)
	out2 := evalSineLFO(ctx, nil, in)
	if out1["value"].ScalarVal == out2["value"].ScalarVal {
		t.Fatalf("expected phase to advance between ticks")
	}
	phase, _ := ctx.State["phase"].(float64)
	if phase < 0 || phase >= 1 {
		t.Fatalf("expected phase to stay wrapped in [0,1), got %v", phase)
	}
}

func TestEvaluatorT5_SmoothConverges(t *testing.T) {
	ctx := newCtx(1)
	in := map[string]ports.Value{"in": ports.ScalarValue(1), "smoothing": ports.ScalarValue(0.5)}
	var last float64
	for i := 0; i < 50; i++ {
		out := evalSmooth(ctx, nil, in)
		last = out["value"].ScalarVal
	}
	if math.Abs(last-1) > 1e-6 {
		t.Fatalf("expected smoothed value to converge to target 1, got %v", last)
	}
}

func TestEvaluatorT6_MapRangeDegenerateSpan(t *testing.T) {
	in := map[string]ports.Value{
		"in": ports.ScalarValue(5), "in_min": ports.ScalarValue(2), "in_max": ports.ScalarValue(2),
		"out_min": ports.ScalarValue(10), "out_max": ports.ScalarValue(20),
	}
	out := evalMapRange(nil, nil, in)
	if out["value"].ScalarVal != 10 {
		t.Fatalf("expected degenerate input range to map to out_min, got %v", out["value"].ScalarVal)
	}
}

func TestEvaluatorT7_MixColor(t *testing.T) {
	in := map[string]ports.Value{
		"a":   ports.ColorValue(ports.RGB{R: 0, G: 0, B: 0}),
		"b":   ports.ColorValue(ports.RGB{R: 1, G: 1, B: 1}),
		"mix": ports.ScalarValue(0.5),
	}
	out := evalMixColor(nil, nil, in)
	c := out["color"].ColorVal
	if c.R != 0.5 || c.G != 0.5 || c.B != 0.5 {
		t.Fatalf("expected midpoint color, got %+v", c)
	}
}

func TestEvaluatorT7b_ScaleColorClipsToUnitRange(t *testing.T) {
	in := map[string]ports.Value{
		"color": ports.ColorValue(ports.RGB{R: 0.9, G: 0.5, B: 0.1}),
		"scale": ports.ScalarValue(2.0),
	}
	out := evalScaleColor(nil, nil, in)
	c := out["color"].ColorVal
	if c.R != 1 || c.G != 1 || c.B != 0.2 {
		t.Fatalf("expected channels scaled and clipped to [0,1], got %+v", c)
	}
}

func TestEvaluatorT7c_ScaleBundleClipsEachAttributeToItsLegalRange(t *testing.T) {
	intensity, pan, tilt, zoom := 0.8, 0.9, -0.9, 0.7
	in := map[string]ports.Value{
		"bundle": ports.BundleValue(ports.AttributeBundle{
			Intensity: &intensity,
			Pan:       &pan,
			Tilt:      &tilt,
			Zoom:      &zoom,
			Color:     &ports.RGB{R: 0.6, G: 0.6, B: 0.6},
		}),
		"scale": ports.ScalarValue(2.0),
	}
	out := evalScaleBundle(nil, nil, in)
	got := out["bundle"].BundleVal
	if got.Intensity == nil || *got.Intensity != 1 {
		t.Fatalf("expected intensity clipped to 1, got %+v", got.Intensity)
	}
	if got.Zoom == nil || *got.Zoom != 1 {
		t.Fatalf("expected zoom clipped to 1, got %+v", got.Zoom)
	}
	if got.Pan == nil || *got.Pan != 1 {
		t.Fatalf("expected pan clipped to 1, got %+v", got.Pan)
	}
	if got.Tilt == nil || *got.Tilt != -1 {
		t.Fatalf("expected tilt clipped to -1, got %+v", got.Tilt)
	}
	if got.Color == nil || got.Color.R != 1 {
		t.Fatalf("expected color channel clipped to 1, got %+v", got.Color)
	}
}

func TestEvaluatorT8_MergeBundleOverridesWin(t *testing.T) {
	baseIntensity := 0.2
	overrideIntensity := 0.9
	base := ports.AttributeBundle{Intensity: &baseIntensity}
	override := ports.AttributeBundle{Intensity: &overrideIntensity}
	in := map[string]ports.Value{"base": ports.BundleValue(base), "override": ports.BundleValue(override)}
	out := evalMergeBundle(nil, nil, in)
	got := out["bundle"].BundleVal
	if got.Intensity == nil || *got.Intensity != overrideIntensity {
		t.Fatalf("expected override intensity to win, got %+v", got)
	}
}

func TestEvaluatorT9_SelectFixtureBuildsSet(t *testing.T) {
	out := evalSelectFixture(nil, map[string]interface{}{"fixture_ids": []string{"fx1", "fx2"}}, nil)
	sel := out["selection"].SelectionVal
	if len(sel) != 2 {
		t.Fatalf("expected 2 selected fixtures, got %d", len(sel))
	}
	if _, ok := sel["fx1"]; !ok {
		t.Fatalf("expected fx1 in selection")
	}
}

func TestEvaluatorT9b_SelectGroupResolvesAndWarnsOnUnknown(t *testing.T) {
	ctx := newCtx(1)
	var warned string
	ctx.Warnf = func(format string, args ...interface{}) { warned = format }
	ctx.ResolveGroup = func(id string) ([]string, bool) {
		if id == "g1" {
			return []string{"fx1", "fx2"}, true
		}
		return nil, false
	}
	out := evalSelectGroup(ctx, map[string]interface{}{"group_ids": []string{"g1", "missing"}}, nil)
	sel := out["selection"].SelectionVal
	if len(sel) != 2 {
		t.Fatalf("expected group g1 to resolve to 2 fixtures, got %v", sel)
	}
	if warned == "" {
		t.Fatalf("expected a warning about the unknown group id")
	}
}

func TestEvaluatorT10_WriteAttributesHasNoOutputs(t *testing.T) {
	if out := evalWriteAttributes(nil, nil, nil); out != nil {
		t.Fatalf("expected WriteAttributes to produce no outputs, got %+v", out)
	}
}

func TestEvaluatorT11_LookupKnowsEveryCatalogType(t *testing.T) {
	for _, nt := range []string{
		"Time", "Fader", "Button", "SineLFO", "TriangleLFO", "SawLFO", "Smooth", "MapRange",
		"Clamp01", "MixColor", "ScaleColor", "ColorConstant", "PositionConstant", "SelectGroup",
		"SelectFixture", "MergeBundle", "ScaleBundle", "WriteAttributes",
	} {
		if _, ok := Lookup(nt); !ok {
			t.Fatalf("expected an evaluator registered for %s", nt)
		}
	}
}

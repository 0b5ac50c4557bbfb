package compiler

import (
	"testing"

	"github.com/lumenstage/lumen/internal/catalog"
	"github.com/lumenstage/lumen/internal/model"
)

func portRef(node, port string) model.PortRef { return model.PortRef{NodeID: node, Port: port} }

func TestCompilerT1_SimpleValidGraph(t *testing.T) {
	g := model.Graph{
		ID: "g1",
		Nodes: []model.Node{
			{ID: "fader1", Type: catalog.Fader, Params: map[string]interface{}{"fader_id": "f1"}},
			{ID: "sel1", Type: catalog.SelectFixture, Params: map[string]interface{}{"fixture_ids": []string{"fx1"}}},
			{ID: "write1", Type: catalog.WriteAttributes, Params: map[string]interface{}{"priority": 50.0}},
		},
		Edges: []model.Edge{
			{ID: "e1", From: portRef("fader1", "value"), To: portRef("write1", "bundle")},
			{ID: "e2", From: portRef("sel1", "selection"), To: portRef("write1", "selection")},
		},
	}

	cg, errs := Compile(g)
	if len(errs) != 0 {
		t.Fatalf("unexpected compile errors: %v", errs)
	}
	if cg == nil {
		t.Fatalf("expected a compiled graph")
	}
	pos := map[string]int{}
	for i, id := range cg.EvaluationOrder {
		pos[id] = i
	}
	if !(pos["fader1"] < pos["write1"] && pos["sel1"] < pos["write1"]) {
		t.Fatalf("evaluation order violates dependencies: %v", cg.EvaluationOrder)
	}
	if len(cg.Dependencies.FaderIDs) != 1 || cg.Dependencies.FaderIDs[0] != "f1" {
		t.Fatalf("expected fader dependency f1, got %v", cg.Dependencies.FaderIDs)
	}
	if len(cg.Dependencies.FixtureIDs) != 1 || cg.Dependencies.FixtureIDs[0] != "fx1" {
		t.Fatalf("expected fixture dependency fx1, got %v", cg.Dependencies.FixtureIDs)
	}
}

func TestCompilerT2_UnknownNodeType(t *testing.T) {
	g := model.Graph{
		ID:    "g2",
		Nodes: []model.Node{{ID: "n1", Type: "NoSuchNode"}},
	}
	_, errs := Compile(g)
	if len(errs) != 1 || errs[0].Code != ErrUnknownNodeType {
		t.Fatalf("expected a single UNKNOWN_NODE_TYPE error, got %v", errs)
	}
}

func TestCompilerT3_Cycle(t *testing.T) {
	g := model.Graph{
		ID: "g3",
		Nodes: []model.Node{
			{ID: "a", Type: catalog.Smooth},
			{ID: "b", Type: catalog.Smooth},
		},
		Edges: []model.Edge{
			{ID: "e1", From: portRef("a", "value"), To: portRef("b", "in")},
			{ID: "e2", From: portRef("b", "value"), To: portRef("a", "in")},
		},
	}
	_, errs := Compile(g)
	if len(errs) != 1 || errs[0].Code != ErrCycleDetected {
		t.Fatalf("expected a single CYCLE_DETECTED error, got %v", errs)
	}
}

func TestCompilerT4_TypeMismatch(t *testing.T) {
	g := model.Graph{
		ID: "g4",
		Nodes: []model.Node{
			{ID: "sel1", Type: catalog.SelectFixture, Params: map[string]interface{}{"fixture_ids": []string{"fx1"}}},
			{ID: "smooth1", Type: catalog.Smooth},
		},
		Edges: []model.Edge{
			{ID: "e1", From: portRef("sel1", "selection"), To: portRef("smooth1", "in")},
		},
	}
	_, errs := Compile(g)
	found := false
	for _, e := range errs {
		if e.Code == ErrTypeMismatch {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a TYPE_MISMATCH error, got %v", errs)
	}
}

func TestCompilerT5_MissingRequiredInput(t *testing.T) {
	g := model.Graph{
		ID: "g5",
		Nodes: []model.Node{
			{ID: "write1", Type: catalog.WriteAttributes},
		},
	}
	_, errs := Compile(g)
	if len(errs) != 2 {
		t.Fatalf("expected two MISSING_CONNECTION errors (selection, bundle), got %v", errs)
	}
	for _, e := range errs {
		if e.Code != ErrMissingConnection {
			t.Fatalf("expected MISSING_CONNECTION, got %v", e)
		}
	}
}

func TestCompilerT6_InvalidParam(t *testing.T) {
	g := model.Graph{
		ID: "g6",
		Nodes: []model.Node{
			{ID: "fader1", Type: catalog.Fader}, // missing required fader_id
		},
	}
	_, errs := Compile(g)
	if len(errs) != 1 || errs[0].Code != ErrInvalidParam {
		t.Fatalf("expected a single INVALID_PARAM error, got %v", errs)
	}
}

func TestCompilerT7_Deterministic(t *testing.T) {
	build := func() model.Graph {
		return model.Graph{
			ID: "g7",
			Nodes: []model.Node{
				{ID: "t1", Type: catalog.Time},
				{ID: "lfo1", Type: catalog.SineLFO},
				{ID: "sel1", Type: catalog.SelectFixture, Params: map[string]interface{}{"fixture_ids": []string{"fx1"}}},
				{ID: "write1", Type: catalog.WriteAttributes},
			},
			Edges: []model.Edge{
				{ID: "e1", From: portRef("lfo1", "value"), To: portRef("write1", "bundle")},
				{ID: "e2", From: portRef("sel1", "selection"), To: portRef("write1", "selection")},
			},
		}
	}
	cg1, errs1 := Compile(build())
	cg2, errs2 := Compile(build())
	if len(errs1) != 0 || len(errs2) != 0 {
		t.Fatalf("unexpected errors: %v %v", errs1, errs2)
	}
	if len(cg1.EvaluationOrder) != len(cg2.EvaluationOrder) {
		t.Fatalf("length mismatch")
	}
	for i := range cg1.EvaluationOrder {
		if cg1.EvaluationOrder[i] != cg2.EvaluationOrder[i] {
			t.Fatalf("non-deterministic evaluation order: %v != %v", cg1.EvaluationOrder, cg2.EvaluationOrder)
		}
	}
}

func TestCompilerT8_PromotionAllowed(t *testing.T) {
	// Scalar -> Bundle promotion, exercised through WriteAttributes' bundle input.
	g2 := model.Graph{
		ID: "g8b",
		Nodes: []model.Node{
			{ID: "fader1", Type: catalog.Fader, Params: map[string]interface{}{"fader_id": "f1"}},
			{ID: "sel1", Type: catalog.SelectFixture, Params: map[string]interface{}{"fixture_ids": []string{"fx1"}}},
			{ID: "write1", Type: catalog.WriteAttributes},
		},
		Edges: []model.Edge{
			{ID: "e1", From: portRef("fader1", "value"), To: portRef("write1", "bundle")},
			{ID: "e2", From: portRef("sel1", "selection"), To: portRef("write1", "selection")},
		},
	}
	if _, errs := Compile(g2); len(errs) != 0 {
		t.Fatalf("expected Scalar->Bundle promotion to be accepted, got %v", errs)
	}
}

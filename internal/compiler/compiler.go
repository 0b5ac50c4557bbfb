// Package compiler turns an authored model.Graph into a CompiledGraph ready
// for the tick engine, or a non-empty list of CompileErrors. It runs the
// seven sequential passes of spec.md §4.1 over the closed node catalog,
// using internal/pgraph for cycle detection and topological sort the same
// way the wider engine runs its resource graph through a generic DAG
// primitive before scheduling work over it.
package compiler

import (
	"fmt"
	"sort"

	"github.com/lumenstage/lumen/internal/catalog"
	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/pgraph"
	"github.com/lumenstage/lumen/internal/ports"
)

// ErrorCode enumerates the closed set of compile-error kinds from spec.md
// §4.1.
type ErrorCode string

// The compile error codes.
const (
	ErrUnknownNodeType   ErrorCode = "UNKNOWN_NODE_TYPE"
	ErrCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrTypeMismatch      ErrorCode = "TYPE_MISMATCH"
	ErrMissingConnection ErrorCode = "MISSING_CONNECTION"
	ErrInvalidParam      ErrorCode = "INVALID_PARAM"
)

// CompileError is one problem found in a graph, with enough context to
// locate it.
type CompileError struct {
	NodeID  string
	Port    string
	Code    ErrorCode
	Message string
}

func (e CompileError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Port == "" {
		return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: node %s port %s: %s", e.Code, e.NodeID, e.Port, e.Message)
}

// Dependencies is the union of external entity ids a compiled graph reads,
// extracted in pass 7.
type Dependencies struct {
	FaderIDs   []string
	ButtonIDs  []string
	GroupIDs   []string
	FixtureIDs []string
}

// CompiledGraph is the artifact a successful compile produces. Its lifetime
// runs from the compile until the next revision of the same graph is
// compiled.
type CompiledGraph struct {
	GraphID         string
	EvaluationOrder []string // node ids, topologically sorted
	Dependencies    Dependencies

	// edgeTo indexes, for each (node, input port), the single upstream
	// (node, port) feeding it. Compile does not reject a graph with several
	// edges into the same input port; the last such edge in edge order is
	// the one kept here.
	edgeTo map[model.PortRef]model.PortRef
}

// UpstreamOf returns the (node, port) that feeds the given input port, if
// any edge targets it.
func (c *CompiledGraph) UpstreamOf(to model.PortRef) (model.PortRef, bool) {
	up, ok := c.edgeTo[to]
	return up, ok
}

// Compile runs the seven passes of spec.md §4.1 and either returns a
// CompiledGraph or a non-empty list of errors. Compile is a pure function of
// its input: calling it twice on the same graph yields identical
// evaluation_order and identical error lists.
func Compile(g model.Graph) (*CompiledGraph, []CompileError) {
	// Pass 1: type enumeration. An unknown node type is catastrophic:
	// nothing past this point can be trusted, so we stop here.
	if errs := checkNodeTypesKnown(g); len(errs) > 0 {
		return nil, errs
	}

	// Build the structural DAG used by passes 2 and 3.
	dag := pgraph.NewGraph()
	for _, n := range g.Nodes {
		dag.AddVertex(n.ID)
	}
	for _, e := range g.Edges {
		// Duplicate ids were already rejected at graph-authoring time
		// (model.Graph.ValidateStructure), but dangling edge endpoints are
		// not checked there: skip them here, and pass 4 reports them.
		if !dag.HasVertex(e.From.NodeID) || !dag.HasVertex(e.To.NodeID) {
			continue
		}
		_ = dag.AddEdge(e.From.NodeID, e.To.NodeID)
	}

	// Pass 2: cycle detection.
	if path, found := dag.FindCycle(); found {
		return nil, []CompileError{{
			Code:    ErrCycleDetected,
			Message: fmt.Sprintf("cycle detected: %v", path),
		}}
	}

	// Pass 3: topological order via Kahn's algorithm.
	order, ok := dag.TopologicalSort()
	if !ok {
		// Unreachable: pass 2 already proved the graph acyclic.
		return nil, []CompileError{{Code: ErrCycleDetected, Message: "topological sort failed after cycle check"}}
	}

	var errs []CompileError

	// Pass 4: port typing.
	edgeTo, typeErrs := checkPortTyping(g)
	errs = append(errs, typeErrs...)

	// Pass 5: required-input coverage.
	errs = append(errs, checkRequiredInputs(g, edgeTo)...)

	// Pass 6: parameter validation.
	errs = append(errs, checkParams(g)...)

	if len(errs) > 0 {
		return nil, errs
	}

	// Pass 7: dependency extraction.
	deps := extractDependencies(g)

	return &CompiledGraph{
		GraphID:         g.ID,
		EvaluationOrder: order,
		Dependencies:    deps,
		edgeTo:          edgeTo,
	}, nil
}

func checkNodeTypesKnown(g model.Graph) []CompileError {
	var errs []CompileError
	for _, n := range g.Nodes {
		if _, ok := catalog.Lookup(n.Type); !ok {
			errs = append(errs, CompileError{
				NodeID:  n.ID,
				Code:    ErrUnknownNodeType,
				Message: fmt.Sprintf("unknown node type %q", n.Type),
			})
		}
	}
	return errs
}

// checkPortTyping resolves every edge's endpoint ports and checks
// compatibility per ports.Promotable. It returns the edgeTo index the
// evaluator will use, built only from edges that passed typing.
func checkPortTyping(g model.Graph) (map[model.PortRef]model.PortRef, []CompileError) {
	edgeTo := make(map[model.PortRef]model.PortRef)
	var errs []CompileError

	for _, e := range g.Edges {
		fromNode, ok := g.NodeByID(e.From.NodeID)
		if !ok {
			errs = append(errs, CompileError{NodeID: e.From.NodeID, Code: ErrMissingConnection, Message: "edge source node does not exist"})
			continue
		}
		toNode, ok := g.NodeByID(e.To.NodeID)
		if !ok {
			errs = append(errs, CompileError{NodeID: e.To.NodeID, Code: ErrMissingConnection, Message: "edge target node does not exist"})
			continue
		}

		fromDef, _ := catalog.Lookup(fromNode.Type) // pass 1 already guaranteed this exists
		toDef, _ := catalog.Lookup(toNode.Type)

		outPort, ok := fromDef.OutputPort(e.From.Port)
		if !ok {
			errs = append(errs, CompileError{NodeID: e.From.NodeID, Port: e.From.Port, Code: ErrMissingConnection, Message: "no such output port"})
			continue
		}
		inPort, ok := toDef.InputPort(e.To.Port)
		if !ok {
			errs = append(errs, CompileError{NodeID: e.To.NodeID, Port: e.To.Port, Code: ErrMissingConnection, Message: "no such input port"})
			continue
		}

		if !ports.Promotable(outPort.Type, inPort.Type) {
			errs = append(errs, CompileError{
				NodeID:  e.To.NodeID,
				Port:    e.To.Port,
				Code:    ErrTypeMismatch,
				Message: fmt.Sprintf("cannot connect %s output %q (%s) to %s input %q (%s)", fromNode.Type, e.From.Port, outPort.Type, toNode.Type, e.To.Port, inPort.Type),
			})
			continue
		}

		edgeTo[model.PortRef{NodeID: e.To.NodeID, Port: e.To.Port}] = model.PortRef{NodeID: e.From.NodeID, Port: e.From.Port}
	}

	return edgeTo, errs
}

func checkRequiredInputs(g model.Graph, edgeTo map[model.PortRef]model.PortRef) []CompileError {
	var errs []CompileError
	for _, n := range g.Nodes {
		def, ok := catalog.Lookup(n.Type)
		if !ok {
			continue // already reported in pass 1
		}
		for _, in := range def.Inputs {
			if !in.Required() {
				continue
			}
			if _, wired := edgeTo[model.PortRef{NodeID: n.ID, Port: in.Name}]; !wired {
				errs = append(errs, CompileError{
					NodeID:  n.ID,
					Port:    in.Name,
					Code:    ErrMissingConnection,
					Message: fmt.Sprintf("required input %q has no incoming edge", in.Name),
				})
			}
		}
	}
	return errs
}

func checkParams(g model.Graph) []CompileError {
	var errs []CompileError
	for _, n := range g.Nodes {
		def, ok := catalog.Lookup(n.Type)
		if !ok {
			continue
		}
		for _, p := range def.Params {
			raw, present := n.Params[p.Name]
			if !present {
				if p.Required {
					errs = append(errs, CompileError{NodeID: n.ID, Code: ErrInvalidParam, Message: fmt.Sprintf("missing required param %q", p.Name)})
				}
				continue
			}
			if err := checkParamType(p, raw); err != nil {
				errs = append(errs, CompileError{NodeID: n.ID, Code: ErrInvalidParam, Message: fmt.Sprintf("param %q: %v", p.Name, err)})
			}
		}
	}
	return errs
}

func checkParamType(p catalog.ParamDecl, raw interface{}) error {
	switch p.Type {
	case catalog.ParamString:
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("expected a string, got %T", raw)
		}
		if s == "" && p.Required {
			return fmt.Errorf("must not be empty")
		}
	case catalog.ParamFloat:
		f, ok := asFloat(raw)
		if !ok {
			return fmt.Errorf("expected a number, got %T", raw)
		}
		if p.Min != nil && f < *p.Min {
			return fmt.Errorf("%v is below minimum %v", f, *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Errorf("%v is above maximum %v", f, *p.Max)
		}
	case catalog.ParamStringList:
		list, ok := raw.([]string)
		if !ok {
			return fmt.Errorf("expected a string list, got %T", raw)
		}
		if len(list) == 0 && p.Required {
			return fmt.Errorf("must not be empty")
		}
	}
	return nil
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

func extractDependencies(g model.Graph) Dependencies {
	var deps Dependencies
	faders := map[string]bool{}
	buttons := map[string]bool{}
	groups := map[string]bool{}
	fixtures := map[string]bool{}

	for _, n := range g.Nodes {
		switch n.Type {
		case catalog.Fader:
			if id, ok := n.Params["fader_id"].(string); ok && id != "" {
				faders[id] = true
			}
		case catalog.Button:
			if id, ok := n.Params["button_id"].(string); ok && id != "" {
				buttons[id] = true
			}
		case catalog.SelectGroup:
			if ids, ok := n.Params["group_ids"].([]string); ok {
				for _, id := range ids {
					groups[id] = true
				}
			}
		case catalog.SelectFixture:
			if ids, ok := n.Params["fixture_ids"].([]string); ok {
				for _, id := range ids {
					fixtures[id] = true
				}
			}
		}
	}

	deps.FaderIDs = sortedKeys(faders)
	deps.ButtonIDs = sortedKeys(buttons)
	deps.GroupIDs = sortedKeys(groups)
	deps.FixtureIDs = sortedKeys(fixtures)
	return deps
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Package tickengine runs compiled graphs at a fixed rate, producing one
// reduced attribute frame per tick. Its lifecycle (New/LoadInstance/Start/
// Close) and its background worker goroutine are modeled on the wider
// engine's Init/Load/Commit/Start/Pause/Close graph runner, adapted from a
// continuously-converging
// resource graph to a fixed-rate signal-processing one: instead of each
// vertex running its own Watch/CheckApply loop, one goroutine walks every
// loaded instance's evaluation order once per tick.
package tickengine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lumenstage/lumen/internal/catalog"
	"github.com/lumenstage/lumen/internal/compiler"
	"github.com/lumenstage/lumen/internal/evaluator"
	"github.com/lumenstage/lumen/internal/errwrap"
	"github.com/lumenstage/lumen/internal/model"
	"github.com/lumenstage/lumen/internal/ports"
	"github.com/lumenstage/lumen/internal/repo"
)

// commandQueueCap is the soft cap on queued commands per tick; once full,
// SubmitCommand drops the command and reports the overflow rather than
// blocking the caller indefinitely.
const commandQueueCap = 1024

// Command is the closed set of operations the engine accepts between ticks.
// Commands are applied in FIFO order at the start of the tick in which they
// arrive (spec.md §4.3's "command drain" phase).
type Command interface {
	apply(e *Engine)
}

// SetFader sets a fader's current value.
type SetFader struct {
	ID    string
	Value float64
}

func (c SetFader) apply(e *Engine) { e.faders[c.ID] = ports.Clip(c.Value, 0, 1) }

// ButtonDown marks a button as held and raises its press edge for this tick.
type ButtonDown struct{ ID string }

func (c ButtonDown) apply(e *Engine) {
	if !e.buttonDown[c.ID] {
		e.buttonPressed[c.ID] = true
	}
	e.buttonDown[c.ID] = true
}

// ButtonUp marks a button as released.
type ButtonUp struct{ ID string }

func (c ButtonUp) apply(e *Engine) { e.buttonDown[c.ID] = false }

// ButtonPress raises a press edge for exactly this tick without changing the
// held state, for momentary-style triggers delivered as a single event.
type ButtonPress struct{ ID string }

func (c ButtonPress) apply(e *Engine) { e.buttonPressed[c.ID] = true }

// SetInstanceEnabled toggles whether a loaded instance participates in
// evaluation and write collection.
type SetInstanceEnabled struct {
	InstanceID string
	Enabled    bool
}

func (c SetInstanceEnabled) apply(e *Engine) {
	if inst, ok := e.instances[c.InstanceID]; ok {
		inst.Enabled = c.Enabled
		e.instancesChanged = true
	}
}

// Instance binds one compiled graph into the running engine: its node
// evaluation state, its declared rank (for deterministic write-reduction tie
// breaking), and whether it currently participates in ticks.
type Instance struct {
	ID       string
	GraphID  string
	Graph    model.Graph
	Compiled *compiler.CompiledGraph
	Rank     int
	Enabled  bool

	// ErrorCount tallies runtime-soft errors recovered during evaluation
	// (missing node/catalog/evaluator lookups, evaluator-raised warnings),
	// surfaced to subscribers in the next runtime/status message.
	ErrorCount int

	nodeState map[string]evaluator.NodeState

	// declaredRank maps a node id to its position in Graph.Nodes as
	// authored, independent of the topological EvaluationOrder Kahn's
	// algorithm produces. Write-reduction tie-breaking uses this so two
	// same-priority sibling WriteAttributes nodes tie-break in authored
	// order even when the compiler reorders unrelated nodes around them.
	declaredRank map[string]int
}

func newInstance(id string, g model.Graph, cg *compiler.CompiledGraph, rank int) *Instance {
	inst := &Instance{
		ID: id, GraphID: g.ID, Graph: g, Compiled: cg, Rank: rank, Enabled: true,
		nodeState:    map[string]evaluator.NodeState{},
		declaredRank: make(map[string]int, len(g.Nodes)),
	}
	for _, nodeID := range cg.EvaluationOrder {
		inst.nodeState[nodeID] = evaluator.NodeState{}
	}
	for i, n := range g.Nodes {
		inst.declaredRank[n.ID] = i
	}
	return inst
}

// WriteRecord is one WriteAttributes sink's contribution for the tick,
// before reduction across instances (spec.md §4.3/§8).
type WriteRecord struct {
	FixtureID    string
	Bundle       ports.AttributeBundle
	Priority     float64
	InstanceRank int
	NodeRank     int
}

// Frame is the reduced, per-fixture attribute state at the end of one tick.
type Frame struct {
	Time        float64
	FrameNumber uint64
	Writes      map[string]ports.AttributeBundle
}

// InstanceStatus is a point-in-time snapshot of one loaded instance, for
// runtime/status reporting.
type InstanceStatus struct {
	ID         string
	GraphID    string
	Enabled    bool
	ErrorCount int
}

// Engine runs every loaded, enabled instance once per tick at a fixed rate
// and emits one reduced Frame per tick via the callback given to Start.
type Engine struct {
	Logf func(format string, v ...interface{})

	// OnTick, if set, is called after every tick's six phases complete
	// with how long the evaluation took, for metrics reporting. It is
	// never called by the deterministic Tick test entrypoint.
	OnTick func(d time.Duration)

	// OnCompile, if set, is called every time LoadInstance compiles a
	// graph, with the compile errors produced (empty on success).
	OnCompile func(graphID string, errs []compiler.CompileError)

	// OnInstanceChange, if set, is called once per tick in which any
	// instance was loaded, unloaded, or had its enabled state toggled,
	// with a fresh snapshot of every instance's status.
	OnInstanceChange func(statuses []InstanceStatus)

	repo   *repo.Repo
	period time.Duration

	mu               sync.Mutex
	instances        map[string]*Instance
	nextRank         int
	time             float64
	tickCount        uint64
	instancesChanged bool
	faders           map[string]float64
	buttonDown       map[string]bool

	// buttonPressed is cleared after every tick's input-edge-reset phase.
	buttonPressed map[string]bool

	cmdCh   chan Command
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	onFrame func(Frame)
	dropped uint64 // commands dropped due to a full queue, for metrics
}

// ActiveInstanceCount returns how many loaded instances are currently
// enabled, for metrics reporting.
func (e *Engine) ActiveInstanceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, inst := range e.instances {
		if inst.Enabled {
			n++
		}
	}
	return n
}

// TickHz reports the engine's configured tick rate, for runtime/status.
func (e *Engine) TickHz() float64 {
	return 1 / e.period.Seconds()
}

// CurrentTime reports the engine's running clock, for runtime/status.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.time
}

// InstanceStatuses returns a snapshot of every loaded instance, in a stable
// (sorted by id) order, for runtime/status.
func (e *Engine) InstanceStatuses() []InstanceStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]InstanceStatus, 0, len(ids))
	for _, id := range ids {
		inst := e.instances[id]
		out = append(out, InstanceStatus{ID: inst.ID, GraphID: inst.GraphID, Enabled: inst.Enabled, ErrorCount: inst.ErrorCount})
	}
	return out
}

// New builds an Engine that ticks at the given rate against the given
// repository (used to resolve group membership during evaluation).
func New(r *repo.Repo, tickHz float64, logf func(format string, v ...interface{})) (*Engine, error) {
	if tickHz <= 0 {
		return nil, fmt.Errorf("tick rate must be positive, got %v", tickHz)
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Engine{
		Logf:          logf,
		repo:          r,
		period:        time.Duration(float64(time.Second) / tickHz),
		instances:     map[string]*Instance{},
		faders:        map[string]float64{},
		buttonDown:    map[string]bool{},
		buttonPressed: map[string]bool{},
		cmdCh:         make(chan Command, commandQueueCap),
		stopCh:        make(chan struct{}),
	}, nil
}

// LoadInstance compiles the named graph and (re)binds it to instanceID. If an
// instance with that id already exists, matching (node id, node type) pairs
// carry their evaluator state forward across the reload rather than
// resetting — an oscillator's phase or a smoother's accumulator survives an
// edit to an unrelated part of the same graph.
func (e *Engine) LoadInstance(instanceID, graphID string) error {
	g, err := e.repo.Graphs.Get(graphID)
	if err != nil {
		return errwrap.Wrapf(err, "loading graph %s for instance %s", graphID, instanceID)
	}
	cg, compileErrs := compiler.Compile(g)
	if e.OnCompile != nil {
		e.OnCompile(graphID, compileErrs)
	}
	if len(compileErrs) > 0 {
		return fmt.Errorf("graph %s failed to compile: %v", graphID, compileErrs)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	prev, hadPrev := e.instances[instanceID]
	rank := e.nextRank
	if hadPrev {
		rank = prev.Rank // a reload keeps its original declared rank
	} else {
		e.nextRank++
	}

	inst := newInstance(instanceID, g, cg, rank)
	if hadPrev {
		prevTypes := map[string]string{}
		for _, n := range prev.Graph.Nodes {
			prevTypes[n.ID] = n.Type
		}
		for _, n := range g.Nodes {
			if prevTypes[n.ID] == n.Type {
				if st, ok := prev.nodeState[n.ID]; ok {
					inst.nodeState[n.ID] = st
				}
			}
		}
		inst.Enabled = prev.Enabled
	}

	e.instances[instanceID] = inst
	e.instancesChanged = true
	return nil
}

// UnloadInstance removes an instance from the engine entirely.
func (e *Engine) UnloadInstance(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, instanceID)
	e.instancesChanged = true
}

// SubmitCommand enqueues a command for application at the start of the next
// tick. If the queue is full, the command is dropped and an error returned;
// callers should treat this as a signal to slow down, not retry in a tight
// loop.
func (e *Engine) SubmitCommand(cmd Command) error {
	select {
	case e.cmdCh <- cmd:
		return nil
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		return fmt.Errorf("command queue full (cap %d), command dropped", commandQueueCap)
	}
}

// DroppedCommands returns the running count of commands dropped due to a
// full queue, for metrics reporting.
func (e *Engine) DroppedCommands() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Start begins ticking in a background goroutine. onFrame is called
// synchronously from the tick goroutine at the end of every tick; it must
// not block.
func (e *Engine) Start(onFrame func(Frame)) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.onFrame = onFrame
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run()
	return nil
}

// Close stops the tick loop, waits for the worker goroutine to exit, and then
// emits one final blackout frame. That frame sets intensity to 0 for every
// fixture listed in a loaded instance's SelectFixture params; fixtures
// reached only through SelectGroup are not in it, and it carries no color,
// pan, tilt, or zoom values.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()

	if e.onFrame != nil {
		e.onFrame(e.blackoutFrame())
	}
	return nil
}

func (e *Engine) blackoutFrame() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	writes := map[string]ports.AttributeBundle{}
	zero := 0.0
	for _, inst := range e.instances {
		for _, dep := range inst.Compiled.Dependencies.FixtureIDs {
			writes[dep] = ports.AttributeBundle{Intensity: &zero}
		}
	}
	return Frame{Time: e.time, FrameNumber: e.tickCount, Writes: writes}
}

func (e *Engine) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.period)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-e.stopCh:
			return
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now
			tickStart := time.Now()
			frame, instancesChanged := e.tick(dt)
			if e.OnTick != nil {
				e.OnTick(time.Since(tickStart))
			}
			if instancesChanged && e.OnInstanceChange != nil {
				e.OnInstanceChange(e.InstanceStatuses())
			}
			if e.onFrame != nil {
				e.onFrame(frame)
			}
		}
	}
}

// tick runs the six phases of spec.md §4.3 once and returns the reduced
// frame, plus whether any instance was loaded, unloaded, or had its enabled
// state toggled since the previous tick (including by this tick's
// command-drain phase). It is exported at
// package-test scope via the exported Tick method below so tests can drive
// ticks deterministically without a real clock.
func (e *Engine) tick(dt float64) (Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// phase: command drain
	e.drainCommands()
	changed := e.instancesChanged
	e.instancesChanged = false

	// phase: clock advance, dt clamped to [0, 2*period] to absorb a
	// stalled scheduler without producing a runaway step.
	maxDt := 2 * e.period.Seconds()
	if dt < 0 {
		dt = 0
	}
	if dt > maxDt {
		dt = maxDt
	}
	e.time += dt

	// phase: per-instance evaluation + write collection
	var records []WriteRecord
	ids := make([]string, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic visitation order; write order doesn't affect the reduction's result, only tie-break stability of equal ranks (impossible, ranks are unique)
	for _, id := range ids {
		inst := e.instances[id]
		if !inst.Enabled {
			continue
		}
		records = append(records, e.evaluateInstance(inst, dt)...)
	}

	// phase: write reduction
	writes := reduce(records)

	// phase: input edge reset
	for id := range e.buttonPressed {
		delete(e.buttonPressed, id)
	}

	// phase: frame emission
	e.tickCount++
	return Frame{Time: e.time, FrameNumber: e.tickCount, Writes: writes}, changed
}

// Tick runs exactly one tick with an explicit delta time, for deterministic
// tests. It is not used by the running engine's own goroutine, which instead
// derives dt from the wall clock.
func (e *Engine) Tick(dt float64) Frame {
	frame, _ := e.tick(dt)
	return frame
}

func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.cmdCh:
			cmd.apply(e)
		default:
			return
		}
	}
}

func (e *Engine) evaluateInstance(inst *Instance, dt float64) []WriteRecord {
	outputs := make(map[string]map[string]ports.Value, len(inst.Compiled.EvaluationOrder))
	var records []WriteRecord

	inputState := evaluator.InputState{Faders: e.faders, ButtonDown: e.buttonDown, ButtonPressed: e.buttonPressed}

	for _, nodeID := range inst.Compiled.EvaluationOrder {
		node, ok := inst.Graph.NodeByID(nodeID)
		if !ok {
			inst.ErrorCount++
			continue
		}
		def, ok := catalog.Lookup(node.Type)
		if !ok {
			inst.ErrorCount++
			continue
		}
		evalFn, ok := evaluator.Lookup(node.Type)
		if !ok {
			inst.ErrorCount++
			continue
		}

		in := make(map[string]ports.Value, len(def.Inputs))
		for _, portDecl := range def.Inputs {
			in[portDecl.Name] = e.resolveInput(inst, outputs, nodeID, portDecl)
		}

		ctx := &evaluator.Context{
			Time:      e.time,
			DeltaTime: dt,
			Inputs:    inputState,
			State:     inst.nodeState[nodeID],
			Warnf: func(format string, args ...interface{}) {
				inst.ErrorCount++
				e.Logf("instance %s: "+format, append([]interface{}{inst.ID}, args...)...)
			},
			ResolveGroup: func(groupID string) ([]string, bool) {
				grp, err := e.repo.Groups.Get(groupID)
				if err != nil {
					return nil, false
				}
				return grp.FixtureIDs, true
			},
		}
		out := evalFn(ctx, node.Params, in)
		outputs[nodeID] = out

		if node.Type == catalog.WriteAttributes {
			priority, _ := node.Params["priority"].(float64)
			sel := in["selection"].SelectionVal
			bundle := in["bundle"].BundleVal
			for fixtureID := range sel {
				records = append(records, WriteRecord{
					FixtureID:    fixtureID,
					Bundle:       bundle,
					Priority:     priority,
					InstanceRank: inst.Rank,
					NodeRank:     inst.declaredRank[nodeID],
				})
			}
		}
	}
	return records
}

func (e *Engine) resolveInput(inst *Instance, outputs map[string]map[string]ports.Value, nodeID string, decl catalog.PortDecl) ports.Value {
	upstream, wired := inst.Compiled.UpstreamOf(model.PortRef{NodeID: nodeID, Port: decl.Name})
	if !wired {
		if decl.Default != nil {
			return *decl.Default
		}
		return ports.Zero(decl.Type)
	}
	upstreamOutputs, ok := outputs[upstream.NodeID]
	if !ok {
		return ports.Zero(decl.Type)
	}
	v, ok := upstreamOutputs[upstream.Port]
	if !ok {
		return ports.Zero(decl.Type)
	}
	if v.Kind != decl.Type {
		v = ports.Promote(v, decl.Type)
	}
	return v
}

// reduce combines every WriteRecord touching the same fixture into one final
// AttributeBundle, field by field: the highest-priority record wins, ties
// broken by instance rank then node rank (both descending — later-declared
// wins over earlier-declared at equal priority), matching spec.md §8's
// write-reduction property.
func reduce(records []WriteRecord) map[string]ports.AttributeBundle {
	byFixture := map[string][]WriteRecord{}
	for _, r := range records {
		byFixture[r.FixtureID] = append(byFixture[r.FixtureID], r)
	}

	result := map[string]ports.AttributeBundle{}
	for fixtureID, recs := range byFixture {
		sort.SliceStable(recs, func(i, j int) bool {
			if recs[i].Priority != recs[j].Priority {
				return recs[i].Priority > recs[j].Priority
			}
			if recs[i].InstanceRank != recs[j].InstanceRank {
				return recs[i].InstanceRank > recs[j].InstanceRank
			}
			return recs[i].NodeRank > recs[j].NodeRank
		})
		out := ports.AttributeBundle{}
		// apply weakest-to-strongest so the highest-ranked record's set
		// fields win per attribute, while unset fields still fall
		// through to a lower-ranked record that did set them.
		for i := len(recs) - 1; i >= 0; i-- {
			out = mergeInto(out, recs[i].Bundle)
		}
		result[fixtureID] = out
	}
	return result
}

func mergeInto(base, override ports.AttributeBundle) ports.AttributeBundle {
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

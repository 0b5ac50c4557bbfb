// Package gateway exposes the running show over WebSocket: operators push
// input commands in as JSON messages, and subscribe to receive per-tick
// frames back, either as a full snapshot or a diff against the last frame
// sent to them. Its pre-marshaled, per-subscriber channel fan-out is
// adapted from the dmx-gateway state broadcaster in the wider reference
// corpus, which marshals once per broadcast and never blocks a slow
// subscriber at the cost of a producer.
package gateway

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lumenstage/lumen/internal/compiler"
	"github.com/lumenstage/lumen/internal/ports"
	"github.com/lumenstage/lumen/internal/tickengine"
)

// subscriberQueueCap bounds each subscriber's outbound buffer; once full, the
// oldest queued message is dropped to make room for the newest rather than
// piling up (spec.md's "bounded queue, newest-wins" semantics).
const subscriberQueueCap = 8

// FrameMode selects whether a subscriber receives full snapshots or deltas
// against the last frame sent to it.
type FrameMode string

// The two subscription modes a client may request.
const (
	ModeFull  FrameMode = "full"
	ModeDelta FrameMode = "delta"
)

// ClientMessage is the closed set of inbound command shapes (spec.md §6).
type ClientMessage struct {
	Type       string   `json:"type"`
	FaderID    string   `json:"faderId,omitempty"`
	Value      float64  `json:"value,omitempty"`
	ButtonID   string   `json:"buttonId,omitempty"`
	InstanceID string   `json:"instanceId,omitempty"`
	Enabled    bool     `json:"enabled,omitempty"`
	Mode       string   `json:"mode,omitempty"`
	FixtureIDs []string `json:"fixtureIds,omitempty"`
}

// The client message type strings.
const (
	MsgSetFader           = "input/fader"
	MsgButtonDown         = "input/buttonDown"
	MsgButtonUp           = "input/buttonUp"
	MsgButtonPress        = "input/buttonPress"
	MsgSubscribeFrames    = "runtime/subscribeFrames"
	MsgUnsubscribeFrames  = "runtime/unsubscribeFrames"
	MsgSetInstanceEnabled = "instance/setEnabled"
)

// ServerMessage is the closed set of outbound message shapes.
type ServerMessage struct {
	Type        string                          `json:"type"`
	Status      string                          `json:"status,omitempty"`
	Errors      []string                        `json:"errors,omitempty"`
	Time        float64                         `json:"time,omitempty"`
	FrameNumber uint64                          `json:"frame_number,omitempty"`
	Full        map[string]attributeBundleJSON  `json:"fixtures,omitempty"`
	Delta       map[string]*attributeBundleJSON `json:"changes,omitempty"` // nil value signals removal
	Error       string                          `json:"error,omitempty"`

	// runtime/status fields.
	TickHz    float64              `json:"tick_hz,omitempty"`
	Instances []InstanceStatusJSON `json:"instances,omitempty"`

	// compile/result fields.
	GraphID string `json:"graph_id,omitempty"`
	Ok      bool   `json:"ok,omitempty"`

	// show/changed field.
	Show interface{} `json:"show,omitempty"`
}

// InstanceStatusJSON is the wire shape of one instance's entry in a
// runtime/status message.
type InstanceStatusJSON struct {
	ID         string `json:"id"`
	GraphID    string `json:"graph_id"`
	Enabled    bool   `json:"enabled"`
	ErrorCount int    `json:"error_count"`
}

// The server message type strings.
const (
	MsgRuntimeStatus = "runtime/status"
	MsgCompileResult = "compile/result"
	MsgFrameFull     = "frame/full"
	MsgFrameDelta    = "frame/delta"
	MsgShowChanged   = "show/changed"
	MsgError         = "error"
)

// attributeBundleJSON is the wire shape of ports.AttributeBundle: omitted
// fields mean "not set", matching the engine's own sparse bundle semantics.
type attributeBundleJSON struct {
	Intensity *float64    `json:"intensity,omitempty"`
	Color     *[3]float64 `json:"color,omitempty"`
	Pan       *float64    `json:"pan,omitempty"`
	Tilt      *float64    `json:"tilt,omitempty"`
	Zoom      *float64    `json:"zoom,omitempty"`
}

func toWire(b ports.AttributeBundle) attributeBundleJSON {
	out := attributeBundleJSON{Intensity: b.Intensity, Pan: b.Pan, Tilt: b.Tilt, Zoom: b.Zoom}
	if b.Color != nil {
		c := [3]float64{b.Color.R, b.Color.G, b.Color.B}
		out.Color = &c
	}
	return out
}

// CommandSink is the subset of tickengine.Engine the gateway needs: a place
// to submit commands. Expressed as an interface so gateway tests don't need
// a real engine.
type CommandSink interface {
	SubmitCommand(cmd tickengine.Command) error
}

// StatusSource is the optional subset of tickengine.Engine the gateway uses
// to populate runtime/status messages. It's checked for via a type
// assertion on the configured CommandSink rather than folded into that
// interface, so gateway tests can keep using a bare SubmitCommand fake.
type StatusSource interface {
	TickHz() float64
	CurrentTime() float64
	InstanceStatuses() []tickengine.InstanceStatus
}

// subscriber is one connected client's send-side state. Each gets a random
// id at connect time, the same way mgmt's resources and remote sessions tag
// themselves with a uuid rather than a reused network identifier.
type subscriber struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu       sync.Mutex
	mode     FrameMode
	lastSent map[string]ports.AttributeBundle
}

// Gateway accepts WebSocket connections, parses inbound commands into engine
// commands, and fans outbound frames out to subscribed clients.
type Gateway struct {
	Logf func(format string, v ...interface{})

	engine   CommandSink
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New builds a Gateway bound to the given command sink.
func New(engine CommandSink, logf func(format string, v ...interface{})) *Gateway {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Gateway{
		Logf:   logf,
		engine: engine,
		subs:   map[*subscriber]struct{}{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Every request origin is accepted: the gateway performs no
			// origin check of its own.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its read/write loops until it
// disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.Logf("gateway: upgrade failed: %v", err)
		return
	}
	sub := &subscriber{id: uuid.NewString(), conn: conn, send: make(chan []byte, subscriberQueueCap), mode: ModeFull}

	g.mu.Lock()
	g.subs[sub] = struct{}{}
	g.mu.Unlock()
	g.Logf("gateway: subscriber %s connected", sub.id)
	g.sendRuntimeStatus(sub)

	go g.writeLoop(sub)
	g.readLoop(sub)

	g.mu.Lock()
	delete(g.subs, sub)
	g.mu.Unlock()
	close(sub.send)
	g.Logf("gateway: subscriber %s disconnected", sub.id)
}

// SubscriberCount reports the number of currently connected subscribers, for
// metrics reporting.
func (g *Gateway) SubscriberCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.subs)
}

// sendRuntimeStatus sends one subscriber a runtime/status snapshot, used on
// connect.
func (g *Gateway) sendRuntimeStatus(sub *subscriber) {
	data := g.runtimeStatusMessage()
	if data == nil {
		return
	}
	trySend(sub.send, data)
}

// BroadcastRuntimeStatus sends every subscriber a fresh runtime/status
// snapshot, used whenever an instance is loaded, unloaded, or has its
// enabled state toggled.
func (g *Gateway) BroadcastRuntimeStatus() {
	data := g.runtimeStatusMessage()
	if data == nil {
		return
	}
	g.broadcastRaw(data)
}

func (g *Gateway) runtimeStatusMessage() []byte {
	ss, ok := g.engine.(StatusSource)
	if !ok {
		return nil
	}
	statuses := ss.InstanceStatuses()
	instances := make([]InstanceStatusJSON, len(statuses))
	for i, s := range statuses {
		instances[i] = InstanceStatusJSON{ID: s.ID, GraphID: s.GraphID, Enabled: s.Enabled, ErrorCount: s.ErrorCount}
	}
	data, _ := json.Marshal(ServerMessage{
		Type:      MsgRuntimeStatus,
		TickHz:    ss.TickHz(),
		Time:      ss.CurrentTime(),
		Instances: instances,
	})
	return data
}

// BroadcastCompileResult sends every subscriber a compile/result message for
// one graph's (re)compilation, used whenever LoadInstance compiles a graph.
func (g *Gateway) BroadcastCompileResult(graphID string, errs []compiler.CompileError) {
	errStrs := make([]string, len(errs))
	for i, ce := range errs {
		errStrs[i] = ce.Error()
	}
	data, _ := json.Marshal(ServerMessage{Type: MsgCompileResult, GraphID: graphID, Ok: len(errs) == 0, Errors: errStrs})
	g.broadcastRaw(data)
}

// BroadcastShowChanged sends every subscriber a show/changed message
// carrying a fresh snapshot of the patch/show state, used whenever the
// repository's stores are mutated.
func (g *Gateway) BroadcastShowChanged(show interface{}) {
	data, _ := json.Marshal(ServerMessage{Type: MsgShowChanged, Show: show})
	g.broadcastRaw(data)
}

// broadcastRaw fans pre-marshaled bytes out to every connected subscriber,
// bypassing per-subscriber frame mode (runtime/status, compile/result, and
// show/changed aren't gated by a subscriber's frame subscription).
func (g *Gateway) broadcastRaw(data []byte) {
	g.mu.RLock()
	subs := make([]*subscriber, 0, len(g.subs))
	for s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.RUnlock()

	for _, sub := range subs {
		trySend(sub.send, data)
	}
}

func (g *Gateway) readLoop(sub *subscriber) {
	defer sub.conn.Close()
	for {
		_, raw, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}
		g.handleMessage(sub, raw)
	}
}

func (g *Gateway) writeLoop(sub *subscriber) {
	for data := range sub.send {
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (g *Gateway) handleMessage(sub *subscriber, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		g.sendError(sub, "PARSE_ERROR", err.Error())
		return
	}

	switch msg.Type {
	case MsgSetFader:
		g.submit(sub, tickengine.SetFader{ID: msg.FaderID, Value: msg.Value})
	case MsgButtonDown:
		g.submit(sub, tickengine.ButtonDown{ID: msg.ButtonID})
	case MsgButtonUp:
		g.submit(sub, tickengine.ButtonUp{ID: msg.ButtonID})
	case MsgButtonPress:
		g.submit(sub, tickengine.ButtonPress{ID: msg.ButtonID})
	case MsgSetInstanceEnabled:
		g.submit(sub, tickengine.SetInstanceEnabled{InstanceID: msg.InstanceID, Enabled: msg.Enabled})
	case MsgSubscribeFrames:
		sub.mu.Lock()
		if msg.Mode == string(ModeDelta) {
			sub.mode = ModeDelta
		} else {
			sub.mode = ModeFull
		}
		sub.lastSent = nil
		sub.mu.Unlock()
	case MsgUnsubscribeFrames:
		sub.mu.Lock()
		sub.mode = ""
		sub.mu.Unlock()
	default:
		g.sendError(sub, "UNKNOWN_TYPE", "unrecognized message type: "+msg.Type)
	}
}

func (g *Gateway) submit(sub *subscriber, cmd tickengine.Command) {
	if err := g.engine.SubmitCommand(cmd); err != nil {
		g.sendError(sub, "QUEUE_FULL", err.Error())
	}
}

func (g *Gateway) sendError(sub *subscriber, code, message string) {
	data, _ := json.Marshal(ServerMessage{Type: MsgError, Error: code + ": " + message})
	trySend(sub.send, data)
}

// trySend is a non-blocking send that drops the oldest queued item to make
// room for the newest one, rather than blocking the broadcaster on one slow
// client.
func trySend(ch chan []byte, data []byte) {
	select {
	case ch <- data:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- data:
	default:
	}
}

// Broadcast renders one tick engine Frame into each subscriber's requested
// mode and fans it out. Each subscriber's JSON is only marshaled once per
// broadcast even though it's sent to a bounded per-client channel.
func (g *Gateway) Broadcast(frame tickengine.Frame) {
	g.mu.RLock()
	subs := make([]*subscriber, 0, len(g.subs))
	for s := range g.subs {
		subs = append(subs, s)
	}
	g.mu.RUnlock()

	for _, sub := range subs {
		sub.mu.Lock()
		mode := sub.mode
		if mode == "" {
			sub.mu.Unlock()
			continue
		}
		var data []byte
		if mode == ModeDelta && sub.lastSent != nil {
			data = deltaMessage(frame, sub.lastSent)
		} else {
			data = fullMessage(frame)
		}
		sub.lastSent = cloneWrites(frame.Writes)
		sub.mu.Unlock()

		if data == nil {
			continue
		}
		trySend(sub.send, data)
	}
}

func fullMessage(frame tickengine.Frame) []byte {
	full := make(map[string]attributeBundleJSON, len(frame.Writes))
	for id, b := range frame.Writes {
		full[id] = toWire(b)
	}
	data, _ := json.Marshal(ServerMessage{Type: MsgFrameFull, Time: frame.Time, FrameNumber: frame.FrameNumber, Full: full})
	return data
}

// deltaMessage reports only fixtures whose bundle changed since the
// subscriber's last frame, with a null value for fixtures that disappeared
// entirely (spec.md's "null removal signaling"). It returns nil if nothing
// changed, since spec.md says no message is sent in that case.
func deltaMessage(frame tickengine.Frame, last map[string]ports.AttributeBundle) []byte {
	delta := map[string]*attributeBundleJSON{}
	for id, b := range frame.Writes {
		prev, existed := last[id]
		if !existed || !bundleEqual(prev, b) {
			wire := toWire(b)
			delta[id] = &wire
		}
	}
	for id := range last {
		if _, stillPresent := frame.Writes[id]; !stillPresent {
			delta[id] = nil
		}
	}
	if len(delta) == 0 {
		return nil
	}
	data, _ := json.Marshal(ServerMessage{Type: MsgFrameDelta, Time: frame.Time, FrameNumber: frame.FrameNumber, Delta: delta})
	return data
}

func cloneWrites(writes map[string]ports.AttributeBundle) map[string]ports.AttributeBundle {
	out := make(map[string]ports.AttributeBundle, len(writes))
	for id, b := range writes {
		out[id] = b.Clone()
	}
	return out
}

func floatEqual(a, b *float64) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return a == nil || *a == *b
}

func bundleEqual(a, b ports.AttributeBundle) bool {
	if !floatEqual(a.Intensity, b.Intensity) || !floatEqual(a.Pan, b.Pan) || !floatEqual(a.Tilt, b.Tilt) || !floatEqual(a.Zoom, b.Zoom) {
		return false
	}
	if (a.Color == nil) != (b.Color == nil) {
		return false
	}
	if a.Color != nil && *a.Color != *b.Color {
		return false
	}
	return true
}

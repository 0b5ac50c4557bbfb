// Package repo defines the persistence contract for the entities in
// internal/model — fixtures, fixture models, groups, inputs, and graphs —
// plus an in-memory implementation good enough to drive the rest of the
// system and its tests. This package is deliberately not a database: no
// write-ahead log, no replication, no on-disk format. Its job is the
// interface boundary, mirroring the way the wider engine's Converger is
// "the general interface" behind which any implementation may sit.
package repo

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lumenstage/lumen/internal/model"
)

// ErrorCode is the closed set of repository-layer error kinds.
type ErrorCode string

// The repository error codes (spec.md §6).
const (
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrValidation ErrorCode = "VALIDATION"
)

// Error is a repository operation failure carrying a closed-set code.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return string(e.Code) + ": " + e.Message }

func notFound(msg string) error   { return &Error{Code: ErrNotFound, Message: msg} }
func conflict(msg string) error   { return &Error{Code: ErrConflict, Message: msg} }
func validation(msg string) error { return &Error{Code: ErrValidation, Message: msg} }

// FixtureModels is the repository contract for fixture model entities.
type FixtureModels interface {
	List() ([]model.FixtureModel, error)
	Get(id string) (model.FixtureModel, error)
	Create(m model.FixtureModel) (model.FixtureModel, error)
	Update(m model.FixtureModel) (model.FixtureModel, error)
	Delete(id string) error
}

// Fixtures is the repository contract for fixture entities.
type Fixtures interface {
	List() ([]model.Fixture, error)
	Get(id string) (model.Fixture, error)
	Create(f model.Fixture) (model.Fixture, error)
	Update(f model.Fixture) (model.Fixture, error)
	Delete(id string) error
}

// Groups is the repository contract for group entities.
type Groups interface {
	List() ([]model.Group, error)
	Get(id string) (model.Group, error)
	Create(g model.Group) (model.Group, error)
	Update(g model.Group) (model.Group, error)
	Delete(id string) error
}

// Inputs is the repository contract for input (fader/button) entities.
type Inputs interface {
	List() ([]model.Input, error)
	Get(id string) (model.Input, error)
	Create(i model.Input) (model.Input, error)
	Update(i model.Input) (model.Input, error)
	Delete(id string) error
}

// Graphs is the repository contract for authored effect graph entities.
type Graphs interface {
	List() ([]model.Graph, error)
	Get(id string) (model.Graph, error)
	Create(g model.Graph) (model.Graph, error)
	Update(g model.Graph) (model.Graph, error)
	Delete(id string) error
}

// Repo bundles the five entity repositories the rest of the system depends
// on, the same way a single struct groups related interfaces elsewhere in
// this codebase rather than threading five constructor args everywhere.
type Repo struct {
	FixtureModels FixtureModels
	Fixtures      Fixtures
	Groups        Groups
	Inputs        Inputs
	Graphs        Graphs

	// OnChange, if set, is called after every successful Create, Update,
	// or Delete against any of the five stores above, so a caller (the
	// gateway, in cmd/lumend) can broadcast show/changed without each
	// store needing to know that the gateway exists.
	OnChange func()
}

// NewInMemory builds a Repo backed entirely by in-memory maps, suitable for
// tests and for the reference cmd/lumend entrypoint. Nothing it holds
// survives a process restart, by design: spec.md's non-goals explicitly
// exclude building a persistence engine here.
func NewInMemory() *Repo {
	r := &Repo{}
	notify := func() {
		if r.OnChange != nil {
			r.OnChange()
		}
	}

	fm := newFixtureModelStore()
	fx := newFixtureStore()
	gr := newGroupStore()
	in := newInputStore()
	gh := newGraphStore()
	fm.notify, fx.notify, gr.notify, in.notify, gh.notify = notify, notify, notify, notify, notify

	r.FixtureModels, r.Fixtures, r.Groups, r.Inputs, r.Graphs = fm, fx, gr, in, gh
	return r
}

// --- FixtureModels ---

type fixtureModelStore struct {
	mu     sync.RWMutex
	byID   map[string]model.FixtureModel
	notify func()
}

func newFixtureModelStore() *fixtureModelStore {
	return &fixtureModelStore{byID: map[string]model.FixtureModel{}}
}

func (s *fixtureModelStore) List() ([]model.FixtureModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FixtureModel, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fixtureModelStore) Get(id string) (model.FixtureModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return model.FixtureModel{}, notFound("fixture model " + id + " not found")
	}
	return m, nil
}

func (s *fixtureModelStore) Create(m model.FixtureModel) (model.FixtureModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[m.ID]; exists {
		return model.FixtureModel{}, conflict("fixture model " + m.ID + " already exists")
	}
	m.Revision = 1
	s.byID[m.ID] = m
	s.notifyChange()
	return m, nil
}

func (s *fixtureModelStore) Update(m model.FixtureModel) (model.FixtureModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[m.ID]
	if !ok {
		return model.FixtureModel{}, notFound("fixture model " + m.ID + " not found")
	}
	if m.Revision != cur.Revision {
		return model.FixtureModel{}, conflict("fixture model " + m.ID + " revision mismatch")
	}
	m.Revision = cur.Revision + 1
	s.byID[m.ID] = m
	s.notifyChange()
	return m, nil
}

func (s *fixtureModelStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound("fixture model " + id + " not found")
	}
	delete(s.byID, id)
	s.notifyChange()
	return nil
}

func (s *fixtureModelStore) notifyChange() {
	if s.notify != nil {
		s.notify()
	}
}

// --- Fixtures ---

type fixtureStore struct {
	mu     sync.RWMutex
	byID   map[string]model.Fixture
	notify func()
}

func newFixtureStore() *fixtureStore { return &fixtureStore{byID: map[string]model.Fixture{}} }

func (s *fixtureStore) List() ([]model.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Fixture, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fixtureStore) Get(id string) (model.Fixture, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.byID[id]
	if !ok {
		return model.Fixture{}, notFound("fixture " + id + " not found")
	}
	return f, nil
}

func (s *fixtureStore) Create(f model.Fixture) (model.Fixture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[f.ID]; exists {
		return model.Fixture{}, conflict("fixture " + f.ID + " already exists")
	}
	if err := overlapCheck(s.byID, f); err != nil {
		return model.Fixture{}, err
	}
	f.Revision = 1
	s.byID[f.ID] = f
	s.notifyChange()
	return f, nil
}

func (s *fixtureStore) Update(f model.Fixture) (model.Fixture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[f.ID]
	if !ok {
		return model.Fixture{}, notFound("fixture " + f.ID + " not found")
	}
	if f.Revision != cur.Revision {
		return model.Fixture{}, conflict("fixture " + f.ID + " revision mismatch")
	}
	f.Revision = cur.Revision + 1
	s.byID[f.ID] = f
	s.notifyChange()
	return f, nil
}

func (s *fixtureStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound("fixture " + id + " not found")
	}
	delete(s.byID, id)
	s.notifyChange()
	return nil
}

func (s *fixtureStore) notifyChange() {
	if s.notify != nil {
		s.notify()
	}
}

// overlapCheck is a best-effort guard against two fixtures claiming the same
// channel on the same universe; it doesn't know each model's channel count so
// it only rejects identical (universe, start_channel) pairs. The fuller
// channel-span check, Fixture.Validate against a resolved model, is not
// called by this store or by the compiler.
func overlapCheck(byID map[string]model.Fixture, f model.Fixture) error {
	for _, other := range byID {
		if other.ID == f.ID {
			continue
		}
		if other.Universe == f.Universe && other.StartChannel == f.StartChannel {
			return validation(fmt.Sprintf("fixture %s collides with %s at universe %d channel %d", f.ID, other.ID, f.Universe, f.StartChannel))
		}
	}
	return nil
}

// --- Groups ---

type groupStore struct {
	mu     sync.RWMutex
	byID   map[string]model.Group
	notify func()
}

func newGroupStore() *groupStore { return &groupStore{byID: map[string]model.Group{}} }

func (s *groupStore) List() ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Group, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *groupStore) Get(id string) (model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.byID[id]
	if !ok {
		return model.Group{}, notFound("group " + id + " not found")
	}
	return g, nil
}

func (s *groupStore) Create(g model.Group) (model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[g.ID]; exists {
		return model.Group{}, conflict("group " + g.ID + " already exists")
	}
	g.Revision = 1
	s.byID[g.ID] = g
	s.notifyChange()
	return g, nil
}

func (s *groupStore) Update(g model.Group) (model.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[g.ID]
	if !ok {
		return model.Group{}, notFound("group " + g.ID + " not found")
	}
	if g.Revision != cur.Revision {
		return model.Group{}, conflict("group " + g.ID + " revision mismatch")
	}
	g.Revision = cur.Revision + 1
	s.byID[g.ID] = g
	s.notifyChange()
	return g, nil
}

func (s *groupStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound("group " + id + " not found")
	}
	delete(s.byID, id)
	s.notifyChange()
	return nil
}

func (s *groupStore) notifyChange() {
	if s.notify != nil {
		s.notify()
	}
}

// --- Inputs ---

type inputStore struct {
	mu     sync.RWMutex
	byID   map[string]model.Input
	notify func()
}

func newInputStore() *inputStore { return &inputStore{byID: map[string]model.Input{}} }

func (s *inputStore) List() ([]model.Input, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Input, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *inputStore) Get(id string) (model.Input, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return model.Input{}, notFound("input " + id + " not found")
	}
	return i, nil
}

func (s *inputStore) Create(i model.Input) (model.Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[i.ID]; exists {
		return model.Input{}, conflict("input " + i.ID + " already exists")
	}
	i.Revision = 1
	s.byID[i.ID] = i
	s.notifyChange()
	return i, nil
}

func (s *inputStore) Update(i model.Input) (model.Input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[i.ID]
	if !ok {
		return model.Input{}, notFound("input " + i.ID + " not found")
	}
	if i.Revision != cur.Revision {
		return model.Input{}, conflict("input " + i.ID + " revision mismatch")
	}
	i.Revision = cur.Revision + 1
	s.byID[i.ID] = i
	s.notifyChange()
	return i, nil
}

func (s *inputStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound("input " + id + " not found")
	}
	delete(s.byID, id)
	s.notifyChange()
	return nil
}

func (s *inputStore) notifyChange() {
	if s.notify != nil {
		s.notify()
	}
}

// --- Graphs ---

type graphStore struct {
	mu     sync.RWMutex
	byID   map[string]model.Graph
	notify func()
}

func newGraphStore() *graphStore { return &graphStore{byID: map[string]model.Graph{}} }

func (s *graphStore) List() ([]model.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Graph, 0, len(s.byID))
	for _, v := range s.byID {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *graphStore) Get(id string) (model.Graph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.byID[id]
	if !ok {
		return model.Graph{}, notFound("graph " + id + " not found")
	}
	return g, nil
}

func (s *graphStore) Create(g model.Graph) (model.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[g.ID]; exists {
		return model.Graph{}, conflict("graph " + g.ID + " already exists")
	}
	if err := g.ValidateStructure(); err != nil {
		return model.Graph{}, validation(err.Error())
	}
	g.Revision = 1
	s.byID[g.ID] = g
	s.notifyChange()
	return g, nil
}

func (s *graphStore) Update(g model.Graph) (model.Graph, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[g.ID]
	if !ok {
		return model.Graph{}, notFound("graph " + g.ID + " not found")
	}
	if g.Revision != cur.Revision {
		return model.Graph{}, conflict("graph " + g.ID + " revision mismatch")
	}
	if err := g.ValidateStructure(); err != nil {
		return model.Graph{}, validation(err.Error())
	}
	g.Revision = cur.Revision + 1
	s.byID[g.ID] = g
	s.notifyChange()
	return g, nil
}

func (s *graphStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return notFound("graph " + id + " not found")
	}
	delete(s.byID, id)
	s.notifyChange()
	return nil
}

func (s *graphStore) notifyChange() {
	if s.notify != nil {
		s.notify()
	}
}

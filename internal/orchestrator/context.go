// Package orchestrator holds the per-session mutable state the
// dispatcher drives: current subtype, task queue, active skill, and the
// waiting-for-user context string.
package orchestrator

import "sync"

// ActiveSkill describes the skill currently installed for the session.
type ActiveSkill struct {
	Name          string
	RequiresTools []string
}

// ToolDefinition is the minimal shape of a synthetic tool a subtype
// contributes for the current turn only (e.g. define_tasks in a
// task-planner subtype).
type ToolDefinition struct {
	Name        string
	Description string
	Schema      []byte
}

// SubtypeChangeFunc is invoked whenever SetSubtype actually changes the
// current key, used by the dispatcher to broadcast agent.subtype_change.
type SubtypeChangeFunc func(sessionID, oldKey, newKey string)

// Context is the per-session mutable bundle described in spec.md §3's
// "Orchestrator Context". Persisted by the dispatcher after every
// iteration boundary; no component other than the dispatcher mutates it.
type Context struct {
	mu sync.Mutex

	sessionID        string
	currentSubtype   string // "" means director / not selected
	queue            *TaskQueue
	activeSkill      *ActiveSkill
	waitingForUser   string
	registers        map[string]string // Context Bank extracted values
	modeTools        []ToolDefinition

	onSubtypeChange SubtypeChangeFunc
}

// New creates an empty orchestrator context for a session.
func New(sessionID string, onChange SubtypeChangeFunc) *Context {
	return &Context{
		sessionID:       sessionID,
		queue:           &TaskQueue{},
		registers:       make(map[string]string),
		onSubtypeChange: onChange,
	}
}

// CurrentSubtype returns the current subtype key, or "" for director.
func (c *Context) CurrentSubtype() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSubtype
}

// SetSubtype replaces the current subtype. An empty key resets to
// director. Broadcasts a subtype-change event only if the key actually
// changed, satisfying the idempotence property in spec.md §8.
func (c *Context) SetSubtype(key string) {
	c.mu.Lock()
	old := c.currentSubtype
	changed := old != key
	c.currentSubtype = key
	cb := c.onSubtypeChange
	sid := c.sessionID
	c.mu.Unlock()

	if changed && cb != nil {
		cb(sid, old, key)
	}
}

// ResetToDirector clears the current subtype, run once per new user
// message per spec.md §4.2.
func (c *Context) ResetToDirector() {
	c.SetSubtype("")
}

// Queue exposes the task queue for dispatcher access.
func (c *Context) Queue() *TaskQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// SetQueue replaces the task queue wholesale (used by define_tasks).
func (c *Context) SetQueue(q *TaskQueue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = q
}

// ActiveSkill returns the currently installed skill, or nil.
func (c *Context) ActiveSkill() *ActiveSkill {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSkill
}

// SetActiveSkill installs (or clears, with nil) the active skill.
func (c *Context) SetActiveSkill(s *ActiveSkill) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeSkill = s
}

// WaitingForUser returns the pending question content, or "" if the
// session is not currently waiting on the user.
func (c *Context) WaitingForUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waitingForUser
}

// SetWaitingForUser records (or clears, with "") the waiting state.
func (c *Context) SetWaitingForUser(question string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waitingForUser = question
}

// Register stores a typed context-bank value under name.
func (c *Context) Register(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registers[name] = value
}

// RegisterValue returns a previously stored register, if any.
func (c *Context) RegisterValue(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.registers[name]
	return v, ok
}

// GetModeTools returns subtype-specific synthetic tools for this turn
// only; the dispatcher appends these to the composed catalogue and
// discards them afterward.
func (c *Context) GetModeTools() []ToolDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolDefinition, len(c.modeTools))
	copy(out, c.modeTools)
	return out
}

// SetModeTools replaces the per-turn synthetic tool set.
func (c *Context) SetModeTools(tools []ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modeTools = tools
}

// Snapshot is the persisted form of a Context, stored in the session
// record's metadata between dispatch calls.
type Snapshot struct {
	CurrentSubtype string            `json:"current_subtype"`
	Tasks          []*Task           `json:"tasks,omitempty"`
	ActiveSkill    *ActiveSkill      `json:"active_skill,omitempty"`
	WaitingForUser string            `json:"waiting_for_user,omitempty"`
	Registers      map[string]string `json:"registers,omitempty"`
}

// Snapshot captures the context's current state for persistence.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	registers := make(map[string]string, len(c.registers))
	for k, v := range c.registers {
		registers[k] = v
	}
	return Snapshot{
		CurrentSubtype: c.currentSubtype,
		Tasks:          c.queue.Snapshot(),
		ActiveSkill:    c.activeSkill,
		WaitingForUser: c.waitingForUser,
		Registers:      registers,
	}
}

// Restore rebuilds a Context from a persisted Snapshot.
func Restore(sessionID string, snap Snapshot, onChange SubtypeChangeFunc) *Context {
	c := New(sessionID, onChange)
	c.currentSubtype = snap.CurrentSubtype
	if snap.Tasks != nil {
		c.queue = RestoreTaskQueue(snap.Tasks)
	}
	c.activeSkill = snap.ActiveSkill
	c.waitingForUser = snap.WaitingForUser
	if snap.Registers != nil {
		c.registers = snap.Registers
	}
	return c
}

// Package chat maintains per-process chat transcripts built by idempotent
// upsert from a stream of partial and complete message events.
package chat

import (
	"sync"
	"time"

	"github.com/perchworks/gangway/internal/protocol"
)

// Status is the derived liveness of an agent session.
type Status string

const (
	StatusRunning      Status = "running"
	StatusStable       Status = "stable"
	StatusDisconnected Status = "disconnected"
)

// Message is one entry in a session transcript. Identity is ID; the same ID
// delivered again is a newer snapshot of the same logical message.
type Message struct {
	ID        string
	Role      string
	Content   string
	Timestamp time.Time
}

type session struct {
	processID  string
	hostID     string
	messages   []Message
	index      map[string]int // message id → position in messages
	status     Status
	agentType  string
	subscribed bool
}

// Snapshot is a read-only copy of one session.
type Snapshot struct {
	ProcessID  string
	HostID     string
	Messages   []Message
	Status     Status
	AgentType  string
	Subscribed bool
}

// Engine owns all chat sessions, keyed by process id. Mutators on a process
// with no session are silent no-ops: callers initialize first, and the
// engine does not fabricate sessions to mask a missing init.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*session

	// OnMessage, if set, observes every upserted message (used to feed the
	// transcript archive). Called outside the engine lock.
	OnMessage func(processID string, msg Message)
}

func NewEngine() *Engine {
	return &Engine{sessions: make(map[string]*session)}
}

// InitSession creates an empty session with status disconnected if one does
// not already exist. Re-initializing is a no-op: history and status survive.
func (e *Engine) InitSession(processID, hostID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[processID]; ok {
		return
	}
	e.sessions[processID] = &session{
		processID: processID,
		hostID:    hostID,
		index:     make(map[string]int),
		status:    StatusDisconnected,
	}
}

// AddOrUpdateMessage upserts a message by id. An existing id is replaced in
// place, position unchanged; a new id appends. Ordering is arrival order of
// first appearance, never timestamp order.
func (e *Engine) AddOrUpdateMessage(processID string, msg Message) {
	e.mu.Lock()
	s := e.sessions[processID]
	if s == nil {
		e.mu.Unlock()
		return
	}
	if i, ok := s.index[msg.ID]; ok {
		s.messages[i] = msg
	} else {
		s.index[msg.ID] = len(s.messages)
		s.messages = append(s.messages, msg)
	}
	notify := e.OnMessage
	e.mu.Unlock()
	if notify != nil {
		notify(processID, msg)
	}
}

// SetStatus overwrites a session's status. An empty agentType preserves the
// previous label, tolerating status events that omit agent metadata.
func (e *Engine) SetStatus(processID string, status Status, agentType string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[processID]
	if s == nil {
		return
	}
	s.status = status
	if agentType != "" {
		s.agentType = agentType
	}
}

// SetSubscribed flags whether the client is streaming this session.
func (e *Engine) SetSubscribed(processID string, subscribed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.sessions[processID]; s != nil {
		s.subscribed = subscribed
	}
}

// RemoveSession drops a session entirely (process killed).
func (e *Engine) RemoveSession(processID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, processID)
}

// HandleEvent demultiplexes a tagged chat event. Discriminators other than
// message_update and status_change are ignored, not errors.
func (e *Engine) HandleEvent(ev protocol.ChatEvent) {
	switch ev.Event {
	case protocol.ChatEventMessageUpdate:
		if ev.Message == nil {
			return
		}
		e.AddOrUpdateMessage(ev.ProcessID, Message{
			ID:        ev.Message.ID,
			Role:      ev.Message.Role,
			Content:   ev.Message.Message,
			Timestamp: ev.Message.Timestamp,
		})
	case protocol.ChatEventStatusChange:
		e.SetStatus(ev.ProcessID, Status(ev.Status), ev.AgentType)
	}
}

// Session returns a copy of one session, ok=false if none exists.
func (e *Engine) Session(processID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.sessions[processID]
	if s == nil {
		return Snapshot{}, false
	}
	return Snapshot{
		ProcessID:  s.processID,
		HostID:     s.hostID,
		Messages:   append([]Message(nil), s.messages...),
		Status:     s.status,
		AgentType:  s.agentType,
		Subscribed: s.subscribed,
	}, true
}

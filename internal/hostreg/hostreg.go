// Package hostreg tracks every host the bridge knows about: its connection
// state, live and stale processes, and capability metadata. It is fed by
// bridge events and user intent; consumers only read snapshots.
package hostreg

import (
	"sync"
	"time"

	"github.com/perchworks/gangway/internal/protocol"
)

// HostState is the bridge→host connection state, distinct from the
// client→bridge connection state.
type HostState string

const (
	HostDisconnected HostState = "disconnected"
	HostConnecting   HostState = "connecting"
	HostConnected    HostState = "connected"
)

// Process is one live shell or agent process on a host.
type Process struct {
	ID         string
	HostID     string
	Kind       string // protocol.ProcessShell or protocol.ProcessAgent
	CWD        string
	ShellPID   int
	AgentPID   int
	AgentPort  int
	ShellReady bool
	AgentReady bool
	CreatedAt  time.Time
}

// StaleProcess is a process-like resource the bridge reports as orphaned or
// unreachable. Not a live PTY; only a cleanup or reattach target.
type StaleProcess struct {
	Port      int
	ProcessID string
	Reason    string
	SessionID string // set for recoverable detached sessions
}

type host struct {
	id        string
	config    protocol.HostConfig
	state     HostState
	processes []Process
	stale     []StaleProcess
	reqs      *protocol.Requirements
	checking  bool
	lastError string
}

// HostSnapshot is a read-only copy of one host's state. After a disconnect
// the process lists are retained last-known state, not authoritative.
type HostSnapshot struct {
	ID             string
	Config         protocol.HostConfig
	State          HostState
	Processes      []Process
	StaleProcesses []StaleProcess
	Requirements   *protocol.Requirements
	CheckingReqs   bool
	LastError      string
}

// Registry owns the host map and the advisory process selection.
type Registry struct {
	mu       sync.Mutex
	hosts    map[string]*host
	order    []string // host ids in first-seen order, for stable listing
	selected string   // selected process id, "" = none
}

func New() *Registry {
	return &Registry{hosts: make(map[string]*host)}
}

// Connect records a host in the connecting state, creating it if new. An
// existing host keeps its processes and metadata; only config and state
// update.
func (r *Registry) Connect(cfg protocol.HostConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.hosts[cfg.HostID]
	if h == nil {
		h = &host{id: cfg.HostID}
		r.hosts[cfg.HostID] = h
		r.order = append(r.order, cfg.HostID)
	}
	h.config = cfg
	h.state = HostConnecting
	h.lastError = ""
}

// SetState updates a host's connection state. Disconnecting does not clear
// processes: last-known state is retained for display and marked
// possibly-stale by virtue of the state alone.
func (r *Registry) SetState(hostID string, state HostState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.hosts[hostID]; h != nil {
		h.state = state
	}
}

// Disconnect marks a host disconnected. Selection is untouched even when
// the selected process lives on this host.
func (r *Registry) Disconnect(hostID string) {
	r.SetState(hostID, HostDisconnected)
}

// SetError records a host-scoped error string alongside otherwise-valid
// state.
func (r *Registry) SetError(hostID, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.hosts[hostID]; h != nil {
		h.lastError = msg
	}
}

// AddProcess inserts or updates a process under its host. A process id
// appears in at most one host's list: any previous entry for the same id,
// on any host, is removed first.
func (r *Registry) AddProcess(p Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(p.ID)
	h := r.hosts[p.HostID]
	if h == nil {
		// Process events can arrive before the host.connected confirmation.
		h = &host{id: p.HostID, state: HostConnecting}
		r.hosts[p.HostID] = h
		r.order = append(r.order, p.HostID)
	}
	h.processes = append(h.processes, p)
}

// RemoveProcess deletes a process from whichever host holds it.
func (r *Registry) RemoveProcess(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(processID)
}

func (r *Registry) removeLocked(processID string) {
	for _, h := range r.hosts {
		for i, p := range h.processes {
			if p.ID == processID {
				h.processes = append(h.processes[:i:i], h.processes[i+1:]...)
				return
			}
		}
	}
}

// SetStaleProcesses replaces a host's stale list wholesale.
func (r *Registry) SetStaleProcesses(hostID string, stale []StaleProcess) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.hosts[hostID]; h != nil {
		h.stale = append([]StaleProcess(nil), stale...)
	}
}

// SetCheckingRequirements flags an in-flight requirements probe.
func (r *Registry) SetCheckingRequirements(hostID string, checking bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h := r.hosts[hostID]; h != nil {
		h.checking = checking
	}
}

// SetRequirements stores a capability snapshot. Requirements gate, not
// block: enforcement of gated actions happens at the call site.
func (r *Registry) SetRequirements(hostID string, reqs protocol.Requirements, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.hosts[hostID]
	if h == nil {
		return
	}
	h.reqs = &reqs
	h.checking = false
	h.lastError = errMsg
}

// SelectProcess records the advisory selection. The id is not validated
// against the registry: selection may be set optimistically before the
// process.created confirmation arrives. Empty clears the selection.
func (r *Registry) SelectProcess(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selected = processID
}

// Selected returns the advisory selected process id, "" if none.
func (r *Registry) Selected() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.selected
}

// FindProcess locates a live process by id across all hosts.
func (r *Registry) FindProcess(processID string) (Process, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.hosts {
		for _, p := range h.processes {
			if p.ID == processID {
				return p, true
			}
		}
	}
	return Process{}, false
}

// Host returns a copy of one host's state.
func (r *Registry) Host(hostID string) (HostSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.hosts[hostID]
	if h == nil {
		return HostSnapshot{}, false
	}
	return snapshotLocked(h), true
}

// Hosts returns copies of all hosts in first-seen order.
func (r *Registry) Hosts() []HostSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]HostSnapshot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshotLocked(r.hosts[id]))
	}
	return out
}

func snapshotLocked(h *host) HostSnapshot {
	snap := HostSnapshot{
		ID:           h.id,
		Config:       h.config,
		State:        h.state,
		Processes:    append([]Process(nil), h.processes...),
		CheckingReqs: h.checking,
		LastError:    h.lastError,
	}
	snap.StaleProcesses = append([]StaleProcess(nil), h.stale...)
	if h.reqs != nil {
		reqs := *h.reqs
		snap.Requirements = &reqs
	}
	return snap
}

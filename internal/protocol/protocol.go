// Package protocol defines the typed message contract between the client and
// the bridge. Every frame is a JSON object with a "type" field used for
// routing; the remaining fields are type-specific.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types for the bridge protocol.
const (
	// Client → Bridge
	TypeClientRegister  = "client.register"
	TypeClientHeartbeat = "client.heartbeat"
	TypeHostConnect     = "host.connect"
	TypeHostDisconnect  = "host.disconnect"
	TypeProcessStart    = "process.start"
	TypeProcessKill     = "process.kill"
	TypePTYInput        = "pty.input"
	TypePTYResize       = "pty.resize"
	TypeChatSend        = "chat.send"
	TypeReqsCheck       = "requirements.check"
	TypeEnvList         = "env.list"
	TypeSnippetList     = "snippet.list"

	// Bridge → Client (host/process lifecycle)
	TypeHostConnected    = "host.connected"
	TypeHostDisconnected = "host.disconnected"
	TypeHostError        = "host.error"
	TypeProcessCreated   = "process.created"
	TypeProcessRemoved   = "process.removed"
	TypeProcessesStale   = "process.stale"

	// Bridge → Client (streams)
	TypePTYOutput = "pty.output"
	TypeChatEvent = "chat.event"

	// Bridge → Client (request results)
	TypeReqsResult    = "requirements.result"
	TypeEnvResult     = "env.list_result"
	TypeSnippetResult = "snippet.list_result"

	// Bridge → Client (control)
	TypeRegistered = "registered"
	TypeError      = "error"
)

// Chat event discriminators carried inside a chat.event frame.
const (
	ChatEventMessageUpdate = "message_update"
	ChatEventStatusChange  = "status_change"
)

// Process types.
const (
	ProcessShell = "shell"
	ProcessAgent = "agent"
)

// Stale process reasons.
const (
	StaleDetached          = "detached"
	StaleConnectionRefused = "connection_refused"
	StaleTimeout           = "timeout"
	StaleOther             = "other"
)

// Envelope is the minimal frame wrapper sniffed before full decoding.
type Envelope struct {
	Type string `json:"type"`
}

// Message is any frame in the bridge protocol. MessageType returns the
// routing tag, identical to the wire "type" field.
type Message interface {
	MessageType() string
}

// ClientRegister is sent by the client immediately after the socket opens.
type ClientRegister struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Version  string `json:"version,omitempty"`
}

func (ClientRegister) MessageType() string { return TypeClientRegister }

// ClientHeartbeat keeps the connection alive.
type ClientHeartbeat struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

func (ClientHeartbeat) MessageType() string { return TypeClientHeartbeat }

// Registered is the bridge's acknowledgment of a client registration.
type Registered struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
}

func (Registered) MessageType() string { return TypeRegistered }

// ErrorMsg is sent by the bridge for protocol-level errors.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (ErrorMsg) MessageType() string { return TypeError }

// HostConfig describes how the bridge should reach a host.
type HostConfig struct {
	HostID   string `json:"host_id"`
	Addr     string `json:"addr"`
	User     string `json:"user,omitempty"`
	Port     int    `json:"port,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
	Nickname string `json:"nickname,omitempty"`
}

// HostConnect asks the bridge to open an SSH connection to a host.
type HostConnect struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id"`
	Config    HostConfig `json:"config"`
}

func (HostConnect) MessageType() string { return TypeHostConnect }

// HostDisconnect asks the bridge to drop its connection to a host.
type HostDisconnect struct {
	Type   string `json:"type"`
	HostID string `json:"host_id"`
}

func (HostDisconnect) MessageType() string { return TypeHostDisconnect }

// HostConnected reports that the bridge established a host connection.
type HostConnected struct {
	Type   string     `json:"type"`
	HostID string     `json:"host_id"`
	Config HostConfig `json:"config"`
}

func (HostConnected) MessageType() string { return TypeHostConnected }

// HostDisconnected reports that a host connection ended.
type HostDisconnected struct {
	Type   string `json:"type"`
	HostID string `json:"host_id"`
	Reason string `json:"reason,omitempty"`
}

func (HostDisconnected) MessageType() string { return TypeHostDisconnected }

// HostError carries a host-scoped failure (connect refused, auth, ...).
// The host itself may still be usable; the error is display state.
type HostError struct {
	Type   string `json:"type"`
	HostID string `json:"host_id"`
	Error  string `json:"error"`
}

func (HostError) MessageType() string { return TypeHostError }

// ProcessStart asks the bridge to spawn a shell or agent process on a host.
type ProcessStart struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	HostID    string `json:"host_id"`
	Kind      string `json:"kind"` // "shell" or "agent"
	CWD       string `json:"cwd,omitempty"`
	Agent     string `json:"agent,omitempty"` // agent label, kind == "agent" only
}

func (ProcessStart) MessageType() string { return TypeProcessStart }

// ProcessKill asks the bridge to terminate a process.
type ProcessKill struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
}

func (ProcessKill) MessageType() string { return TypeProcessKill }

// ProcessInfo describes one live process on a host.
type ProcessInfo struct {
	ProcessID  string    `json:"process_id"`
	HostID     string    `json:"host_id"`
	Kind       string    `json:"kind"` // "shell" or "agent"
	CWD        string    `json:"cwd,omitempty"`
	ShellPID   int       `json:"shell_pid,omitempty"`
	AgentPID   int       `json:"agent_pid,omitempty"`
	AgentPort  int       `json:"agent_port,omitempty"`
	ShellReady bool      `json:"shell_ready,omitempty"`
	AgentReady bool      `json:"agent_ready,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// ProcessCreated reports a newly spawned process.
type ProcessCreated struct {
	Type    string      `json:"type"`
	Process ProcessInfo `json:"process"`
}

func (ProcessCreated) MessageType() string { return TypeProcessCreated }

// ProcessRemoved reports that a process exited or was killed.
type ProcessRemoved struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
	HostID    string `json:"host_id"`
	ExitCode  int    `json:"exit_code,omitempty"`
}

func (ProcessRemoved) MessageType() string { return TypeProcessRemoved }

// StaleProcessInfo describes an orphaned or unreachable process-like
// resource reported by the bridge. Not a live PTY; only a cleanup or
// reattach target.
type StaleProcessInfo struct {
	Port      int    `json:"port,omitempty"`
	ProcessID string `json:"process_id,omitempty"`
	Reason    string `json:"reason"`               // detached, connection_refused, timeout, other
	SessionID string `json:"session_id,omitempty"` // present for recoverable detached sessions
}

// ProcessesStale replaces a host's stale process list wholesale.
type ProcessesStale struct {
	Type   string             `json:"type"`
	HostID string             `json:"host_id"`
	Stale  []StaleProcessInfo `json:"stale"`
}

func (ProcessesStale) MessageType() string { return TypeProcessesStale }

// PTYOutput carries a fragment of terminal output. Fragments split lines
// arbitrarily; the client reassembles them.
type PTYOutput struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
	Data      string `json:"data"`
}

func (PTYOutput) MessageType() string { return TypePTYOutput }

// PTYInput carries keystrokes to a process.
type PTYInput struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
	Data      string `json:"data"`
}

func (PTYInput) MessageType() string { return TypePTYInput }

// PTYResize tells the bridge to resize a process's terminal.
type PTYResize struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

func (PTYResize) MessageType() string { return TypePTYResize }

// ChatMessagePayload is one chat message, possibly a partial snapshot of a
// message still streaming. Re-delivery of the same ID carries the grown
// content.
type ChatMessagePayload struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ChatEvent is a tagged chat stream event. Event selects which of the
// optional fields are meaningful.
type ChatEvent struct {
	Type      string              `json:"type"`
	Event     string              `json:"event"` // message_update or status_change
	ProcessID string              `json:"process_id"`
	HostID    string              `json:"host_id,omitempty"`
	Message   *ChatMessagePayload `json:"message,omitempty"`
	Status    string              `json:"status,omitempty"`
	AgentType string              `json:"agent_type,omitempty"`
}

func (ChatEvent) MessageType() string { return TypeChatEvent }

// ChatSend submits a user chat message to an agent process.
type ChatSend struct {
	Type      string `json:"type"`
	ProcessID string `json:"process_id"`
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
}

func (ChatSend) MessageType() string { return TypeChatSend }

// ReqsCheck asks the bridge to probe a host's capabilities.
type ReqsCheck struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	HostID    string `json:"host_id"`
}

func (ReqsCheck) MessageType() string { return TypeReqsCheck }

// Requirements is a host capability snapshot.
type Requirements struct {
	CanStartShell bool   `json:"can_start_shell"`
	CanStartAgent bool   `json:"can_start_agent"`
	AgentVersion  string `json:"agent_version,omitempty"`
	NodeVersion   string `json:"node_version,omitempty"`
}

// ReqsResult carries the outcome of a requirements check. Error is a
// domain error stored alongside state, not a protocol failure.
type ReqsResult struct {
	Type         string       `json:"type"`
	RequestID    string       `json:"request_id,omitempty"`
	HostID       string       `json:"host_id"`
	Requirements Requirements `json:"requirements"`
	Error        string       `json:"error,omitempty"`
}

func (ReqsResult) MessageType() string { return TypeReqsResult }

// EnvList asks for the environment catalog of a host.
type EnvList struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	HostID    string `json:"host_id"`
}

func (EnvList) MessageType() string { return TypeEnvList }

// EnvResult carries a host's environment catalog.
type EnvResult struct {
	Type      string            `json:"type"`
	RequestID string            `json:"request_id,omitempty"`
	HostID    string            `json:"host_id"`
	Env       map[string]string `json:"env,omitempty"`
	Error     string            `json:"error,omitempty"`
}

func (EnvResult) MessageType() string { return TypeEnvResult }

// SnippetList asks for the bridge's saved snippet catalog.
type SnippetList struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

func (SnippetList) MessageType() string { return TypeSnippetList }

// Snippet is one saved command snippet.
type Snippet struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// SnippetResult carries the snippet catalog.
type SnippetResult struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Snippets  []Snippet `json:"snippets,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (SnippetResult) MessageType() string { return TypeSnippetResult }

// Encode marshals a message for the wire.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses a raw frame into its typed message. Unknown types and
// malformed frames return (nil, nil) and (nil, err) respectively; both are
// dropped at the dispatch boundary rather than treated as fatal.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	msg := newMessage(env.Type)
	if msg == nil {
		return nil, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return deref(msg), nil
}

func newMessage(typ string) Message {
	switch typ {
	case TypeClientRegister:
		return &ClientRegister{}
	case TypeClientHeartbeat:
		return &ClientHeartbeat{}
	case TypeRegistered:
		return &Registered{}
	case TypeError:
		return &ErrorMsg{}
	case TypeHostConnect:
		return &HostConnect{}
	case TypeHostDisconnect:
		return &HostDisconnect{}
	case TypeHostConnected:
		return &HostConnected{}
	case TypeHostDisconnected:
		return &HostDisconnected{}
	case TypeHostError:
		return &HostError{}
	case TypeProcessStart:
		return &ProcessStart{}
	case TypeProcessKill:
		return &ProcessKill{}
	case TypeProcessCreated:
		return &ProcessCreated{}
	case TypeProcessRemoved:
		return &ProcessRemoved{}
	case TypeProcessesStale:
		return &ProcessesStale{}
	case TypePTYOutput:
		return &PTYOutput{}
	case TypePTYInput:
		return &PTYInput{}
	case TypePTYResize:
		return &PTYResize{}
	case TypeChatEvent:
		return &ChatEvent{}
	case TypeChatSend:
		return &ChatSend{}
	case TypeReqsCheck:
		return &ReqsCheck{}
	case TypeReqsResult:
		return &ReqsResult{}
	case TypeEnvList:
		return &EnvList{}
	case TypeEnvResult:
		return &EnvResult{}
	case TypeSnippetList:
		return &SnippetList{}
	case TypeSnippetResult:
		return &SnippetResult{}
	}
	return nil
}

// deref returns the value form so handlers receive copies, not shared
// pointers into the decode path.
func deref(msg Message) Message {
	switch m := msg.(type) {
	case *ClientRegister:
		return *m
	case *ClientHeartbeat:
		return *m
	case *Registered:
		return *m
	case *ErrorMsg:
		return *m
	case *HostConnect:
		return *m
	case *HostDisconnect:
		return *m
	case *HostConnected:
		return *m
	case *HostDisconnected:
		return *m
	case *HostError:
		return *m
	case *ProcessStart:
		return *m
	case *ProcessKill:
		return *m
	case *ProcessCreated:
		return *m
	case *ProcessRemoved:
		return *m
	case *ProcessesStale:
		return *m
	case *PTYOutput:
		return *m
	case *PTYInput:
		return *m
	case *PTYResize:
		return *m
	case *ChatEvent:
		return *m
	case *ChatSend:
		return *m
	case *ReqsCheck:
		return *m
	case *ReqsResult:
		return *m
	case *EnvList:
		return *m
	case *EnvResult:
		return *m
	case *SnippetList:
		return *m
	case *SnippetResult:
		return *m
	}
	return msg
}

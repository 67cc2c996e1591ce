// Package client is the composition root of the sync layer. It owns the
// bridge connection, subscribes the three state registries to the dispatch
// registry, and exposes read-only snapshots plus user-intent actions to the
// rendering layer. Everything is constructed at startup and torn down at
// shutdown; there are no package-level singletons.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/perchworks/gangway/internal/archive"
	"github.com/perchworks/gangway/internal/bridge"
	"github.com/perchworks/gangway/internal/chat"
	"github.com/perchworks/gangway/internal/config"
	"github.com/perchworks/gangway/internal/hostreg"
	"github.com/perchworks/gangway/internal/protocol"
	"github.com/perchworks/gangway/internal/termbuf"
)

type archiveEntry struct {
	processID string
	msg       chat.Message
}

// Client glues the connection state machine to the host registry, terminal
// buffers, and chat merge engine.
type Client struct {
	Bridge    *bridge.Client
	Hosts     *hostreg.Registry
	Terminals *termbuf.Buffers
	Chats     *chat.Engine

	arch     *archive.Store
	archCh   chan archiveEntry
	archDone chan struct{}
	unsubs   []func()

	mu       sync.Mutex
	envs     map[string]map[string]string // host id → environment catalog
	snippets []protocol.Snippet
}

// New wires a client from config. transport may be nil only in tests that
// never connect; arch may be nil to disable the transcript archive.
func New(cfg *config.Config, t bridge.Transport, arch *archive.Store) *Client {
	c := &Client{
		Hosts:     hostreg.New(),
		Terminals: termbuf.New(cfg.Terminal.MaxLines, cfg.Terminal.MaxBytes),
		Chats:     chat.NewEngine(),
		arch:      arch,
		envs:      make(map[string]map[string]string),
	}

	d := bridge.NewDispatcher()
	c.Bridge = bridge.NewClient(bridge.Options{
		URL:           cfg.Bridge.URL,
		ClientID:      cfg.Bridge.ClientID,
		AutoReconnect: true,
		BackoffBase:   time.Duration(cfg.Bridge.BackoffBase),
		BackoffMax:    time.Duration(cfg.Bridge.BackoffMax),
		MaxAttempts:   cfg.Bridge.MaxAttempts,
		SendRate:      rate.Limit(cfg.Bridge.SendRate),
	}, t, d)

	c.subscribe(d)

	if arch != nil {
		// Handlers must not block on the dispatch path, so archive writes
		// hand off to a single writer goroutine. Full channel drops the
		// write; the next snapshot of the same message heals it.
		c.archCh = make(chan archiveEntry, 256)
		c.archDone = make(chan struct{})
		c.Chats.OnMessage = func(processID string, msg chat.Message) {
			select {
			case c.archCh <- archiveEntry{processID, msg}:
			default:
			}
		}
		go c.archiveLoop()
	}

	return c
}

func (c *Client) subscribe(d *bridge.Dispatcher) {
	sub := func(typ string, fn bridge.Handler) {
		c.unsubs = append(c.unsubs, d.Subscribe(typ, fn))
	}

	sub(protocol.TypeHostConnected, func(msg protocol.Message) {
		m := msg.(protocol.HostConnected)
		c.Hosts.Connect(m.Config)
		c.Hosts.SetState(m.HostID, hostreg.HostConnected)
	})
	sub(protocol.TypeHostDisconnected, func(msg protocol.Message) {
		m := msg.(protocol.HostDisconnected)
		c.Hosts.Disconnect(m.HostID)
	})
	sub(protocol.TypeHostError, func(msg protocol.Message) {
		m := msg.(protocol.HostError)
		c.Hosts.SetError(m.HostID, m.Error)
	})
	sub(protocol.TypeProcessCreated, func(msg protocol.Message) {
		m := msg.(protocol.ProcessCreated)
		p := m.Process
		c.Hosts.AddProcess(hostreg.Process{
			ID:         p.ProcessID,
			HostID:     p.HostID,
			Kind:       p.Kind,
			CWD:        p.CWD,
			ShellPID:   p.ShellPID,
			AgentPID:   p.AgentPID,
			AgentPort:  p.AgentPort,
			ShellReady: p.ShellReady,
			AgentReady: p.AgentReady,
			CreatedAt:  p.CreatedAt,
		})
		if p.Kind == protocol.ProcessAgent {
			c.Chats.InitSession(p.ProcessID, p.HostID)
		}
	})
	sub(protocol.TypeProcessRemoved, func(msg protocol.Message) {
		m := msg.(protocol.ProcessRemoved)
		c.Hosts.RemoveProcess(m.ProcessID)
		c.Terminals.Clear(m.ProcessID)
		c.Chats.SetStatus(m.ProcessID, chat.StatusDisconnected, "")
	})
	sub(protocol.TypeProcessesStale, func(msg protocol.Message) {
		m := msg.(protocol.ProcessesStale)
		stale := make([]hostreg.StaleProcess, 0, len(m.Stale))
		for _, s := range m.Stale {
			stale = append(stale, hostreg.StaleProcess{
				Port:      s.Port,
				ProcessID: s.ProcessID,
				Reason:    s.Reason,
				SessionID: s.SessionID,
			})
		}
		c.Hosts.SetStaleProcesses(m.HostID, stale)
	})
	sub(protocol.TypePTYOutput, func(msg protocol.Message) {
		m := msg.(protocol.PTYOutput)
		c.Terminals.Append(m.ProcessID, m.Data)
	})
	sub(protocol.TypeChatEvent, func(msg protocol.Message) {
		c.Chats.HandleEvent(msg.(protocol.ChatEvent))
	})
	sub(protocol.TypeReqsResult, func(msg protocol.Message) {
		m := msg.(protocol.ReqsResult)
		c.Hosts.SetRequirements(m.HostID, m.Requirements, m.Error)
	})
	sub(protocol.TypeEnvResult, func(msg protocol.Message) {
		m := msg.(protocol.EnvResult)
		if m.Error != "" {
			c.Hosts.SetError(m.HostID, m.Error)
			return
		}
		c.mu.Lock()
		c.envs[m.HostID] = m.Env
		c.mu.Unlock()
	})
	sub(protocol.TypeSnippetResult, func(msg protocol.Message) {
		m := msg.(protocol.SnippetResult)
		if m.Error != "" {
			slog.Warn("snippet list failed", "err", m.Error)
			return
		}
		c.mu.Lock()
		c.snippets = append([]protocol.Snippet(nil), m.Snippets...)
		c.mu.Unlock()
	})
}

func (c *Client) archiveLoop() {
	defer close(c.archDone)
	for entry := range c.archCh {
		if err := c.arch.UpsertMessage(entry.processID, entry.msg); err != nil {
			slog.Warn("archive write failed", "process_id", entry.processID, "err", err)
		}
	}
}

// Connect starts the bridge connection loop.
func (c *Client) Connect(ctx context.Context) {
	c.Bridge.Connect(ctx)
}

// Close disconnects and stops background work. Registry contents survive
// until the process exits; rendering may keep showing last-known state.
func (c *Client) Close() {
	c.Bridge.Disconnect()
	for _, unsub := range c.unsubs {
		unsub()
	}
	if c.archCh != nil {
		close(c.archCh)
		<-c.archDone
	}
}

// State returns the bridge connection state.
func (c *Client) State() bridge.ConnState {
	return c.Bridge.State()
}

// SelectProcess records the advisory process selection.
func (c *Client) SelectProcess(processID string) {
	c.Hosts.SelectProcess(processID)
}

// SendCommand submits an arbitrary outbound envelope. Fire-and-forget:
// ErrNotConnected when the bridge is unreachable, no queuing.
func (c *Client) SendCommand(ctx context.Context, msg protocol.Message) error {
	return c.Bridge.Send(ctx, msg)
}

// ConnectHost asks the bridge to open a host connection and optimistically
// records the host as connecting.
func (c *Client) ConnectHost(ctx context.Context, cfg protocol.HostConfig) error {
	c.Hosts.Connect(cfg)
	return c.Bridge.Send(ctx, protocol.HostConnect{
		Type:      protocol.TypeHostConnect,
		RequestID: uuid.NewString(),
		Config:    cfg,
	})
}

// DisconnectHost marks the host disconnected locally and tells the bridge.
// The local transition is not contingent on delivery; a send failure just
// means the bridge will notice on its own.
func (c *Client) DisconnectHost(ctx context.Context, hostID string) error {
	c.Hosts.Disconnect(hostID)
	err := c.Bridge.Send(ctx, protocol.HostDisconnect{
		Type:   protocol.TypeHostDisconnect,
		HostID: hostID,
	})
	if errors.Is(err, bridge.ErrNotConnected) {
		return nil
	}
	return err
}

// StartProcess asks the bridge to spawn a process. Returns the request id
// so the caller can correlate the eventual process.created event.
func (c *Client) StartProcess(ctx context.Context, hostID, kind, cwd, agent string) (string, error) {
	reqID := uuid.NewString()
	err := c.Bridge.Send(ctx, protocol.ProcessStart{
		Type:      protocol.TypeProcessStart,
		RequestID: reqID,
		HostID:    hostID,
		Kind:      kind,
		CWD:       cwd,
		Agent:     agent,
	})
	return reqID, err
}

// KillProcess asks the bridge to terminate a process. Local cleanup happens
// when the process.removed confirmation arrives.
func (c *Client) KillProcess(ctx context.Context, processID string) error {
	return c.Bridge.Send(ctx, protocol.ProcessKill{
		Type:      protocol.TypeProcessKill,
		ProcessID: processID,
	})
}

// SendInput forwards keystrokes to a process.
func (c *Client) SendInput(ctx context.Context, processID, data string) error {
	return c.Bridge.Send(ctx, protocol.PTYInput{
		Type:      protocol.TypePTYInput,
		ProcessID: processID,
		Data:      data,
	})
}

// ResizeTerminal tells the bridge the viewport changed.
func (c *Client) ResizeTerminal(ctx context.Context, processID string, cols, rows int) error {
	return c.Bridge.Send(ctx, protocol.PTYResize{
		Type:      protocol.TypePTYResize,
		ProcessID: processID,
		Cols:      cols,
		Rows:      rows,
	})
}

// SendChat submits a user chat message and records it locally right away;
// the bridge's echo of the same message id collapses onto this entry.
func (c *Client) SendChat(ctx context.Context, processID, text string) error {
	msgID := uuid.NewString()
	c.Chats.AddOrUpdateMessage(processID, chat.Message{
		ID:      msgID,
		Role:    "user",
		Content: text,
	})
	return c.Bridge.Send(ctx, protocol.ChatSend{
		Type:      protocol.TypeChatSend,
		ProcessID: processID,
		MessageID: msgID,
		Text:      text,
	})
}

// CheckRequirements starts a capability probe for a host.
func (c *Client) CheckRequirements(ctx context.Context, hostID string) error {
	c.Hosts.SetCheckingRequirements(hostID, true)
	err := c.Bridge.Send(ctx, protocol.ReqsCheck{
		Type:      protocol.TypeReqsCheck,
		RequestID: uuid.NewString(),
		HostID:    hostID,
	})
	if err != nil {
		c.Hosts.SetCheckingRequirements(hostID, false)
	}
	return err
}

// RequestEnv asks for a host's environment catalog.
func (c *Client) RequestEnv(ctx context.Context, hostID string) error {
	return c.Bridge.Send(ctx, protocol.EnvList{
		Type:      protocol.TypeEnvList,
		RequestID: uuid.NewString(),
		HostID:    hostID,
	})
}

// RequestSnippets asks for the bridge's snippet catalog.
func (c *Client) RequestSnippets(ctx context.Context) error {
	return c.Bridge.Send(ctx, protocol.SnippetList{
		Type:      protocol.TypeSnippetList,
		RequestID: uuid.NewString(),
	})
}

// Env returns the last received environment catalog for a host.
func (c *Client) Env(hostID string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	env := c.envs[hostID]
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// Snippets returns the last received snippet catalog.
func (c *Client) Snippets() []protocol.Snippet {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Snippet(nil), c.snippets...)
}

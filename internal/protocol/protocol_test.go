package protocol

import (
	"testing"
	"time"
)

func TestDecodePTYOutput(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"pty.output","process_id":"p1","data":"$ ls\n"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	out, ok := msg.(PTYOutput)
	if !ok {
		t.Fatalf("decoded %T, want PTYOutput", msg)
	}
	if out.ProcessID != "p1" || out.Data != "$ ls\n" {
		t.Errorf("decoded %+v", out)
	}
}

func TestDecodeUnknownTypeDropped(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"future.thing","x":1}`))
	if err != nil {
		t.Errorf("unknown type returned error: %v", err)
	}
	if msg != nil {
		t.Errorf("unknown type decoded to %T, want nil", msg)
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("malformed frame decoded without error")
	}
	// Valid envelope, payload of the wrong shape.
	if _, err := Decode([]byte(`{"type":"pty.resize","cols":"not-a-number"}`)); err == nil {
		t.Error("mistyped payload decoded without error")
	}
}

func TestDecodeChatEvent(t *testing.T) {
	raw := `{"type":"chat.event","event":"message_update","process_id":"p1",
		"message":{"id":"m1","role":"assistant","message":"Hel"}}`
	msg, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ev := msg.(ChatEvent)
	if ev.Event != ChatEventMessageUpdate || ev.Message == nil || ev.Message.Message != "Hel" {
		t.Errorf("decoded %+v", ev)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	created := ProcessCreated{
		Type: TypeProcessCreated,
		Process: ProcessInfo{
			ProcessID:  "p1",
			HostID:     "h1",
			Kind:       ProcessAgent,
			CWD:        "/srv/app",
			AgentPort:  8123,
			AgentReady: true,
			CreatedAt:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		},
	}
	data, err := Encode(created)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got, ok := back.(ProcessCreated)
	if !ok {
		t.Fatalf("round-tripped to %T", back)
	}
	if got.Process != created.Process {
		t.Errorf("round trip changed the process: %+v", got.Process)
	}
}

func TestMessageTypeMatchesWireTag(t *testing.T) {
	msgs := []Message{
		ClientRegister{}, ClientHeartbeat{}, Registered{}, ErrorMsg{},
		HostConnect{}, HostDisconnect{}, HostConnected{}, HostDisconnected{}, HostError{},
		ProcessStart{}, ProcessKill{}, ProcessCreated{}, ProcessRemoved{}, ProcessesStale{},
		PTYOutput{}, PTYInput{}, PTYResize{},
		ChatEvent{}, ChatSend{},
		ReqsCheck{}, ReqsResult{}, EnvList{}, EnvResult{}, SnippetList{}, SnippetResult{},
	}
	seen := make(map[string]bool)
	for _, m := range msgs {
		tag := m.MessageType()
		if tag == "" {
			t.Errorf("%T has empty type tag", m)
		}
		if seen[tag] {
			t.Errorf("duplicate type tag %q", tag)
		}
		seen[tag] = true
		if newMessage(tag) == nil {
			t.Errorf("type %q not decodable", tag)
		}
	}
}

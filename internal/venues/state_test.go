package venues

import "testing"

func TestConnStateLifecycle(t *testing.T) {
	s := NewConnState()
	if s.Connected() {
		t.Fatal("fresh state must be disconnected")
	}
	if !s.BeginConnect() {
		t.Fatal("BeginConnect from disconnected must succeed")
	}
	if s.BeginConnect() {
		t.Fatal("BeginConnect must fail while connecting")
	}
	if !s.MarkConnected() {
		t.Fatal("expected connected after MarkConnected")
	}

	s.MarkWS(true)
	if s.Current() != StateWSConnected {
		t.Fatalf("state = %s, want ws-connected", s.Current())
	}
	if !s.Connected() {
		t.Fatal("ws-connected still counts as connected")
	}

	s.MarkWS(false)
	if s.Current() != StateConnected {
		t.Fatalf("state = %s, want connected after ws drop", s.Current())
	}

	s.Reset()
	if s.Connected() || s.Current() != StateDisconnected {
		t.Fatal("Reset must return to disconnected")
	}
	// Idempotent reset.
	s.Reset()
	if s.Current() != StateDisconnected {
		t.Fatal("second Reset must be a no-op")
	}
}

func TestMarkConnectedOnlyFromConnecting(t *testing.T) {
	s := NewConnState()
	if s.MarkConnected() {
		t.Fatal("MarkConnected without BeginConnect must not connect")
	}
	if s.Connected() {
		t.Fatal("state must stay disconnected")
	}
}

func TestMarkConnectedReportsResetRace(t *testing.T) {
	s := NewConnState()
	if !s.BeginConnect() {
		t.Fatal("BeginConnect from disconnected must succeed")
	}
	// A Disconnect lands while the connect probe is in flight.
	s.Reset()
	if s.MarkConnected() {
		t.Fatal("MarkConnected after a reset must report the lost race")
	}
	if s.Connected() {
		t.Fatal("state must stay disconnected")
	}
}

package activitypub

import (
	"testing"
)

func TestLinks(t *testing.T) {
	l := NewLinks("https://example.com/")

	tests := []struct {
		got  string
		want string
	}{
		{l.Actor("alice"), "https://example.com/users/alice"},
		{l.Inbox("alice"), "https://example.com/users/alice/inbox"},
		{l.Outbox("alice"), "https://example.com/users/alice/outbox"},
		{l.Followers("alice"), "https://example.com/users/alice/followers"},
		{l.Following("alice"), "https://example.com/users/alice/following"},
		{l.SharedInbox(), "https://example.com/inbox"},
		{l.KeyID("alice"), "https://example.com/users/alice#main-key"},
		{l.Activity("1"), "https://example.com/activities/1"},
		{l.Note("alice", "n1"), "https://example.com/users/alice/notes/n1"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestLinksIdentifier(t *testing.T) {
	l := NewLinks(testBase)

	tests := []struct {
		uri   string
		want  string
		ok    bool
		local bool // accepted by LocalActor too
	}{
		{"alice", "alice", true, true},
		{"https://example.com/users/alice", "alice", true, true},
		{"https://example.com/users/alice/notes/1", "alice", true, false},
		{"https://example.com/users/alice#main-key", "alice", true, false},
		{"https://remote.example/users/alice", "", false, false},
		{"https://example.com/users/Alice", "", false, false},
		{"https://example.com/users/", "", false, false},
		{"Alice", "", false, false},
		{"", "", false, false},
	}
	for _, tt := range tests {
		got, ok := l.Identifier(tt.uri)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Identifier(%q) = %q, %v; want %q, %v", tt.uri, got, ok, tt.want, tt.ok)
		}
		if _, ok := l.LocalActor(tt.uri); ok != tt.local {
			t.Errorf("LocalActor(%q) ok = %v, want %v", tt.uri, ok, tt.local)
		}
	}
}

func TestValidIdentifier(t *testing.T) {
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'a'
	}

	valid := []string{"alice", "a", "bob_2", string(long[:64])}
	invalid := []string{"", "Alice", "al ice", "al-ice", "ål", string(long)}

	for _, s := range valid {
		if !ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = false", s)
		}
	}
	for _, s := range invalid {
		if ValidIdentifier(s) {
			t.Errorf("ValidIdentifier(%q) = true", s)
		}
	}
}

func TestActorRef(t *testing.T) {
	l := NewLinks(testBase)
	if got := l.ActorRef("bob"); got != "https://example.com/users/bob" {
		t.Errorf("ActorRef(bob) = %q", got)
	}
	if got := l.ActorRef("https://remote.example/users/bob"); got != "https://remote.example/users/bob" {
		t.Errorf("ActorRef(remote) = %q", got)
	}
}

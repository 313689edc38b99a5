package conversation

import (
	"errors"
	"testing"
)

func TestIDIsSymmetric(t *testing.T) {
	if ID("alice", "bob") != "alice__bob" {
		t.Errorf("ID(alice, bob) = %q", ID("alice", "bob"))
	}
	if ID("bob", "alice") != ID("alice", "bob") {
		t.Error("ID is not symmetric")
	}
}

func TestPeer(t *testing.T) {
	tests := []struct {
		id, local, want string
		ok              bool
	}{
		{"alice__bob", "alice", "bob", true},
		{"alice__bob", "bob", "alice", true},
		{"alice__bob", "carol", "", false},
		{"alicebob", "alice", "", false},
	}
	for _, tt := range tests {
		got, ok := Peer(tt.id, tt.local)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Peer(%q, %q) = %q, %v", tt.id, tt.local, got, ok)
		}
	}
}

func TestValidatePeer(t *testing.T) {
	tests := []struct {
		peer    string
		wantErr bool
	}{
		{"bob", false},
		{"bob.smith-2", false},
		{"", true},
		{"  ", true},
		{"alice", true},
		{"bo__b", true},
		{"bob/../x", true},
		{"bob?token=x", true},
	}
	for _, tt := range tests {
		t.Run(tt.peer, func(t *testing.T) {
			err := ValidatePeer(tt.peer, "alice")
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidatePeer(%q) error = %v, wantErr %v", tt.peer, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidPeer) {
				t.Errorf("error %v does not wrap ErrInvalidPeer", err)
			}
		})
	}
}

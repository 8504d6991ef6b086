package xid

import (
	"strings"
	"testing"
)

func TestNewUsesPrefixAndIsUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := New("prd")
		if !strings.HasPrefix(id, "prd_") {
			t.Fatalf("expected prd_ prefix, got %s", id)
		}
		if len(id) != len("prd_")+32 {
			t.Fatalf("unexpected id length %d for %s", len(id), id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestNewWithoutPrefix(t *testing.T) {
	if id := New(""); strings.Contains(id, "_") || len(id) != 32 {
		t.Fatalf("unexpected id %q", id)
	}
}

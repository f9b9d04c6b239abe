package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"vaultkit.org/internal/vault"
)

func chainWithEvents(t *testing.T, n int) []vault.AuditEvent {
	t.Helper()
	c := NewChain()
	for i := 0; i < n; i++ {
		if _, err := c.Append(context.Background(), entry("owner-1", vault.ActionResourceAccessed)); err != nil {
			t.Fatal(err)
		}
	}
	events, _ := c.Events(context.Background())
	return events
}

func TestReadLogFlatArray(t *testing.T) {
	events := chainWithEvents(t, 3)
	data, _ := json.Marshal(events)

	got, err := ReadLog(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("read %d events, want 3", len(got))
	}
	if res := Verify(got, DefaultHash); !res.Valid {
		t.Fatalf("round-tripped chain broken: %+v", res)
	}
}

func TestReadLogItemsObject(t *testing.T) {
	events := chainWithEvents(t, 2)
	data, _ := json.Marshal(map[string]any{"items": events})

	got, err := ReadLog(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d events, want 2", len(got))
	}
}

func TestReadLogGarbage(t *testing.T) {
	if _, err := ReadLog([]byte("not json at all")); err == nil {
		t.Fatal("garbage input accepted")
	}
	if _, err := ReadLog([]byte(`{"foo": 1}`)); err == nil {
		t.Fatal("object without items accepted")
	}
}

func TestReadLogFile(t *testing.T) {
	events := chainWithEvents(t, 2)
	data, _ := json.Marshal(events)
	path := filepath.Join(t.TempDir(), "audit.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ReadLogFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d events, want 2", len(got))
	}

	if _, err := ReadLogFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

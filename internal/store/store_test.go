package store

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()), slog.Default())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestUpsertIsIdempotentByProviderIdentity(t *testing.T) {
	s := newTestStore(t)

	c := &Credential{Provider: ProviderGeminiCli, Identity: "proj-1", RefreshToken: "rt1", Status: StatusEnabled}
	if err := s.Upsert(c); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	firstID := c.ID

	c2 := &Credential{Provider: ProviderGeminiCli, Identity: "proj-1", RefreshToken: "rt2", Status: StatusEnabled}
	if err := s.Upsert(c2); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}
	if c2.ID != firstID {
		t.Fatalf("expected upsert to reuse surrogate id, got %s vs %s", c2.ID, firstID)
	}

	rows, err := s.LoadAllEnabled()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one row after double upsert, got %d", len(rows))
	}
	if rows[0].RefreshToken != "rt2" {
		t.Fatalf("expected last-writer-wins, got %q", rows[0].RefreshToken)
	}
}

func TestSetStatusExcludesFromLoadAllEnabled(t *testing.T) {
	s := newTestStore(t)
	c := &Credential{Provider: ProviderCodex, Identity: "acct-1", Status: StatusEnabled}
	if err := s.Upsert(c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetStatus(c.ID, StatusDisabled, "invalid_grant"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	rows, err := s.LoadAllEnabled()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected disabled credential excluded, got %d rows", len(rows))
	}
}

func TestSetToken(t *testing.T) {
	s := newTestStore(t)
	c := &Credential{Provider: ProviderGeminiCli, Identity: "proj-2", Status: StatusEnabled}
	if err := s.Upsert(c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	if err := s.SetToken(c.ID, "new-access", exp); err != nil {
		t.Fatalf("set token: %v", err)
	}
	got, err := s.GetByID(c.ID)
	if err != nil || got == nil {
		t.Fatalf("get by id: %v", err)
	}
	if got.AccessToken != "new-access" {
		t.Fatalf("expected updated access token, got %q", got.AccessToken)
	}
}

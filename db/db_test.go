package db

import (
	"path/filepath"
	"testing"
	"time"

	"parley/models"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "parley.db")
	database, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database, path
}

func sampleSnapshot() *models.Snapshot {
	ts := time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.UTC)

	alice := &models.User{ID: "u1", Name: "alice", DisplayName: "Alice", PhoneNumber: "1234567890", PasswordHash: "hash-a", CreatedAt: ts}
	bob := &models.User{ID: "u2", Name: "bob", DisplayName: "Bob", PhoneNumber: "2345678901", PasswordHash: "hash-b", CreatedAt: ts,
		LastOnline: ts.Add(time.Hour), LastOffline: ts.Add(2 * time.Hour)}

	direct := &models.Message{ID: "m1", SenderID: "u1", SenderDisplayName: "Alice", Recipient: "bob", Kind: models.KindDirect, Body: "hi | there, \\ friend", Timestamp: ts}
	groupMsg := &models.Message{ID: "m2", SenderID: "u2", SenderDisplayName: "Bob", Recipient: "g1", Kind: models.KindGroup, Body: "hello team", Timestamp: ts}

	snap := models.NewSnapshot()
	snap.Users = []*models.User{alice, bob}
	snap.Histories["u1"] = []*models.Message{direct}
	snap.Histories["u2"] = []*models.Message{direct}
	snap.Groups = []*models.Group{{
		ID:        "g1",
		Name:      "Team",
		Members:   []string{"u2", "u1"},
		History:   []*models.Message{groupMsg},
		CreatedAt: ts,
	}}
	snap.Requests["u2"] = []*models.MessageRequest{
		{ID: "r1", FromUserID: "u1", FromName: "Alice", FromUsername: "alice", ToUserID: "u2", Message: "hi", Timestamp: ts, Status: models.RequestAccepted},
		{ID: "r2", FromUserID: "u1", FromName: "Alice", FromUsername: "alice", ToUserID: "u2", Message: "again", Timestamp: ts, Status: models.RequestPending},
	}
	snap.Bindings["u1"] = []*models.ChatBinding{
		{PeerKey: "bob", DisplayName: "Bob", Kind: models.KindDirect, LastMessage: "hi", CreatedAt: ts},
		{PeerKey: "g1", DisplayName: "Team", Kind: models.KindGroup, GroupID: "g1", CreatedAt: ts},
	}
	return snap
}

func TestLoadEmpty(t *testing.T) {
	database, _ := setupTestDB(t)

	snap, err := database.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(snap.Users) != 0 || len(snap.Groups) != 0 || len(snap.Histories) != 0 {
		t.Errorf("Expected empty snapshot, got %+v", snap)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	database, _ := setupTestDB(t)
	want := sampleSnapshot()

	if err := database.Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := database.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(got.Users) != 2 || got.Users[0].Name != "alice" || got.Users[1].Name != "bob" {
		t.Fatalf("Users not restored in order: %+v", got.Users)
	}
	if got.Users[0].PasswordHash != "hash-a" || !got.Users[0].CreatedAt.Equal(want.Users[0].CreatedAt) {
		t.Errorf("User fields not restored: %+v", got.Users[0])
	}
	if !got.Users[0].LastOnline.IsZero() || !got.Users[0].LastOffline.IsZero() {
		t.Errorf("Unset presence times should stay zero: %+v", got.Users[0])
	}
	if !got.Users[1].LastOnline.Equal(want.Users[1].LastOnline) || !got.Users[1].LastOffline.Equal(want.Users[1].LastOffline) {
		t.Errorf("Presence times not restored: %+v", got.Users[1])
	}

	for _, owner := range []string{"u1", "u2"} {
		h := got.Histories[owner]
		if len(h) != 1 || h[0].Body != "hi | there, \\ friend" || h[0].Kind != models.KindDirect {
			t.Errorf("History of %s not restored: %+v", owner, h)
		}
	}

	if len(got.Groups) != 1 {
		t.Fatalf("Expected 1 group, got %d", len(got.Groups))
	}
	g := got.Groups[0]
	if len(g.Members) != 2 || g.Members[0] != "u2" || g.Members[1] != "u1" {
		t.Errorf("Group members order lost: %v", g.Members)
	}
	if len(g.History) != 1 || g.History[0].Recipient != "g1" || g.History[0].Kind != models.KindGroup {
		t.Errorf("Group history not restored: %+v", g.History)
	}

	reqs := got.Requests["u2"]
	if len(reqs) != 2 || reqs[0].ID != "r1" || reqs[1].Status != models.RequestPending {
		t.Errorf("Requests not restored in order: %+v", reqs)
	}

	bindings := got.Bindings["u1"]
	if len(bindings) != 2 || bindings[0].LastMessage != "hi" || bindings[1].GroupID != "g1" {
		t.Errorf("Bindings not restored: %+v", bindings)
	}
}

func TestSaveReplacesPreviousState(t *testing.T) {
	database, _ := setupTestDB(t)

	if err := database.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	smaller := models.NewSnapshot()
	smaller.Users = []*models.User{{ID: "u9", Name: "carol", DisplayName: "Carol", PhoneNumber: "3456789012", PasswordHash: "h"}}
	if err := database.Save(smaller); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := database.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Users) != 1 || got.Users[0].Name != "carol" {
		t.Errorf("Expected only carol, got %+v", got.Users)
	}
	if len(got.Groups) != 0 || len(got.Requests) != 0 || len(got.Bindings) != 0 {
		t.Error("Old rows should be gone after a full rewrite")
	}
}

func TestReopenKeepsState(t *testing.T) {
	database, path := setupTestDB(t)
	if err := database.Save(sampleSnapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	database.Close()

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Users) != 2 || len(got.Groups) != 1 {
		t.Errorf("State lost across reopen: %d users, %d groups", len(got.Users), len(got.Groups))
	}
}

func TestMigrationAddsColumns(t *testing.T) {
	database, _ := setupTestDB(t)

	if !database.columnExists("users", "created_at") {
		t.Error("users.created_at should exist")
	}
	if !database.columnExists("chat_bindings", "last_message") {
		t.Error("chat_bindings.last_message should exist")
	}
	for _, column := range []string{"last_online", "last_offline"} {
		if !database.columnExists("users", column) {
			t.Errorf("users.%s should exist", column)
		}
	}
	if database.columnExists("users", "nonexistent") {
		t.Error("columnExists reported a missing column")
	}
}

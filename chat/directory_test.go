package chat

import (
	"errors"
	"fmt"
	"testing"
)

func TestRegister(t *testing.T) {
	svc, _ := setupTestService(t)

	u, err := svc.Register("alice", "Alice", "secret1")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if u.ID == "" || u.Name != "alice" || u.DisplayName != "Alice" {
		t.Errorf("Unexpected user %+v", u)
	}
	if len(u.PhoneNumber) != 10 || u.PhoneNumber[0] == '0' {
		t.Errorf("Expected a 10-digit phone number, got %q", u.PhoneNumber)
	}
	if u.PasswordHash == "secret1" {
		t.Error("Password must be stored hashed")
	}
	if u.Online {
		t.Error("New users start offline")
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := setupTestService(t)

	cases := []struct{ name, display, secret string }{
		{"", "Alice", "secret1"},
		{"alice", "", "secret1"},
		{"alice", "Alice", ""},
	}
	for _, tc := range cases {
		if _, err := svc.Register(tc.name, tc.display, tc.secret); !errors.Is(err, ErrValidation) {
			t.Errorf("Register(%q, %q, %q): expected ErrValidation, got %v", tc.name, tc.display, tc.secret, err)
		}
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	svc, _ := setupTestService(t)
	mustRegister(t, svc, "alice", "Alice", "secret1")

	_, err := svc.Register("alice", "Other Alice", "another")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}
}

func TestRegisterUniqueIdentifiers(t *testing.T) {
	svc, _ := setupTestService(t)

	ids := make(map[string]bool)
	phones := make(map[string]bool)
	const n = 50
	for i := 0; i < n; i++ {
		u := mustRegister(t, svc, fmt.Sprintf("user%d", i), "User", "pw")
		ids[u.ID] = true
		phones[u.PhoneNumber] = true
	}
	if len(ids) != n {
		t.Errorf("Expected %d distinct ids, got %d", n, len(ids))
	}
	if len(phones) != n {
		t.Errorf("Expected %d distinct phone numbers, got %d", n, len(phones))
	}
}

func TestAuthenticate(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")

	u, err := svc.Authenticate("alice", "secret1")
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if u.ID != alice.ID {
		t.Errorf("Expected %s, got %s", alice.ID, u.ID)
	}

	_, errWrong := svc.Authenticate("alice", "wrong")
	_, errUnknown := svc.Authenticate("nobody", "secret1")
	if !errors.Is(errWrong, ErrAuth) || !errors.Is(errUnknown, ErrAuth) {
		t.Fatalf("Expected ErrAuth for both, got %v and %v", errWrong, errUnknown)
	}
	if errWrong.Error() != errUnknown.Error() {
		t.Errorf("Wrong password and unknown user must look the same: %q vs %q", errWrong, errUnknown)
	}
}

func TestLookupByNameOrPhone(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")

	byName, err := svc.Lookup("alice")
	if err != nil || byName.ID != alice.ID {
		t.Errorf("Lookup by name: got %+v, %v", byName, err)
	}
	byPhone, err := svc.Lookup(alice.PhoneNumber)
	if err != nil || byPhone.ID != alice.ID {
		t.Errorf("Lookup by phone: got %+v, %v", byPhone, err)
	}
	if _, err := svc.Lookup("nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPresenceInvariant(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	mustRegister(t, svc, "bob", "Bob", "secret2")
	bobConn := mustLogin(t, svc, "bob")
	bobConn.reset()

	conn := newFakeConn("alice-conn")
	if err := svc.BindConnection(alice.ID, conn); err != nil {
		t.Fatalf("BindConnection failed: %v", err)
	}
	if svc.ConnectionFor(alice.ID) != conn || !svc.Online(alice.ID) {
		t.Fatal("Bound user should be online with its connection")
	}
	if u, _ := svc.UserByID(alice.ID); !u.Online {
		t.Error("User record should report online")
	}

	svc.UnbindConnection(alice.ID)
	if svc.ConnectionFor(alice.ID) != nil {
		t.Error("ConnectionFor should return nil after unbind")
	}
	if svc.Online(alice.ID) {
		t.Error("Online should be false after unbind")
	}
	if u, _ := svc.UserByID(alice.ID); u.Online {
		t.Error("User record should report offline")
	}

	types := bobConn.types()
	if len(types) != 2 || types[0] != EventUserOnline || types[1] != EventUserOffline {
		t.Errorf("Expected online then offline broadcast, got %v", types)
	}
}

func TestBindUnknownUser(t *testing.T) {
	svc, _ := setupTestService(t)
	if err := svc.BindConnection("missing", newFakeConn("x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBrokenConnectionIsDropped(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	bob := mustRegister(t, svc, "bob", "Bob", "secret2")
	mustLogin(t, svc, "alice")
	bobConn := mustLogin(t, svc, "bob")

	bobConn.mu.Lock()
	bobConn.broken = true
	bobConn.mu.Unlock()

	if _, err := svc.Route(alice.ID, "bob", "are you there?", "direct"); err != nil {
		t.Fatalf("Route must not fail on a dead recipient: %v", err)
	}
	if svc.Online(bob.ID) {
		t.Error("Recipient with a dead connection should be flipped offline")
	}
	if !bobConn.isClosed() {
		t.Error("Dead connection should be closed")
	}

	history, _ := svc.HistoryFor(bob.ID, "alice", "direct")
	if len(history) != 1 {
		t.Errorf("Message must be recorded even when delivery fails, got %d", len(history))
	}
}

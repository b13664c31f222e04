package chat

import (
	"errors"
	"sync"
	"testing"

	"parley/models"
)

func TestLoginEventOrder(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	mustRegister(t, svc, "bob", "Bob", "secret2")
	bobConn := mustLogin(t, svc, "bob")
	bobConn.reset()

	conn := newFakeConn("alice-conn")
	u, err := svc.Login(conn, "alice")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if u.ID != alice.ID {
		t.Errorf("Expected %s, got %s", alice.ID, u.ID)
	}

	types := conn.types()
	want := []EventType{EventLoginSuccess, EventUserOnline, EventPendingRequests}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}

	login := conn.ofType(EventLoginSuccess)[0].Payload.(LoginSuccess)
	if login.UserID != alice.ID || login.PhoneNumber != alice.PhoneNumber {
		t.Errorf("Unexpected login payload %+v", login)
	}

	online := bobConn.ofType(EventUserOnline)
	if len(online) != 1 || online[0].Payload.(Presence).Name != "alice" {
		t.Errorf("Bob should see alice come online, got %v", online)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc, _ := setupTestService(t)
	conn := newFakeConn("x")

	if _, err := svc.Login(conn, "nobody"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
	if _, ok := svc.BoundUser(conn); ok {
		t.Error("Connection must stay anonymous")
	}
}

func TestLoginOnBrokenConnection(t *testing.T) {
	svc, gw := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	mustRegister(t, svc, "bob", "Bob", "secret2")
	bobConn := mustLogin(t, svc, "bob")
	bobConn.reset()

	conn := newFakeConn("alice-conn")
	conn.broken = true

	if _, err := svc.Login(conn, "alice"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Expected ErrUnauthenticated, got %v", err)
	}
	if !conn.isClosed() {
		t.Error("A connection that cannot take events should be closed")
	}
	if svc.Online(alice.ID) {
		t.Error("Alice must not stay online")
	}
	if _, ok := svc.BoundUser(conn); ok {
		t.Error("Connection must not stay bound")
	}
	if online := bobConn.ofType(EventUserOnline); len(online) != 0 {
		t.Errorf("Nobody should see alice come online, got %v", online)
	}

	// The failed attempt still leaves a consistent, persisted state.
	gw.mu.Lock()
	snap := gw.snap
	gw.mu.Unlock()
	if snap == nil || len(snap.Users) != 2 || snap.Users[0].Online {
		t.Errorf("Expected alice saved offline, got %+v", snap)
	}
}

func TestReloginDisplacesOldConnection(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")

	first := mustLogin(t, svc, "alice")
	second := mustLogin(t, svc, "alice")

	if !first.isClosed() {
		t.Error("Older connection should be closed")
	}
	if svc.ConnectionFor(alice.ID) != second {
		t.Error("Newest connection should be registered")
	}

	// The displaced connection going away must not log alice out.
	svc.Logout(first)
	if !svc.Online(alice.ID) {
		t.Error("Logout of a displaced connection must not unbind the user")
	}

	svc.Logout(second)
	if svc.Online(alice.ID) {
		t.Error("Logout of the current connection should unbind the user")
	}
}

func TestLoginSwitchesUserOnSameConnection(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	bob := mustRegister(t, svc, "bob", "Bob", "secret2")

	conn := newFakeConn("shared")
	if _, err := svc.Login(conn, "alice"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := svc.Login(conn, "bob"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if svc.Online(alice.ID) {
		t.Error("Alice should be unbound when the connection logs in as bob")
	}
	if userID, _ := svc.BoundUser(conn); userID != bob.ID {
		t.Errorf("Connection should belong to bob, got %q", userID)
	}
}

func TestRouteDirect(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	mustRegister(t, svc, "bob", "Bob", "secret2")
	aliceConn := mustLogin(t, svc, "alice")
	bobConn := mustLogin(t, svc, "bob")

	msg, err := svc.Route(alice.ID, "bob", "hi bob", models.KindDirect)
	if err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	got := bobConn.ofType(EventNewMessage)
	if len(got) != 1 || got[0].Payload.(*models.Message).ID != msg.ID {
		t.Fatalf("Bob should receive the message once, got %v", got)
	}
	if len(aliceConn.ofType(EventNewMessage)) != 0 {
		t.Error("Sender should not receive its own direct message")
	}
}

func TestRouteErrors(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")

	if _, err := svc.Route("ghost", "alice", "hi", models.KindDirect); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated, got %v", err)
	}
	if _, err := svc.Route("ghost", "alice", "hi", "channel"); !errors.Is(err, ErrUnauthenticated) {
		t.Errorf("Expected ErrUnauthenticated for unknown sender, got %v", err)
	}
	if _, err := svc.Route(alice.ID, "alice", "hi", "channel"); !errors.Is(err, ErrValidation) {
		t.Errorf("Expected ErrValidation, got %v", err)
	}
	if _, err := svc.Route(alice.ID, "nobody", "hi", models.KindDirect); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Route(alice.ID, "missing", "hi", models.KindGroup); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("Expected ErrGroupNotFound, got %v", err)
	}
}

func TestGroupFanOut(t *testing.T) {
	svc, _ := setupTestService(t)
	a := mustRegister(t, svc, "a", "A", "pw")
	b := mustRegister(t, svc, "b", "B", "pw")
	c := mustRegister(t, svc, "c", "C", "pw")

	group, _ := svc.CreateGroup("Team", a.ID)
	svc.JoinGroup(group.ID, b.ID)
	svc.JoinGroup(group.ID, c.ID)

	connA := mustLogin(t, svc, "a")
	connB := mustLogin(t, svc, "b")
	connC := mustLogin(t, svc, "c")

	if _, err := svc.Route(a.ID, group.ID, "hello all", models.KindGroup); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if n := len(connB.ofType(EventNewMessage)); n != 1 {
		t.Errorf("B expected 1 message, got %d", n)
	}
	if n := len(connC.ofType(EventNewMessage)); n != 1 {
		t.Errorf("C expected 1 message, got %d", n)
	}
	if n := len(connA.ofType(EventNewMessage)); n != 0 {
		t.Errorf("A expected 0 messages, got %d", n)
	}
}

func TestTeamMessageScenario(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	mustRegister(t, svc, "bob", "Bob", "secret2")

	group, _ := svc.CreateGroup("Team", alice.ID)
	if _, err := svc.AddMember(group.ID, alice.ID, "bob"); err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}

	mustLogin(t, svc, "alice")
	bobConn := mustLogin(t, svc, "bob")

	if _, err := svc.Route(alice.ID, group.ID, "hello", models.KindGroup); err != nil {
		t.Fatalf("Route failed: %v", err)
	}

	if n := len(bobConn.ofType(EventNewMessage)); n != 1 {
		t.Errorf("Bob expected exactly one new-message, got %d", n)
	}
	history, _ := svc.HistoryFor(alice.ID, group.ID, models.KindGroup)
	if len(history) != 1 {
		t.Errorf("Expected group history length 1, got %d", len(history))
	}
}

func TestGroupMessageFromNonMember(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	bob := mustRegister(t, svc, "bob", "Bob", "secret2")
	aliceConn := mustLogin(t, svc, "alice")

	group, _ := svc.CreateGroup("Team", alice.ID)

	if _, err := svc.Route(bob.ID, group.ID, "spam", models.KindGroup); !errors.Is(err, ErrNotAMember) {
		t.Errorf("Expected ErrNotAMember, got %v", err)
	}
	if n := len(aliceConn.ofType(EventNewMessage)); n != 0 {
		t.Errorf("No delivery expected, got %d", n)
	}
}

func TestFetchHistoryPushesBatch(t *testing.T) {
	svc, _ := setupTestService(t)
	alice := mustRegister(t, svc, "alice", "Alice", "secret1")
	bob := mustRegister(t, svc, "bob", "Bob", "secret2")
	aliceConn := mustLogin(t, svc, "alice")

	svc.Route(alice.ID, "bob", "one", models.KindDirect)
	svc.Route(bob.ID, "alice", "two", models.KindDirect)

	messages, err := svc.FetchHistory(alice.ID, "bob", models.KindDirect)
	if err != nil {
		t.Fatalf("FetchHistory failed: %v", err)
	}
	if len(messages) != 2 || messages[0].Body != "one" || messages[1].Body != "two" {
		t.Errorf("Expected [one two], got %v", messages)
	}

	batches := aliceConn.ofType(EventHistory)
	if len(batches) != 1 {
		t.Fatalf("Expected one history batch, got %d", len(batches))
	}
	h := batches[0].Payload.(History)
	if h.Peer != "bob" || h.Kind != models.KindDirect || len(h.Messages) != 2 {
		t.Errorf("Unexpected batch %+v", h)
	}
}

func TestConcurrentRoutingKeepsPerRecipientOrder(t *testing.T) {
	svc, _ := setupTestService(t)
	bob := mustRegister(t, svc, "bob", "Bob", "pw")
	bobConn := mustLogin(t, svc, "bob")
	bobConn.reset()

	const senders, perSender = 4, 25
	ids := make([]string, senders)
	for i := range ids {
		ids[i] = mustRegister(t, svc, string(rune('a'+i))+"-sender", "S", "pw").ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < perSender; j++ {
				if _, err := svc.Route(id, "bob", "m", models.KindDirect); err != nil {
					t.Errorf("Route failed: %v", err)
				}
			}
		}(id)
	}
	wg.Wait()

	delivered := bobConn.ofType(EventNewMessage)
	svc.mu.Lock()
	stored := svc.histories[bob.ID]
	svc.mu.Unlock()

	if len(delivered) != senders*perSender || len(stored) != senders*perSender {
		t.Fatalf("Expected %d messages, delivered %d stored %d", senders*perSender, len(delivered), len(stored))
	}
	for i := range stored {
		if delivered[i].Payload.(*models.Message).ID != stored[i].ID {
			t.Fatalf("Delivery order diverges from record order at %d", i)
		}
	}
}

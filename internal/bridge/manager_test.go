package bridge

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

func TestSessionManager_Register(t *testing.T) {
	sm := NewSessionManager()
	conn := &websocket.Conn{}

	sm.Register("user123", "interview-1", conn, nil)

	if sm.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", sm.Count())
	}
	if _, ok := sm.Snapshot("user123", "interview-2"); ok {
		t.Error("expected no snapshot for unknown session")
	}
}

func TestSessionManager_UnregisterStale(t *testing.T) {
	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	sm.Register("user123", "interview-1", conn1, nil)
	sm.Register("user123", "interview-2", conn2, nil)

	// A connection that is no longer current must not remove its successor.
	sm.Unregister("user123", "interview-2", conn1)
	if sm.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", sm.Count())
	}

	sm.Unregister("user123", "interview-1", conn1)
	sm.Unregister("user123", "interview-2", conn2)
	if sm.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", sm.Count())
	}
}

func TestSessionManager_ConcurrentAccess(t *testing.T) {
	sm := NewSessionManager()
	userID := "concurrentUser"

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register(userID, "tab-"+strconv.Itoa(i), &websocket.Conn{}, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive(userID, "tab-"+strconv.Itoa(i))
		}
	}()
	wg.Wait()

	if sm.Count() != 1000 {
		t.Fatalf("Count() = %d, want 1000", sm.Count())
	}
}

package ws

import (
	"sync"
	"testing"
	"time"

	"messenger/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub == nil {
		t.Fatal("NewHub() returned nil")
	}
	if hub.users == nil {
		t.Error("NewHub() users map is nil")
	}
}

func TestPresence_NeverConnected(t *testing.T) {
	hub := NewHub()
	online, lastSeen := hub.Presence(42)
	if online {
		t.Error("Presence() for unknown user online = true, want false")
	}
	if !lastSeen.IsZero() {
		t.Errorf("Presence() for unknown user last_seen = %v, want zero", lastSeen)
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub()
	uh := hub.GetUser(1)

	client := &Client{
		hub:    uh,
		userID: 1,
		send:   make(chan []byte, 256),
	}

	uh.register <- client
	time.Sleep(10 * time.Millisecond)

	if hub.Online(1) != 1 {
		t.Errorf("Online() after register = %d, want 1", hub.Online(1))
	}
	online, _ := hub.Presence(1)
	if !online {
		t.Error("Presence() after register online = false, want true")
	}

	uh.unregister <- client
	time.Sleep(10 * time.Millisecond)

	if hub.Online(1) != 0 {
		t.Errorf("Online() after unregister = %d, want 0", hub.Online(1))
	}
	online, lastSeen := hub.Presence(1)
	if online {
		t.Error("Presence() after unregister online = true, want false")
	}
	if lastSeen.IsZero() {
		t.Error("Presence() after unregister last_seen is zero, want set")
	}
}

func TestPublish_FanoutToAllConnections(t *testing.T) {
	hub := NewHub()
	uh := hub.GetUser(1)

	clients := make([]*Client, 2)
	for i := range clients {
		clients[i] = &Client{hub: uh, userID: 1, send: make(chan []byte, 256)}
		uh.register <- clients[i]
	}
	time.Sleep(20 * time.Millisecond)

	payload := []byte(`{"type":"message","content":"hello"}`)
	hub.Publish(1, payload)

	for i, c := range clients {
		select {
		case got := <-c.send:
			if string(got) != string(payload) {
				t.Errorf("client %d received %s, want %s", i, got, payload)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("client %d did not receive the push", i)
		}
	}
}

func TestPublish_OtherUserNotDelivered(t *testing.T) {
	hub := NewHub()
	uh := hub.GetUser(2)

	client := &Client{hub: uh, userID: 2, send: make(chan []byte, 256)}
	uh.register <- client
	time.Sleep(10 * time.Millisecond)

	hub.Publish(1, []byte("for user 1"))
	time.Sleep(20 * time.Millisecond)

	select {
	case msg := <-client.send:
		t.Errorf("user 2 received a push addressed to user 1: %s", msg)
	default:
	}
}

func TestPublish_OfflineDoesNotBlock(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		// 接收方不在线时推送直接丢弃，调用必须立即返回
		hub.Publish(99, []byte("dropped"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish() to offline user blocked")
	}
}

func TestPublish_EmptyHubCountsDrop(t *testing.T) {
	hub := NewHub()
	uh := hub.GetUser(5)

	client := &Client{hub: uh, userID: 5, send: make(chan []byte, 256)}
	uh.register <- client
	time.Sleep(10 * time.Millisecond)
	uh.unregister <- client
	time.Sleep(10 * time.Millisecond)

	// 子 Hub 仍在但已无连接，投递必须计入丢弃指标
	before := testutil.ToFloat64(metrics.DeliveriesDropped)
	hub.Publish(5, []byte("nobody home"))
	time.Sleep(20 * time.Millisecond)

	if got := testutil.ToFloat64(metrics.DeliveriesDropped) - before; got != 1 {
		t.Errorf("dropped deliveries delta = %v, want 1", got)
	}
}

func TestHub_MultipleUsers(t *testing.T) {
	hub := NewHub()

	uh1 := hub.GetUser(1)
	uh2 := hub.GetUser(2)

	client1 := &Client{hub: uh1, userID: 1, send: make(chan []byte, 256)}
	client2 := &Client{hub: uh2, userID: 2, send: make(chan []byte, 256)}

	uh1.register <- client1
	uh2.register <- client2
	time.Sleep(20 * time.Millisecond)

	if hub.Online(1) != 1 {
		t.Errorf("Online(1) = %d, want 1", hub.Online(1))
	}
	if hub.Online(2) != 1 {
		t.Errorf("Online(2) = %d, want 1", hub.Online(2))
	}
}

func TestGetUser_Concurrent(t *testing.T) {
	hub := NewHub()

	const n = 20
	hubs := make([]*UserHub, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hubs[i] = hub.GetUser(7)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if hubs[i] != hubs[0] {
			t.Fatal("GetUser() returned different hubs for the same user")
		}
	}
}

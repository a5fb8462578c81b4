package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Mykey001/Mt5-brigde/internal/accounts"
)

type wsEnv struct {
	hub      *Hub
	notifier *Notifier
	db       *accounts.Database
	server   *httptest.Server
}

func newWSEnv(t *testing.T, allowedOrigins []string) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	if err := gormDB.AutoMigrate(&accounts.Account{}, &accounts.Position{}, &accounts.Order{}); err != nil {
		t.Fatalf("migrating registry: %v", err)
	}
	db := accounts.NewDatabase(gormDB)

	hub := NewHub()
	notifier := NewNotifier(hub, db, nil)
	handlers := NewGinHandlers(hub, notifier, db, allowedOrigins)

	router := gin.New()
	router.GET("/ws/:user_id", handlers.SubscribeHandler())

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &wsEnv{hub: hub, notifier: notifier, db: db, server: server}
}

func (e *wsEnv) seedAccount(t *testing.T, userID uint, number string) *accounts.Account {
	t.Helper()
	account := &accounts.Account{
		UserID:        userID,
		BrokerName:    "XM",
		AccountNumber: number,
		Server:        "Test-Server",
		Status:        accounts.StatusConnected,
		Balance:       10000,
	}
	if err := e.db.CreateAccount(account); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
	return account
}

func (e *wsEnv) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := strings.Replace(e.server.URL, "http://", "ws://", 1) + "/ws/" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decoding %q: %v", raw, err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestSubscribeDeliversInitialState(t *testing.T) {
	env := newWSEnv(t, nil)
	account := env.seedAccount(t, 7, "12345")

	conn := env.dial(t, "7")

	msg := readMessage(t, conn)
	if msg.Type != "account_update" {
		t.Fatalf("type = %q, want account_update", msg.Type)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("data = %T", msg.Data)
	}
	if data["account_number"] != account.AccountNumber {
		t.Errorf("account_number = %v", data["account_number"])
	}
}

func TestNotifierFansOutToSubscribers(t *testing.T) {
	env := newWSEnv(t, nil)
	account := env.seedAccount(t, 7, "12345")

	conn := env.dial(t, "7")
	readMessage(t, conn) // drain the initial push

	// A subscriber for another user must not receive this account.
	other := env.dial(t, "8")

	env.notifier.AccountSynced(account.ID)

	msg := readMessage(t, conn)
	if msg.Type != "account_update" {
		t.Fatalf("type = %q, want account_update", msg.Type)
	}

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("user 8 must not receive user 7's update")
	}
}

func TestPingPong(t *testing.T) {
	env := newWSEnv(t, nil)
	conn := env.dial(t, "7")

	if err := conn.WriteJSON(Message{Type: "ping"}); err != nil {
		t.Fatalf("sending ping: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "pong" {
		t.Errorf("type = %q, want pong", msg.Type)
	}
}

func TestDeadSubscriberIsPruned(t *testing.T) {
	env := newWSEnv(t, nil)
	conn := env.dial(t, "7")

	waitFor(t, func() bool { return env.hub.SubscriberCount(7) == 1 })

	_ = conn.Close()

	// Writes to the dead connection eventually fail and unsubscribe it.
	waitFor(t, func() bool {
		env.hub.SendToUser(7, []byte(`{"type":"account_update"}`))
		return env.hub.SubscriberCount(7) == 0
	})
}

func TestOriginFiltering(t *testing.T) {
	env := newWSEnv(t, []string{"https://app.example.com"})
	url := strings.Replace(env.server.URL, "http://", "ws://", 1) + "/ws/7"

	headers := map[string][]string{"Origin": {"https://evil.example.com"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, headers)
	if err == nil {
		conn.Close()
		t.Fatal("disallowed origin must be rejected")
	}

	headers = map[string][]string{"Origin": {"https://app.example.com"}}
	conn, _, err = websocket.DefaultDialer.Dial(url, headers)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

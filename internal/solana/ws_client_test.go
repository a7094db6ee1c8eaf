package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeNode is a minimal logsSubscribe endpoint. Every subscription gets an
// increasing id; each subscribe is answered with one notification naming the
// first mentioned account.
type fakeNode struct {
	mu       sync.Mutex
	methods  []string
	mentions [][]string
	nextSub  int64
}

func (n *fakeNode) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(msg, &req); err != nil {
				t.Errorf("unmarshal request: %v", err)
				return
			}

			n.mu.Lock()
			n.methods = append(n.methods, req.Method)
			n.mu.Unlock()

			switch req.Method {
			case "logsSubscribe":
				var filter struct {
					Mentions []string `json:"mentions"`
				}
				if len(req.Params) > 0 {
					_ = json.Unmarshal(req.Params[0], &filter)
				}
				n.mu.Lock()
				n.nextSub++
				subID := n.nextSub
				n.mentions = append(n.mentions, filter.Mentions)
				n.mu.Unlock()

				c.WriteJSON(wsSubscribeResponse{JSONRPC: "2.0", ID: req.ID, Result: subID})
				sig := "sig-all"
				if len(filter.Mentions) > 0 {
					sig = "sig-" + filter.Mentions[0]
				}
				c.WriteJSON(wsNotification{
					JSONRPC: "2.0",
					Method:  "logsNotification",
					Params: &wsNotificationParams{
						Subscription: subID,
						Result: wsNotificationResult{
							Context: &wsContext{Slot: 100},
							Value:   wsLogsValue{Signature: sig, Logs: []string{"Program log: Instruction: Swap"}},
						},
					},
				})
			case "logsUnsubscribe":
				c.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": true})
			}
		}
	}
}

func (n *fakeNode) calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.methods...)
}

func startNode(t *testing.T) (*fakeNode, string) {
	t.Helper()
	node := &fakeNode{}
	server := httptest.NewServer(node.handler(t))
	t.Cleanup(server.Close)
	return node, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWSClient_SubscribeLogs(t *testing.T) {
	node, url := startNode(t)

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"walletA"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}

	select {
	case notif := <-ch:
		if notif.Signature != "sig-walletA" {
			t.Errorf("expected sig-walletA, got %s", notif.Signature)
		}
		if notif.Slot != 100 {
			t.Errorf("expected slot 100, got %d", notif.Slot)
		}
		if len(notif.Logs) != 1 {
			t.Errorf("expected 1 log, got %d", len(notif.Logs))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}

	node.mu.Lock()
	mentions := node.mentions
	node.mu.Unlock()
	if len(mentions) != 1 || len(mentions[0]) != 1 || mentions[0][0] != "walletA" {
		t.Errorf("unexpected mentions sent: %v", mentions)
	}
}

func TestWSClient_Unsubscribe(t *testing.T) {
	node, url := startNode(t)

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"walletB"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	<-ch

	if err := client.Unsubscribe(ctx, ch); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if err := client.Unsubscribe(ctx, ch); err == nil {
		t.Error("second Unsubscribe should fail")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := node.calls()
		if len(calls) == 2 && calls[1] == "logsUnsubscribe" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	calls := node.calls()
	if len(calls) != 2 || calls[1] != "logsUnsubscribe" {
		t.Errorf("expected subscribe then unsubscribe, got %v", calls)
	}

	client.activeFiltersMu.RLock()
	remaining := len(client.activeFilters)
	client.activeFiltersMu.RUnlock()
	if remaining != 0 {
		t.Errorf("expected no active filters, got %d", remaining)
	}
}

func TestWSClient_CloseClosesChannels(t *testing.T) {
	_, url := startNode(t)

	ctx := context.Background()
	client, err := NewWSClient(ctx, url, nil)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	ch, err := client.SubscribeLogs(ctx, LogsFilter{Mentions: []string{"walletC"}})
	if err != nil {
		t.Fatalf("SubscribeLogs: %v", err)
	}
	<-ch

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !client.closed.Load() {
		t.Error("client should be closed")
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after Close")
	}
	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
	if _, err := client.SubscribeLogs(ctx, LogsFilter{}); err == nil {
		t.Error("expected error subscribing after close")
	}
}

func TestWSClient_ConfigDefaults(t *testing.T) {
	_, url := startNode(t)

	config := &WSClientConfig{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	client, err := NewWSClient(context.Background(), url, config)
	if err != nil {
		t.Fatalf("NewWSClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
	if client.config.SubscribeTimeout != DefaultWSConfig().SubscribeTimeout {
		t.Errorf("expected default SubscribeTimeout, got %v", client.config.SubscribeTimeout)
	}
	if client.config.BufferSize != DefaultWSConfig().BufferSize || client.config.Logger == nil {
		t.Error("expected buffer size and logger defaults")
	}
}

package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/solana"
	"alpha-mirror/internal/solana/stub"
)

type fakeWS struct {
	mu           sync.Mutex
	subs         map[string]chan solana.LogNotification
	unsubscribed []string
}

func newFakeWS() *fakeWS {
	return &fakeWS{subs: make(map[string]chan solana.LogNotification)}
}

func (f *fakeWS) SubscribeLogs(_ context.Context, filter solana.LogsFilter) (<-chan solana.LogNotification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan solana.LogNotification, 10)
	f.subs[filter.Mentions[0]] = ch
	return ch, nil
}

func (f *fakeWS) Unsubscribe(_ context.Context, ch <-chan solana.LogNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for wallet, c := range f.subs {
		if (<-chan solana.LogNotification)(c) == ch {
			delete(f.subs, wallet)
			f.unsubscribed = append(f.unsubscribed, wallet)
		}
	}
	return nil
}

func (f *fakeWS) Close() error { return nil }

func (f *fakeWS) send(wallet, sig string) {
	f.mu.Lock()
	ch := f.subs[wallet]
	f.mu.Unlock()
	ch <- solana.LogNotification{Signature: sig}
}

func (f *fakeWS) subscribed(wallet string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.subs[wallet]
	return ok
}

type wallets struct {
	mu                sync.Mutex
	active, candidate []string
}

func (w *wallets) Active() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.active...)
}

func (w *wallets) Candidates() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.candidate...)
}

type received struct {
	mu   sync.Mutex
	sigs []string
}

func (r *received) HandleTransaction(_ context.Context, _ string, tx *solana.Transaction) {
	r.mu.Lock()
	r.sigs = append(r.sigs, tx.Signature)
	r.mu.Unlock()
}

func (r *received) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sigs...)
}

func testConfig() config.Watcher {
	cfg := config.Default().Watcher
	cfg.FetchAttempts = 2
	cfg.FetchBackoff = time.Millisecond
	return cfg
}

func newWatcher(rpc solana.RPCClient, ws solana.WSClient, wl *wallets, h Handler) *Watcher {
	return New(Options{Config: testConfig(), RPC: rpc, WS: ws, Wallets: wl, Handler: h})
}

func TestRefresh_SubscribesAndUnsubscribes(t *testing.T) {
	ws := newFakeWS()
	wl := &wallets{active: []string{"a1"}, candidate: []string{"c1"}}
	w := newWatcher(stub.NewRPCClient(), ws, wl, &received{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Refresh(ctx)
	assert.Equal(t, 2, w.Subscribed())
	assert.True(t, ws.subscribed("a1"))
	assert.True(t, ws.subscribed("c1"))

	wl.mu.Lock()
	wl.candidate = nil
	wl.mu.Unlock()
	w.Refresh(ctx)

	assert.Equal(t, 1, w.Subscribed())
	assert.Equal(t, []string{"c1"}, ws.unsubscribed)
}

func TestNotification_DedupedAcrossDeliveries(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddTransaction(&solana.Transaction{Signature: "s1"})
	ws := newFakeWS()
	h := &received{}
	w := newWatcher(rpc, ws, &wallets{active: []string{"a1"}}, h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Refresh(ctx)
	ws.send("a1", "s1")
	ws.send("a1", "s1")
	require.Eventually(t, func() bool { return len(h.list()) == 1 }, time.Second, 2*time.Millisecond)

	// The poll path sees the same signature.
	w.Process(ctx, "a1", "s1")
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []string{"s1"}, h.list())
}

func TestPoll_BaselineThenNewSignatures(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddSignatures("a1", solana.SignatureInfo{Signature: "old"})
	h := &received{}
	w := newWatcher(rpc, nil, &wallets{active: []string{"a1"}}, h)
	ctx := context.Background()

	w.Poll(ctx)
	assert.Empty(t, h.list(), "first poll only records the cursor")

	rpc.AddTransaction(&solana.Transaction{Signature: "new1"})
	rpc.AddTransaction(&solana.Transaction{Signature: "new2"})
	rpc.AddSignatures("a1",
		solana.SignatureInfo{Signature: "new2"},
		solana.SignatureInfo{Signature: "failed", Err: "custom program error"},
		solana.SignatureInfo{Signature: "new1"},
	)
	w.Poll(ctx)
	assert.Equal(t, []string{"new1", "new2"}, h.list(), "oldest first, failed skipped")

	w.Poll(ctx)
	assert.Len(t, h.list(), 2)
}

func TestProcess_FetchFailureIsRetriedLater(t *testing.T) {
	rpc := stub.NewRPCClient()
	h := &received{}
	w := newWatcher(rpc, nil, &wallets{}, h)
	ctx := context.Background()

	w.Process(ctx, "a1", "late")
	assert.Empty(t, h.list())
	assert.Equal(t, 2, rpc.TransactionCalls())

	rpc.AddTransaction(&solana.Transaction{Signature: "late"})
	w.Process(ctx, "a1", "late")
	assert.Equal(t, []string{"late"}, h.list())
}

func TestRun_StopsOnCancel(t *testing.T) {
	ws := newFakeWS()
	w := newWatcher(stub.NewRPCClient(), ws, &wallets{active: []string{"a1"}}, &received{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, func() bool { return ws.subscribed("a1") }, time.Second, 2*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestSeenSet_EvictsOldest(t *testing.T) {
	s := newSeenSet(2)
	assert.True(t, s.Add("a"))
	assert.True(t, s.Add("b"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Add("c")) // evicts a
	assert.Equal(t, 2, s.Len())
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("c"))

	s.Forget("c")
	assert.True(t, s.Add("c"))
}

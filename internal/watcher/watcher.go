// Package watcher detects transactions of watched wallets. Each watched wallet
// gets a logs subscription; active wallets are also polled as a backstop.
// Both paths feed a shared signature dedup set, so a transaction reaches the
// handler once.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/solana"
)

var errNotAvailable = errors.New("transaction not yet available")

// Wallets lists the addresses to watch.
type Wallets interface {
	Active() []string
	Candidates() []string
}

// Handler receives each confirmed transaction of a watched wallet once.
type Handler interface {
	HandleTransaction(ctx context.Context, wallet string, tx *solana.Transaction)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, wallet string, tx *solana.Transaction)

// HandleTransaction implements Handler.
func (f HandlerFunc) HandleTransaction(ctx context.Context, wallet string, tx *solana.Transaction) {
	f(ctx, wallet, tx)
}

// Options configures a Watcher.
type Options struct {
	Config  config.Watcher
	RPC     solana.RPCClient
	WS      solana.WSClient // optional; nil means poll only
	Wallets Wallets
	Handler Handler
	Logger  logrus.FieldLogger
}

type subscription struct {
	ch     <-chan solana.LogNotification
	cancel context.CancelFunc
}

// Watcher owns the subscriptions and the poll cursor of every watched wallet.
type Watcher struct {
	cfg     config.Watcher
	rpc     solana.RPCClient
	ws      solana.WSClient
	wallets Wallets
	handler Handler
	log     logrus.FieldLogger
	seen    *seenSet

	mu      sync.Mutex
	subs    map[string]*subscription
	cursors map[string]string // wallet -> newest polled signature
	readers sync.WaitGroup
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	w := &Watcher{
		cfg:     opts.Config,
		rpc:     opts.RPC,
		ws:      opts.WS,
		wallets: opts.Wallets,
		handler: opts.Handler,
		log:     opts.Logger,
		seen:    newSeenSet(opts.Config.DedupSize),
		subs:    make(map[string]*subscription),
		cursors: make(map[string]string),
	}
	if w.log == nil {
		w.log = logrus.StandardLogger()
	}
	return w
}

// Run subscribes, refreshes and polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.readers.Wait()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.Refresh(ctx)
		every(ctx, w.log, w.cfg.RefreshInterval, func() { w.Refresh(ctx) })
		return nil
	})
	g.Go(func() error {
		every(ctx, w.log, w.cfg.PollInterval, func() { w.Poll(ctx) })
		return nil
	})
	return g.Wait()
}

// every calls fn on each tick until ctx is done. A panic in fn is logged
// and the loop continues.
func every(ctx context.Context, log logrus.FieldLogger, d time.Duration, fn func()) {
	if d <= 0 {
		return
	}
	ticker := time.NewTicker(d)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.WithField("panic", r).Error("watcher iteration panicked")
					}
				}()
				fn()
			}()
		}
	}
}

// Refresh reconciles subscriptions with the watched set: new wallets are
// subscribed and removed wallets unsubscribed.
func (w *Watcher) Refresh(ctx context.Context) {
	active, candidates := w.wallets.Active(), w.wallets.Candidates()
	observability.UpdateWatchedWallets(len(active), len(candidates))

	wanted := make(map[string]bool, len(active)+len(candidates))
	for _, a := range active {
		wanted[a] = true
	}
	for _, c := range candidates {
		wanted[c] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for wallet, sub := range w.subs {
		if wanted[wallet] {
			continue
		}
		sub.cancel()
		if w.ws != nil {
			if err := w.ws.Unsubscribe(ctx, sub.ch); err != nil {
				w.log.WithError(err).WithField("wallet", wallet).Warn("unsubscribe failed")
			}
		}
		delete(w.subs, wallet)
		delete(w.cursors, wallet)
		w.log.WithField("wallet", wallet).Info("stopped watching wallet")
	}

	if w.ws == nil {
		return
	}
	for wallet := range wanted {
		if _, ok := w.subs[wallet]; ok {
			continue
		}
		ch, err := w.ws.SubscribeLogs(ctx, solana.LogsFilter{Mentions: []string{wallet}})
		if err != nil {
			// Retried on the next refresh.
			w.log.WithError(err).WithField("wallet", wallet).Warn("subscribe failed")
			continue
		}
		subCtx, cancel := context.WithCancel(ctx)
		w.subs[wallet] = &subscription{ch: ch, cancel: cancel}
		w.readers.Add(1)
		go func(wallet string) {
			defer w.readers.Done()
			w.read(subCtx, wallet, ch)
		}(wallet)
		w.log.WithField("wallet", wallet).Info("watching wallet")
	}
}

// Subscribed returns the number of live subscriptions.
func (w *Watcher) Subscribed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func (w *Watcher) read(ctx context.Context, wallet string, ch <-chan solana.LogNotification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-ch:
			if !ok {
				w.mu.Lock()
				if sub, exists := w.subs[wallet]; exists && sub.ch == ch {
					delete(w.subs, wallet)
				}
				w.mu.Unlock()
				return
			}
			observability.RecordNotification()
			if n.Err != nil || n.Signature == "" {
				continue
			}
			w.Process(ctx, wallet, n.Signature)
		}
	}
}

// Poll fetches recent signatures of every active wallet. The first poll of a
// wallet only sets its cursor.
func (w *Watcher) Poll(ctx context.Context) {
	for _, wallet := range w.wallets.Active() {
		if ctx.Err() != nil {
			return
		}
		w.pollWallet(ctx, wallet)
	}
}

func (w *Watcher) pollWallet(ctx context.Context, wallet string) {
	w.mu.Lock()
	cursor, known := w.cursors[wallet]
	w.mu.Unlock()

	sigs, err := w.rpc.GetSignaturesForAddress(ctx, wallet, &solana.SignaturesOpts{
		Limit: w.cfg.PollLimit,
		Until: cursor,
	})
	if err != nil {
		w.log.WithError(err).WithField("wallet", wallet).Warn("poll failed")
		return
	}
	observability.RecordPolled(len(sigs))
	if len(sigs) == 0 {
		if !known {
			w.setCursor(wallet, "")
		}
		return
	}
	w.setCursor(wallet, sigs[0].Signature)
	if !known {
		for _, s := range sigs {
			w.seen.Add(s.Signature)
		}
		return
	}
	for i, s := range sigs {
		if s.Signature == cursor {
			sigs = sigs[:i]
			break
		}
	}

	// Oldest first.
	for i := len(sigs) - 1; i >= 0; i-- {
		s := sigs[i]
		if s.Err != nil {
			w.seen.Add(s.Signature)
			continue
		}
		w.Process(ctx, wallet, s.Signature)
	}
}

func (w *Watcher) setCursor(wallet, sig string) {
	w.mu.Lock()
	w.cursors[wallet] = sig
	w.mu.Unlock()
}

// Process fetches the transaction behind sig and hands it over, unless the
// signature was already processed.
func (w *Watcher) Process(ctx context.Context, wallet, sig string) {
	if !w.seen.Add(sig) {
		observability.RecordDeduped()
		return
	}
	tx, err := w.fetch(ctx, sig)
	if err != nil {
		observability.RecordFetchFailure()
		w.seen.Forget(sig)
		w.log.WithError(err).WithFields(logrus.Fields{"wallet": wallet, "sig": sig}).Warn("transaction fetch failed")
		return
	}
	w.handler.HandleTransaction(ctx, wallet, tx)
}

func (w *Watcher) fetch(ctx context.Context, sig string) (*solana.Transaction, error) {
	attempts := w.cfg.FetchAttempts
	if attempts < 1 {
		attempts = 1
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = w.cfg.FetchBackoff
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	tx, err := backoff.RetryWithData(func() (*solana.Transaction, error) {
		tx, err := w.rpc.GetTransaction(ctx, sig)
		if err != nil {
			return nil, err
		}
		if tx == nil {
			return nil, errNotAvailable
		}
		return tx, nil
	}, policy)
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", sig, err)
	}
	return tx, nil
}

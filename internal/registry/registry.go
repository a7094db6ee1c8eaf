// Package registry keeps the set of watched alpha wallets, their credibility
// scores, and the candidate → active promotion rules.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/clock"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/solana"
	"alpha-mirror/internal/storage/file"
)

// PromotionDebounce suppresses a second promotion of the same address.
const PromotionDebounce = 60 * time.Second

// ErrInvalidAddress is returned when an address is not a base58 public key.
var ErrInvalidAddress = errors.New("registry: invalid address")

// Score tracks signal activity of one address. Timestamps are unix ms.
type Score struct {
	Signals        int   `json:"signals"`
	LastSeen       int64 `json:"lastSeen"`
	LastPromotedAt int64 `json:"lastPromotedAt"`
}

// Document is the persisted registry.
type Document struct {
	Active     []string         `json:"active"`
	Candidates []string         `json:"candidates"`
	Scores     map[string]Score `json:"scores"`
}

func (d Document) clone() Document {
	c := Document{
		Active:     append([]string(nil), d.Active...),
		Candidates: append([]string(nil), d.Candidates...),
		Scores:     make(map[string]Score, len(d.Scores)),
	}
	for k, v := range d.Scores {
		c.Scores[k] = v
	}
	return c
}

// Options configures a Registry.
type Options struct {
	// Path of the JSON document. Empty keeps the registry in memory only.
	Path   string
	Clock  clock.Clock
	Logger logrus.FieldLogger
}

// Registry is the alpha wallet store. All methods are safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	path  string
	doc   Document
	clock clock.Clock
	log   logrus.FieldLogger
}

// Open loads the registry from opts.Path, repairing and re-persisting it when
// the stored document violates an invariant.
func Open(opts Options) (*Registry, error) {
	r := &Registry{
		path:  opts.Path,
		clock: opts.Clock,
		log:   opts.Logger,
		doc:   Document{Scores: map[string]Score{}},
	}
	if r.clock == nil {
		r.clock = clock.Real{}
	}
	if r.log == nil {
		r.log = logrus.StandardLogger()
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the document from disk and normalizes it.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.path == "" {
		doc, _ := Normalize(r.doc)
		r.doc = doc
		return nil
	}

	var raw Document
	if _, err := file.ReadJSON(r.path, &raw); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	doc, changed := Normalize(raw)
	if changed {
		r.log.WithField("path", r.path).Warn("registry repaired on load")
		if err := file.WriteJSON(r.path, doc); err != nil {
			return fmt.Errorf("persist repaired registry: %w", err)
		}
	}
	r.doc = doc
	return nil
}

// Normalize deduplicates both sets, drops empty entries, and evicts any
// address present in both sets from the candidates. It reports whether the
// result differs from d.
func Normalize(d Document) (Document, bool) {
	changed := false
	seen := make(map[string]bool, len(d.Active))

	active := make([]string, 0, len(d.Active))
	for _, a := range d.Active {
		if a == "" || seen[a] {
			changed = true
			continue
		}
		seen[a] = true
		active = append(active, a)
	}

	candidates := make([]string, 0, len(d.Candidates))
	for _, a := range d.Candidates {
		if a == "" || seen[a] {
			changed = true
			continue
		}
		seen[a] = true
		candidates = append(candidates, a)
	}

	scores := make(map[string]Score, len(d.Scores))
	for k, v := range d.Scores {
		scores[k] = v
	}

	return Document{Active: active, Candidates: candidates, Scores: scores}, changed
}

// commit persists next and makes it current. The in-memory document is left
// untouched when the write fails.
func (r *Registry) commit(next Document) error {
	if r.path != "" {
		if err := file.WriteJSON(r.path, next); err != nil {
			return fmt.Errorf("persist registry: %w", err)
		}
	}
	r.doc = next
	return nil
}

func validate(addr string) error {
	if err := solana.ValidateAddress(addr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	return nil
}

func (r *Registry) warnOffCurve(addr string) {
	if !solana.IsOnCurve(addr) {
		r.log.WithField("wallet", addr).Warn("address is off-curve, probably a program account")
	}
}

func indexOf(list []string, addr string) int {
	for i, a := range list {
		if a == addr {
			return i
		}
	}
	return -1
}

func without(list []string, addr string) []string {
	out := list[:0:0]
	for _, a := range list {
		if a != addr {
			out = append(out, a)
		}
	}
	return out
}

func (r *Registry) roleLocked(addr string) domain.WalletRole {
	switch {
	case indexOf(r.doc.Active, addr) >= 0:
		return domain.RoleActive
	case indexOf(r.doc.Candidates, addr) >= 0:
		return domain.RoleCandidate
	}
	return domain.RoleNone
}

// AddCandidate starts scoring addr. It reports false when addr is already
// watched in either role.
func (r *Registry) AddCandidate(addr string) (bool, error) {
	if err := validate(addr); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roleLocked(addr) != domain.RoleNone {
		return false, nil
	}
	r.warnOffCurve(addr)

	next := r.doc.clone()
	next.Candidates = append(next.Candidates, addr)
	if err := r.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// AddActive watches addr as an active wallet, removing it from the candidates.
// It reports false when addr is already active.
func (r *Registry) AddActive(addr string) (bool, error) {
	if err := validate(addr); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(addr, false)
}

// Promote is a manual promotion that bypasses scoring.
func (r *Registry) Promote(addr string) (bool, error) {
	if err := validate(addr); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activateLocked(addr, true)
}

func (r *Registry) activateLocked(addr string, stamp bool) (bool, error) {
	if r.roleLocked(addr) == domain.RoleActive {
		return false, nil
	}
	r.warnOffCurve(addr)

	next := r.doc.clone()
	next.Candidates = without(next.Candidates, addr)
	next.Active = append(next.Active, addr)
	if stamp {
		s := next.Scores[addr]
		s.LastPromotedAt = r.clock.Now().UnixMilli()
		next.Scores[addr] = s
	}
	if err := r.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// Remove stops watching addr in either role and forgets its signals. The last
// promotion time is kept so a re-added wallet still honours the debounce.
func (r *Registry) Remove(addr string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roleLocked(addr) == domain.RoleNone {
		return false, nil
	}
	next := r.doc.clone()
	next.Active = without(next.Active, addr)
	next.Candidates = without(next.Candidates, addr)
	if s := next.Scores[addr]; s.LastPromotedAt > 0 {
		next.Scores[addr] = Score{LastPromotedAt: s.LastPromotedAt}
	} else {
		delete(next.Scores, addr)
	}
	if err := r.commit(next); err != nil {
		return false, err
	}
	return true, nil
}

// BumpScore records one signal from addr. A score whose last signal is older
// than window restarts from zero.
func (r *Registry) BumpScore(addr string, window time.Duration) (Score, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now().UnixMilli()
	next := r.doc.clone()
	s := next.Scores[addr]
	if s.LastSeen > 0 && window > 0 && now-s.LastSeen > window.Milliseconds() {
		s.Signals = 0
	}
	s.Signals++
	s.LastSeen = now
	next.Scores[addr] = s
	if err := r.commit(next); err != nil {
		return s, err
	}
	return s, nil
}

// MaybePromote promotes a candidate whose score reached threshold within
// window. A stale score is reset to zero instead. It is a no-op for active
// addresses and within PromotionDebounce of the previous promotion.
func (r *Registry) MaybePromote(addr string, threshold int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.roleLocked(addr) != domain.RoleCandidate {
		return false, nil
	}
	now := r.clock.Now().UnixMilli()
	s := r.doc.Scores[addr]

	if s.LastPromotedAt > 0 && now-s.LastPromotedAt < PromotionDebounce.Milliseconds() {
		return false, nil
	}

	if s.LastSeen > 0 && window > 0 && now-s.LastSeen > window.Milliseconds() {
		if s.Signals == 0 {
			return false, nil
		}
		next := r.doc.clone()
		s.Signals = 0
		next.Scores[addr] = s
		return false, r.commit(next)
	}

	if s.Signals < threshold {
		return false, nil
	}

	next := r.doc.clone()
	next.Candidates = without(next.Candidates, addr)
	next.Active = append(next.Active, addr)
	s.LastPromotedAt = now
	next.Scores[addr] = s
	if err := r.commit(next); err != nil {
		return false, err
	}
	r.log.WithFields(logrus.Fields{"wallet": addr, "signals": s.Signals}).Info("candidate promoted")
	return true, nil
}

// Role returns the membership of addr.
func (r *Registry) Role(addr string) domain.WalletRole {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roleLocked(addr)
}

// Active returns a copy of the active addresses.
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.doc.Active...)
}

// Candidates returns a copy of the candidate addresses.
func (r *Registry) Candidates() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.doc.Candidates...)
}

// Watched returns every address in either role.
func (r *Registry) Watched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.doc.Active)+len(r.doc.Candidates))
	out = append(out, r.doc.Active...)
	return append(out, r.doc.Candidates...)
}

// List returns every watched wallet, active first, each group sorted by address.
func (r *Registry) List() []domain.AlphaWallet {
	r.mu.Lock()
	defer r.mu.Unlock()

	build := func(addrs []string, role domain.WalletRole) []domain.AlphaWallet {
		out := make([]domain.AlphaWallet, 0, len(addrs))
		for _, a := range addrs {
			s := r.doc.Scores[a]
			w := domain.AlphaWallet{Address: a, Role: role, Signals: s.Signals}
			if s.LastSeen > 0 {
				w.LastSignalAt = time.UnixMilli(s.LastSeen)
			}
			if s.LastPromotedAt > 0 {
				w.LastPromotedAt = time.UnixMilli(s.LastPromotedAt)
			}
			out = append(out, w)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
		return out
	}

	return append(build(r.doc.Active, domain.RoleActive), build(r.doc.Candidates, domain.RoleCandidate)...)
}

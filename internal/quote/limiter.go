package quote

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alpha-mirror/internal/clock"
)

// Severity selects the cooldown multiplier applied by Penalize.
type Severity int

const (
	// SeverityRateLimit is a provider 429.
	SeverityRateLimit Severity = 1
	// SeverityBadRequest is a provider 400.
	SeverityBadRequest Severity = 3
)

// maxIdleKeys bounds the per-key limiter map before idle keys are pruned.
const maxIdleKeys = 1024

type keyState struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

type cooldown struct {
	until   time.Time
	strikes int
}

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	MinSpacing   time.Duration
	GlobalCap    int
	GlobalWindow time.Duration
	CooldownBase time.Duration
	CooldownMax  time.Duration
	Clock        clock.Clock
}

// Limiter enforces per-key spacing, a global sliding-window call cap and
// per-key cooldowns. It never blocks: a call that may not proceed is refused.
type Limiter struct {
	mu  sync.Mutex
	cfg LimiterConfig

	keys      map[string]*keyState
	calls     []time.Time
	cooldowns map[string]cooldown
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.CooldownMax < cfg.CooldownBase {
		cfg.CooldownMax = cfg.CooldownBase
	}
	return &Limiter{
		cfg:       cfg,
		keys:      make(map[string]*keyState),
		cooldowns: make(map[string]cooldown),
	}
}

// Allow reserves one call for key. It returns ErrCoolingDown or
// ErrRateLimited when the call must not be made.
func (l *Limiter) Allow(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Clock.Now()

	if cd, ok := l.cooldowns[key]; ok && now.Before(cd.until) {
		return ErrCoolingDown
	}

	if l.cfg.GlobalCap > 0 && l.cfg.GlobalWindow > 0 {
		cutoff := now.Add(-l.cfg.GlobalWindow)
		i := 0
		for i < len(l.calls) && !l.calls[i].After(cutoff) {
			i++
		}
		l.calls = l.calls[i:]
		if len(l.calls) >= l.cfg.GlobalCap {
			return ErrRateLimited
		}
	}

	if l.cfg.MinSpacing > 0 {
		ks, ok := l.keys[key]
		if !ok {
			if len(l.keys) >= maxIdleKeys {
				l.pruneLocked(now)
			}
			ks = &keyState{limiter: rate.NewLimiter(rate.Every(l.cfg.MinSpacing), 1)}
			l.keys[key] = ks
		}
		if !ks.limiter.AllowN(now, 1) {
			return ErrRateLimited
		}
		ks.lastUsed = now
	}

	l.calls = append(l.calls, now)
	return nil
}

func (l *Limiter) pruneLocked(now time.Time) {
	for k, ks := range l.keys {
		if now.Sub(ks.lastUsed) > l.cfg.MinSpacing {
			delete(l.keys, k)
		}
	}
}

// Penalize starts or extends the cooldown of key. Repeated penalties double
// the duration up to CooldownMax. Strikes are forgotten once a key has been
// quiet for CooldownMax after its last cooldown ended.
func (l *Limiter) Penalize(key string, sev Severity) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Clock.Now()
	cd := l.cooldowns[key]
	if !cd.until.IsZero() && now.Sub(cd.until) > l.cfg.CooldownMax {
		cd.strikes = 0
	}
	cd.strikes++

	d := l.cfg.CooldownBase * time.Duration(sev)
	for i := 1; i < cd.strikes && d < l.cfg.CooldownMax; i++ {
		d *= 2
	}
	if d > l.cfg.CooldownMax {
		d = l.cfg.CooldownMax
	}
	cd.until = now.Add(d)
	l.cooldowns[key] = cd
	return d
}

// CoolingDown reports whether key is in a cooldown.
func (l *Limiter) CoolingDown(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cd, ok := l.cooldowns[key]
	return ok && l.cfg.Clock.Now().Before(cd.until)
}

// Package config loads the mirror's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Classifier thresholds for turning a transaction into buy signals.
type Classifier struct {
	MinSpendSOL      float64 `yaml:"min_spend_sol"`
	MinTokenBalance  float64 `yaml:"min_token_balance"`
	MinIncreaseRatio float64 `yaml:"min_increase_ratio"`
}

// LiquidityTier scales the base size once liquidity reaches MinUSD.
type LiquidityTier struct {
	MinUSD float64 `yaml:"min_usd"`
	Factor float64 `yaml:"factor"`
}

// Admission holds guard thresholds and sizing parameters.
type Admission struct {
	MaxSignalAge           time.Duration   `yaml:"max_signal_age"`
	MinLiquidityUSD        float64         `yaml:"min_liquidity_usd"`
	AllowActiveAuthorities bool            `yaml:"allow_active_authorities"`
	MaxRoundTripTax        float64         `yaml:"max_round_trip_tax"`
	MaxPriceImpact         float64         `yaml:"max_price_impact"`
	MaxPriceMultiplier     float64         `yaml:"max_price_multiplier"`
	SlippageBps            int             `yaml:"slippage_bps"`
	BaseSizeSOL            float64         `yaml:"base_size_sol"`
	MinSizeSOL             float64         `yaml:"min_size_sol"`
	MaxSizeSOL             float64         `yaml:"max_size_sol"`
	WalletFactorMin        float64         `yaml:"wallet_factor_min"`
	WalletFactorMax        float64         `yaml:"wallet_factor_max"`
	FreshnessDecay         float64         `yaml:"freshness_decay"`
	DeferredPenalty        float64         `yaml:"deferred_penalty"`
	LiquidityTiers         []LiquidityTier `yaml:"liquidity_tiers"`
}

// Exit configures the per-position exit state machine.
type Exit struct {
	PollInterval        time.Duration `yaml:"poll_interval"`
	FastPollInterval    time.Duration `yaml:"fast_poll_interval"`
	FastPollDrawdown    float64       `yaml:"fast_poll_drawdown"`
	EarlyTakeProfitPct  float64       `yaml:"early_take_profit_pct"`
	PartialSellFraction float64       `yaml:"partial_sell_fraction"`
	TrailPct            float64       `yaml:"trail_pct"`
	MaxLossPct          float64       `yaml:"max_loss_pct"`
	DeadTokenFailures   int           `yaml:"dead_token_failures"`
	MaxPriceJump        float64       `yaml:"max_price_jump"`
	Milestones          []float64     `yaml:"milestones"`
	SentryWindow        time.Duration `yaml:"sentry_window"`
	SentryInterval      time.Duration `yaml:"sentry_interval"`
	SentryDrawdown      float64       `yaml:"sentry_drawdown"`
}

// Registry configures wallet scoring and promotion.
type Registry struct {
	PromoteThreshold int           `yaml:"promote_threshold"`
	PromoteWindow    time.Duration `yaml:"promote_window"`
}

// Watchlist configures the deferred admission queue.
type Watchlist struct {
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	RecheckInterval time.Duration `yaml:"recheck_interval"`
	MaxAge          time.Duration `yaml:"max_age"`
	DeadPairAge     time.Duration `yaml:"dead_pair_age"`
	MinVolume24hUSD float64       `yaml:"min_volume_24h_usd"`
}

// Quote configures the rate-limited quote client.
type Quote struct {
	Endpoints    []string      `yaml:"endpoints"`
	MinSpacing   time.Duration `yaml:"min_spacing"`
	GlobalCap    int           `yaml:"global_cap"`
	GlobalWindow time.Duration `yaml:"global_window"`
	Rounds       int           `yaml:"rounds"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	Timeout      time.Duration `yaml:"timeout"`
	CooldownBase time.Duration `yaml:"cooldown_base"`
	CooldownMax  time.Duration `yaml:"cooldown_max"`
}

// Liquidity configures the cached liquidity lookup.
type Liquidity struct {
	PrimaryURL   string        `yaml:"primary_url"`
	SecondaryURL string        `yaml:"secondary_url"`
	SecondaryKey string        `yaml:"secondary_api_key"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Watcher configures wallet activity detection.
type Watcher struct {
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollLimit         int           `yaml:"poll_limit"`
	RefreshInterval   time.Duration `yaml:"refresh_interval"`
	DedupSize         int           `yaml:"dedup_size"`
	FetchAttempts     int           `yaml:"fetch_attempts"`
	FetchBackoff      time.Duration `yaml:"fetch_backoff"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// Notify configures outbound notifications.
type Notify struct {
	WebhookURL string  `yaml:"webhook_url"`
	RatePerSec float64 `yaml:"rate_per_sec"`
	Burst      int     `yaml:"burst"`
	QueueSize  int     `yaml:"queue_size"`
}

// Execution configures the live swap service.
type Execution struct {
	SwapURL string        `yaml:"swap_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Storage selects persistence backends.
type Storage struct {
	DataDir       string `yaml:"data_dir"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickHouseDSN string `yaml:"clickhouse_dsn"`
}

// Root is the whole configuration file.
type Root struct {
	Mode       string     `yaml:"mode"` // paper | live
	RPCURL     string     `yaml:"rpc_url"`
	WSURL      string     `yaml:"ws_url"`
	HTTPAddr   string     `yaml:"http_addr"`
	LogLevel   string     `yaml:"log_level"`
	LogFormat  string     `yaml:"log_format"` // text | json
	Classifier Classifier `yaml:"classifier"`
	Admission  Admission  `yaml:"admission"`
	Exit       Exit       `yaml:"exit"`
	Registry   Registry   `yaml:"registry"`
	Watchlist  Watchlist  `yaml:"watchlist"`
	Quote      Quote      `yaml:"quote"`
	Liquidity  Liquidity  `yaml:"liquidity"`
	Watcher    Watcher    `yaml:"watcher"`
	Notify     Notify     `yaml:"notify"`
	Execution  Execution  `yaml:"execution"`
	Storage    Storage    `yaml:"storage"`
}

// Load decodes path over the defaults, so omitted keys keep their default and
// explicit zeros are kept. A missing file yields the defaults.
func Load(path string) (Root, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return c, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(b, &c); err != nil {
				return c, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	return c, c.Validate()
}

// Default returns a configuration with every default applied.
func Default() Root {
	var c Root
	c.ApplyDefaults()
	return c
}

func setDur(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

func setFloat(f *float64, def float64) {
	if *f == 0 {
		*f = def
	}
}

func setInt(i *int, def int) {
	if *i == 0 {
		*i = def
	}
}

// ApplyDefaults fills zero values.
func (c *Root) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "paper"
	}
	if c.RPCURL == "" {
		c.RPCURL = "https://api.mainnet-beta.solana.com"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}

	cl := &c.Classifier
	setFloat(&cl.MinSpendSOL, 0.001)
	setFloat(&cl.MinTokenBalance, 1)
	setFloat(&cl.MinIncreaseRatio, 0.25)

	a := &c.Admission
	setDur(&a.MaxSignalAge, 60*time.Second)
	setFloat(&a.MinLiquidityUSD, 10_000)
	setFloat(&a.MaxRoundTripTax, 0.10)
	setFloat(&a.MaxPriceImpact, 0.15)
	setFloat(&a.MaxPriceMultiplier, 2.0)
	setInt(&a.SlippageBps, 300)
	setFloat(&a.BaseSizeSOL, 0.05)
	setFloat(&a.MinSizeSOL, 0.01)
	setFloat(&a.MaxSizeSOL, 0.2)
	setFloat(&a.WalletFactorMin, 0.5)
	setFloat(&a.WalletFactorMax, 2.0)
	setFloat(&a.FreshnessDecay, 0.5)
	setFloat(&a.DeferredPenalty, 0.5)
	if len(a.LiquidityTiers) == 0 {
		a.LiquidityTiers = []LiquidityTier{
			{MinUSD: 0, Factor: 0.5},
			{MinUSD: 50_000, Factor: 1.0},
			{MinUSD: 250_000, Factor: 1.5},
		}
	}

	e := &c.Exit
	setDur(&e.PollInterval, 5*time.Second)
	setDur(&e.FastPollInterval, 2*time.Second)
	setFloat(&e.FastPollDrawdown, 0.15)
	setFloat(&e.EarlyTakeProfitPct, 0.30)
	setFloat(&e.TrailPct, 0.20)
	setFloat(&e.MaxLossPct, 0.40)
	setInt(&e.DeadTokenFailures, 12)
	setFloat(&e.MaxPriceJump, 10)
	if len(e.Milestones) == 0 {
		e.Milestones = []float64{2, 5, 10}
	}
	setDur(&e.SentryWindow, 2*time.Minute)
	setDur(&e.SentryInterval, 2*time.Second)
	setFloat(&e.SentryDrawdown, 0.25)

	r := &c.Registry
	setInt(&r.PromoteThreshold, 3)
	setDur(&r.PromoteWindow, 24*time.Hour)

	w := &c.Watchlist
	setDur(&w.SweepInterval, 30*time.Second)
	setDur(&w.RecheckInterval, time.Minute)
	setDur(&w.MaxAge, 30*time.Minute)
	setDur(&w.DeadPairAge, 24*time.Hour)
	setFloat(&w.MinVolume24hUSD, 1_000)

	q := &c.Quote
	if len(q.Endpoints) == 0 {
		q.Endpoints = []string{"https://quote-api.jup.ag/v6", "https://lite-api.jup.ag/swap/v1"}
	}
	setDur(&q.MinSpacing, time.Second)
	setInt(&q.GlobalCap, 60)
	setDur(&q.GlobalWindow, time.Minute)
	setInt(&q.Rounds, 3)
	setDur(&q.BackoffBase, 250*time.Millisecond)
	setDur(&q.BackoffMax, 2*time.Second)
	setDur(&q.Timeout, 5*time.Second)
	setDur(&q.CooldownBase, 10*time.Second)
	setDur(&q.CooldownMax, 5*time.Minute)

	l := &c.Liquidity
	if l.PrimaryURL == "" {
		l.PrimaryURL = "https://api.dexscreener.com/latest/dex/tokens"
	}
	if l.SecondaryURL == "" {
		l.SecondaryURL = "https://public-api.birdeye.so/defi/token_overview"
	}
	setDur(&l.CacheTTL, 30*time.Second)
	setInt(&l.Retries, 2)
	setDur(&l.RetryBackoff, 300*time.Millisecond)
	setDur(&l.Timeout, 5*time.Second)

	wt := &c.Watcher
	setDur(&wt.PollInterval, 15*time.Second)
	setInt(&wt.PollLimit, 10)
	setDur(&wt.RefreshInterval, time.Minute)
	setInt(&wt.DedupSize, 5_000)
	setInt(&wt.FetchAttempts, 3)
	setDur(&wt.FetchBackoff, 500*time.Millisecond)
	setDur(&wt.HeartbeatInterval, 5*time.Minute)

	n := &c.Notify
	setFloat(&n.RatePerSec, 1)
	setInt(&n.Burst, 5)
	setInt(&n.QueueSize, 100)

	setDur(&c.Execution.Timeout, 20*time.Second)

	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Root) Validate() error {
	var errs []error
	if c.Mode != "paper" && c.Mode != "live" {
		errs = append(errs, fmt.Errorf("mode must be paper or live, got %q", c.Mode))
	}
	if c.Mode == "live" && c.Execution.SwapURL == "" {
		errs = append(errs, errors.New("live mode requires execution.swap_url"))
	}
	a := c.Admission
	if a.MinSizeSOL > a.MaxSizeSOL {
		errs = append(errs, fmt.Errorf("admission.min_size_sol %.4f exceeds max_size_sol %.4f", a.MinSizeSOL, a.MaxSizeSOL))
	}
	if a.MaxPriceMultiplier < 1 {
		errs = append(errs, fmt.Errorf("admission.max_price_multiplier must be >= 1"))
	}
	e := c.Exit
	if e.PartialSellFraction < 0 || e.PartialSellFraction >= 1 {
		errs = append(errs, fmt.Errorf("exit.partial_sell_fraction must be in [0,1)"))
	}
	for name, pct := range map[string]float64{
		"exit.trail_pct":       e.TrailPct,
		"exit.max_loss_pct":    e.MaxLossPct,
		"exit.sentry_drawdown": e.SentryDrawdown,
	} {
		if pct <= 0 || pct >= 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1), got %v", name, pct))
		}
	}
	for name, d := range map[string]time.Duration{
		"exit.poll_interval":       e.PollInterval,
		"exit.fast_poll_interval":  e.FastPollInterval,
		"watcher.poll_interval":    c.Watcher.PollInterval,
		"watchlist.sweep_interval": c.Watchlist.SweepInterval,
		"quote.timeout":            c.Quote.Timeout,
		"execution.timeout":        c.Execution.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.Registry.PromoteThreshold < 1 {
		errs = append(errs, errors.New("registry.promote_threshold must be >= 1"))
	}
	return errors.Join(errs...)
}

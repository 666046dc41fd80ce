package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the momentum engine.
type Config struct {
	Kiwoom   Kiwoom   `yaml:"kiwoom"`
	Alpaca   Alpaca   `yaml:"alpaca"`
	Broker   Broker   `yaml:"broker"`
	Client   Client   `yaml:"client"`
	Schedule Schedule `yaml:"schedule"`
	Strategy Strategy `yaml:"strategy"`
	Grid     Grid     `yaml:"grid"`
	Storage  Storage  `yaml:"storage"`
	Logging  Logging  `yaml:"logging"`
}

// Kiwoom holds credentials and endpoints for the Kiwoom REST API.
type Kiwoom struct {
	AppKey     string `yaml:"app_key"`
	SecretKey  string `yaml:"secret_key"`
	AccountNo  string `yaml:"account_no"`
	BaseURL    string `yaml:"base_url"`
	Exchange   string `yaml:"exchange"`    // dmst_stex_tp on orders and balance
	PriceScale int    `yaml:"price_scale"` // 100 for sector charts, 1 for ETFs
	MaxPages   int    `yaml:"max_pages"`
}

// Alpaca holds credentials and endpoints for the optional Alpaca venue.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// Broker selects the execution venue.
type Broker struct {
	Kind          string  `yaml:"kind"` // kiwoom | alpaca | simulator
	SimulatorCash float64 `yaml:"simulator_cash"`
}

// Client tunes the rate-limited HTTP client.
type Client struct {
	MaxRetries      int           `yaml:"max_retries"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	MaxTotalWait    time.Duration `yaml:"max_total_wait"`
	Jitter          float64       `yaml:"jitter"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	TokenTimeout    time.Duration `yaml:"token_timeout"`
	PageDelay       time.Duration `yaml:"page_delay"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
}

// Schedule controls when the engine acts during the session.
type Schedule struct {
	Timezone          string        `yaml:"timezone"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollWindow        time.Duration `yaml:"poll_window"` // how long to keep polling for a missing bar
	BarLag            time.Duration `yaml:"bar_lag"`     // wait after the target minute before fetching
	TestMode          bool          `yaml:"test_mode"`
	Holidays          []string      `yaml:"holidays"` // YYYYMMDD
}

// Strategy enumerates every tunable of the time-gated momentum rule and its
// variants.
type Strategy struct {
	OpenTime           string  `yaml:"open_time"`     // HHMM
	DecisionTime       string  `yaml:"decision_time"` // HHMM
	ExitTime           string  `yaml:"exit_time"`     // HHMM; empty = hold
	EntryThreshold     float64 `yaml:"entry_threshold"`
	AllocationFraction float64 `yaml:"allocation_fraction"`
	FixedInvestAmount  float64 `yaml:"fixed_invest_amount"` // 0 = use allocation_fraction
	CashBuffer         float64 `yaml:"cash_buffer"`
	SignalCode         string  `yaml:"signal_code"`
	LongCode           string  `yaml:"long_code"`
	ShortCode          string  `yaml:"short_code"`
	ExitQuantityPolicy string  `yaml:"exit_quantity_policy"` // entry | holdings
	MaxPositionPct     float64 `yaml:"max_position_pct"`     // 0 = no equity cap

	ForeignFilter ForeignFilter `yaml:"foreign_filter"`
	Residual      Residual      `yaml:"residual"`
}

// ForeignFilter gates entries on the prior session's net foreign flow.
type ForeignFilter struct {
	Enabled    bool    `yaml:"enabled"`
	MinNetFlow float64 `yaml:"min_net_flow"`
	Market     string  `yaml:"market"`      // mrkt_tp
	SectorCode string  `yaml:"sector_code"` // inds_cd prefix, "001" = KOSPI
}

// Residual configures the residual z-score reversion variant.
type Residual struct {
	EntryZ       float64 `yaml:"entry_z"`
	ExitZ        float64 `yaml:"exit_z"`
	StopLossMult float64 `yaml:"stop_loss_mult"`
	VIXQuantile  float64 `yaml:"vix_quantile"`
	FXQuantile   float64 `yaml:"fx_quantile"`
}

// Grid holds defaults for the offline parameter sweep.
type Grid struct {
	BaseTime     string  `yaml:"base_time"`
	AutoBaseTime bool    `yaml:"auto_base_time"`
	EntryMinutes []int   `yaml:"entry_minutes"`
	ExitMinutes  []int   `yaml:"exit_minutes"`
	Cost         float64 `yaml:"cost"`
	Workers      int     `yaml:"workers"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"` // optional; teed with stdout
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Kiwoom base URLs.
const (
	KiwoomMockURL = "https://mockapi.kiwoom.com"
	KiwoomLiveURL = "https://api.kiwoom.com"
)

// Default returns a Config populated with the values used when a key is
// absent from the file.
func Default() *Config {
	return &Config{
		Kiwoom: Kiwoom{
			BaseURL:    KiwoomMockURL,
			Exchange:   "KRX",
			PriceScale: 1,
			MaxPages:   50,
		},
		Alpaca: Alpaca{
			BaseURL: "https://paper-api.alpaca.markets",
			Feed:    "iex",
		},
		Broker: Broker{Kind: "kiwoom"},
		Client: Client{
			MaxRetries:      3,
			BaseDelay:       500 * time.Millisecond,
			MaxDelay:        5 * time.Second,
			MaxTotalWait:    20 * time.Second,
			Jitter:          0.2,
			RequestTimeout:  10 * time.Second,
			TokenTimeout:    10 * time.Second,
			PageDelay:       500 * time.Millisecond,
			RateLimitPerMin: 120,
		},
		Schedule: Schedule{
			Timezone:          "Asia/Seoul",
			HeartbeatInterval: time.Minute,
			PollInterval:      10 * time.Second,
			PollWindow:        3 * time.Minute,
			BarLag:            5 * time.Second,
		},
		Strategy: Strategy{
			OpenTime:           "0900",
			DecisionTime:       "0902",
			ExitTime:           "1000",
			EntryThreshold:     0,
			AllocationFraction: 0.03,
			CashBuffer:         0.98,
			SignalCode:         "069500",
			LongCode:           "069500",
			ShortCode:          "114800",
			ExitQuantityPolicy: "entry",
			ForeignFilter: ForeignFilter{
				Market:     "0",
				SectorCode: "001",
			},
			Residual: Residual{
				EntryZ:       2.15,
				ExitZ:        0.0,
				StopLossMult: 3.3,
				VIXQuantile:  0.94,
				FXQuantile:   0.96,
			},
		},
		Grid: Grid{
			BaseTime:     "0900",
			EntryMinutes: []int{1, 2, 3, 5, 10, 15, 20},
			ExitMinutes:  []int{30, 60, 90, 120, 180, 240, 300, 360},
			Cost:         0.0005,
			Workers:      4,
		},
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/momentum.db",
		},
		Logging: Logging{Level: "info", Format: "json"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Default(), applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KIWOOM_APP_KEY"); v != "" {
		cfg.Kiwoom.AppKey = v
	}
	if v := os.Getenv("KIWOOM_SECRET_KEY"); v != "" {
		cfg.Kiwoom.SecretKey = v
	}
	if v := os.Getenv("KIWOOM_ACCOUNT"); v != "" {
		cfg.Kiwoom.AccountNo = v
	}
	if v := os.Getenv("KIWOOM_BASE_URL"); v != "" {
		cfg.Kiwoom.BaseURL = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MOMENTUM_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.TestMode = b
		}
	}
	if v := os.Getenv("MOMENTUM_BROKER"); v != "" {
		cfg.Broker.Kind = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	for name, v := range map[string]string{
		"strategy.open_time":     c.Strategy.OpenTime,
		"strategy.decision_time": c.Strategy.DecisionTime,
		"grid.base_time":         c.Grid.BaseTime,
	} {
		if !validClock(v) {
			errs = append(errs, fmt.Errorf("%s: %q is not HHMM", name, v))
		}
	}
	if c.Strategy.ExitTime != "" && !validClock(c.Strategy.ExitTime) {
		errs = append(errs, fmt.Errorf("strategy.exit_time: %q is not HHMM", c.Strategy.ExitTime))
	}
	if validClock(c.Strategy.OpenTime) && validClock(c.Strategy.DecisionTime) &&
		c.Strategy.DecisionTime <= c.Strategy.OpenTime {
		errs = append(errs, errors.New("strategy.decision_time must be after open_time"))
	}
	if c.Strategy.ExitTime != "" && c.Strategy.ExitTime <= c.Strategy.DecisionTime {
		errs = append(errs, errors.New("strategy.exit_time must be after decision_time"))
	}
	if c.Strategy.EntryThreshold < 0 {
		errs = append(errs, errors.New("strategy.entry_threshold must be >= 0"))
	}
	if c.Strategy.FixedInvestAmount <= 0 &&
		(c.Strategy.AllocationFraction <= 0 || c.Strategy.AllocationFraction > 1) {
		errs = append(errs, errors.New("strategy.allocation_fraction must be in (0, 1]"))
	}
	if c.Strategy.CashBuffer <= 0 || c.Strategy.CashBuffer > 1 {
		errs = append(errs, errors.New("strategy.cash_buffer must be in (0, 1]"))
	}
	if c.Strategy.LongCode == "" || c.Strategy.ShortCode == "" || c.Strategy.SignalCode == "" {
		errs = append(errs, errors.New("strategy: signal_code, long_code and short_code are required"))
	}
	if c.Strategy.MaxPositionPct < 0 || c.Strategy.MaxPositionPct > 1 {
		errs = append(errs, fmt.Errorf("strategy.max_position_pct: %v outside [0, 1]", c.Strategy.MaxPositionPct))
	}
	switch c.Strategy.ExitQuantityPolicy {
	case "entry", "holdings":
	default:
		errs = append(errs, fmt.Errorf("strategy.exit_quantity_policy: unknown %q", c.Strategy.ExitQuantityPolicy))
	}
	switch strings.ToLower(c.Broker.Kind) {
	case "kiwoom", "alpaca", "simulator":
	default:
		errs = append(errs, fmt.Errorf("broker.kind: unknown %q", c.Broker.Kind))
	}
	if c.Client.MaxRetries < 0 {
		errs = append(errs, errors.New("client.max_retries must be >= 0"))
	}
	if c.Kiwoom.PriceScale <= 0 {
		errs = append(errs, errors.New("kiwoom.price_scale must be > 0"))
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required"))
	}

	return errors.Join(errs...)
}

// Location loads the configured session time zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Schedule.Timezone)
}

func validClock(s string) bool {
	if len(s) != 4 {
		return false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return false
	}
	return n/100 < 24 && n%100 < 60
}

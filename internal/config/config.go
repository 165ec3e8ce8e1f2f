package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"emagrid/internal/search"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for emagrid.
type Config struct {
	Data        Data               `yaml:"data"`
	Strategy    Strategy           `yaml:"strategy"`
	Search      Search             `yaml:"search"`
	Constraints search.Constraints `yaml:"constraints"`
	Harvest     Harvest            `yaml:"harvest"`
	Storage     Storage            `yaml:"storage"`
	Server      Server             `yaml:"server"`
	Logging     Logging            `yaml:"logging"`
	Alpaca      Alpaca             `yaml:"alpaca"`
}

// Data selects the candle input of the optimizer: either a delimited file or
// a stored Parquet bundle.
type Data struct {
	File      string `yaml:"file"`
	Exchange  string `yaml:"exchange"`
	Interval  string `yaml:"interval"`
	Symbol    string `yaml:"symbol"`
	StartYear int    `yaml:"start_year"`
}

// Strategy holds the trading rule parameters.
type Strategy struct {
	Name           string  `yaml:"name"`
	InitialCapital float64 `yaml:"initial_capital"`
	FeePct         float64 `yaml:"fee_pct"`
	Upper          float64 `yaml:"upper"`
	Lower          float64 `yaml:"lower"`
	Stoch          Stoch   `yaml:"stoch_rsi"`
}

// Stoch configures the stochastic RSI oscillator.
type Stoch struct {
	Length    int    `yaml:"length"`
	RSILength int    `yaml:"rsi_length"`
	K         int    `yaml:"k"`
	D         int    `yaml:"d"`
	Line      string `yaml:"line"`
}

// Search configures the parameter grid and the worker pool.
type Search struct {
	Fast          search.Grid   `yaml:"fast"`
	Slow          search.Grid   `yaml:"slow"`
	MinGap        int           `yaml:"min_gap"`
	Workers       int           `yaml:"workers"`
	MaxRuns       int           `yaml:"max_runs"`
	ProgressEvery int           `yaml:"progress_every"`
	Timeout       time.Duration `yaml:"timeout"`
}

// Harvest controls historical candle downloads.
type Harvest struct {
	Source        string        `yaml:"source"`
	BaseURL       string        `yaml:"base_url"`
	Symbols       []string      `yaml:"symbols"`
	Interval      string        `yaml:"interval"`
	StartDate     string        `yaml:"start_date"`
	EndDate       string        `yaml:"end_date"`
	WindowCandles int           `yaml:"window_candles"`
	PadCandles    int           `yaml:"pad_candles"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	RatePerSec    float64       `yaml:"rate_per_sec"`
	Workers       int           `yaml:"workers"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir       string `yaml:"data_dir"`
	ResultsDriver string `yaml:"results_driver"`
	ResultsDSN    string `yaml:"results_dsn"`
}

// Server holds the optional status listeners. Zero or empty disables them.
type Server struct {
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsAddr string `yaml:"metrics_addr"`
	// Linger keeps the enabled listeners up this long after a run finishes,
	// so scrapers and health probes can read the final state.
	Linger time.Duration `yaml:"linger"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Alpaca holds credentials and endpoints for the Alpaca market data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Data: Data{Exchange: "binance", Interval: "1h"},
		Strategy: Strategy{
			Name:           "2-EMA crossover with Stoch RSI",
			InitialCapital: 1000,
			FeePct:         0.07,
			Upper:          0.8,
			Lower:          0.2,
			Stoch:          Stoch{Length: 14, RSILength: 14, K: 3, D: 3, Line: "raw"},
		},
		Search: Search{
			Fast:          search.DefaultGrid(),
			Slow:          search.DefaultGrid(),
			MinGap:        3,
			ProgressEvery: 1000,
		},
		Constraints: search.DefaultConstraints(),
		Harvest: Harvest{
			Source:        "binance",
			BaseURL:       "https://api.binance.com",
			Interval:      "1h",
			StartDate:     "2017-01-01",
			WindowCandles: 900,
			PadCandles:    10,
			MaxAttempts:   5,
			BaseDelay:     2 * time.Second,
			RatePerSec:    10,
			Workers:       2,
		},
		Storage: Storage{
			DataDir:       "data",
			ResultsDriver: "sqlite",
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, loads a .env file from the working directory if present, and
// then applies environment variable overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("EMAGRID_DATA_FILE"); v != "" {
		cfg.Data.File = v
	}
	if v := os.Getenv("EMAGRID_SYMBOL"); v != "" {
		cfg.Data.Symbol = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("EMAGRID_RESULTS_DRIVER"); v != "" {
		cfg.Storage.ResultsDriver = v
	}
	if v := os.Getenv("EMAGRID_RESULTS_DSN"); v != "" {
		cfg.Storage.ResultsDSN = v
	}
	if v := os.Getenv("EMAGRID_HARVEST_SYMBOLS"); v != "" {
		cfg.Harvest.Symbols = splitList(v)
	}
	if v := os.Getenv("BINANCE_BASE_URL"); v != "" {
		cfg.Harvest.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"EMAGRID_START_YEAR", &cfg.Data.StartYear},
		{"EMAGRID_WORKERS", &cfg.Search.Workers},
		{"EMAGRID_MAX_RUNS", &cfg.Search.MaxRuns},
		{"EMAGRID_GRPC_PORT", &cfg.Server.GRPCPort},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", o.env, v, err)
		}
		*o.dst = n
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}
	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	return nil
}

// setDefaults fills values a config file may have zeroed.
func setDefaults(cfg *Config) {
	if cfg.Search.MinGap <= 0 {
		cfg.Search.MinGap = 3
	}
	if cfg.Strategy.Stoch.Line == "" {
		cfg.Strategy.Stoch.Line = "raw"
	}
	if cfg.Harvest.WindowCandles <= 0 {
		cfg.Harvest.WindowCandles = 900
	}
	if cfg.Harvest.MaxAttempts <= 0 {
		cfg.Harvest.MaxAttempts = 5
	}
	if cfg.Harvest.Workers <= 0 {
		cfg.Harvest.Workers = 1
	}
	if cfg.Storage.ResultsDriver == "" {
		cfg.Storage.ResultsDriver = "sqlite"
	}
	if cfg.Storage.ResultsDSN == "" && cfg.Storage.ResultsDriver == "sqlite" {
		cfg.Storage.ResultsDSN = filepath.Join(cfg.Storage.DataDir, "emagrid.db")
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// Validate checks the settings shared by every command.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Search.Fast.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("search.fast: %w", err))
	}
	if err := c.Search.Slow.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("search.slow: %w", err))
	}
	if c.Strategy.InitialCapital <= 0 {
		errs = append(errs, errors.New("strategy.initial_capital must be positive"))
	}
	if c.Strategy.FeePct < 0 || c.Strategy.FeePct >= 100 {
		errs = append(errs, fmt.Errorf("strategy.fee_pct %v out of range [0, 100)", c.Strategy.FeePct))
	}
	if c.Strategy.Upper < 0 || c.Strategy.Upper > 1 || c.Strategy.Lower < 0 || c.Strategy.Lower > 1 {
		errs = append(errs, errors.New("strategy bands must lie in [0, 1]"))
	}
	st := c.Strategy.Stoch
	if st.Length <= 0 || st.RSILength <= 0 || st.K <= 0 || st.D <= 0 {
		errs = append(errs, errors.New("strategy.stoch_rsi windows must be positive"))
	}
	switch st.Line {
	case "raw", "k", "d":
	default:
		errs = append(errs, fmt.Errorf("strategy.stoch_rsi.line %q: want raw, k or d", st.Line))
	}
	if c.Constraints.MinDrawdownPct > 0 {
		errs = append(errs, errors.New("constraints.min_drawdown_pct must not be positive"))
	}
	switch c.Storage.ResultsDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("storage.results_driver %q: want sqlite or postgres", c.Storage.ResultsDriver))
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port %d out of range", c.Server.GRPCPort))
	}
	return errors.Join(errs...)
}

// ValidateOptimize additionally requires a candle input.
func (c *Config) ValidateOptimize() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Data.File == "" && c.Data.Symbol == "" {
		return errors.New("data.file or data.symbol is required")
	}
	return nil
}

// ValidateHarvest additionally checks the harvest section.
func (c *Config) ValidateHarvest() error {
	if err := c.Validate(); err != nil {
		return err
	}
	var errs []error
	switch c.Harvest.Source {
	case "binance":
		if c.Harvest.BaseURL == "" {
			errs = append(errs, errors.New("harvest.base_url is required for binance"))
		}
	case "alpaca":
		if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
			errs = append(errs, errors.New("alpaca credentials are required for the alpaca source"))
		}
	default:
		errs = append(errs, fmt.Errorf("harvest.source %q: want binance or alpaca", c.Harvest.Source))
	}
	if len(c.Harvest.Symbols) == 0 {
		errs = append(errs, errors.New("harvest.symbols is empty"))
	}
	if _, err := c.Harvest.Start(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Harvest.End(time.Now()); err != nil {
		errs = append(errs, err)
	}
	if c.Harvest.PadCandles < 0 {
		errs = append(errs, errors.New("harvest.pad_candles must not be negative"))
	}
	return errors.Join(errs...)
}

// Start parses StartDate (YYYY-MM-DD, UTC).
func (h Harvest) Start() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, h.StartDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("harvest.start_date %q: %w", h.StartDate, err)
	}
	return t, nil
}

// End parses EndDate, or returns now when it is empty.
func (h Harvest) End(now time.Time) (time.Time, error) {
	if h.EndDate == "" {
		return now.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, h.EndDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("harvest.end_date %q: %w", h.EndDate, err)
	}
	return t, nil
}

package ops

import (
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"hftcore/internal/core"
	"hftcore/internal/intake"
	"hftcore/internal/ledger"
	"hftcore/internal/mdg"
	"hftcore/internal/og"
	"hftcore/internal/paper"
	"hftcore/internal/recorder"
	"hftcore/internal/risk"
	"hftcore/internal/schema"
	"hftcore/internal/signal"
	"hftcore/internal/telemetry"
	"hftcore/pkg/exception"
)

// FileConfig mirrors the JSON config layout. Durations are nanoseconds.
type FileConfig struct {
	Instruments  []InstrumentConfig `json:"instruments"`
	Trading      TradingConfig      `json:"trading"`
	Signal       signal.Config      `json:"signal"`
	Intake       intake.Config      `json:"intake"`
	Risk         risk.Config        `json:"risk"`
	Ledger       ledger.Config      `json:"ledger"`
	Sync         SyncConfig         `json:"sync"`
	Journal      recorder.Config    `json:"journal"`
	SnapshotPath string             `json:"snapshotPath"`
	Telemetry    telemetry.Config   `json:"telemetry"`
	Paper        paper.Config       `json:"paper"`
	Feed         FeedConfig         `json:"feed"`
	Obs          ObsConfig          `json:"obs"`
	Features     FeatureFlagsConfig `json:"features"`
}

// InstrumentConfig describes a tradable contract.
type InstrumentConfig struct {
	Name       string  `json:"name"`
	TickSize   float64 `json:"tickSize"`
	PointValue float64 `json:"pointValue"`
}

// TradingConfig selects what the engine trades.
type TradingConfig struct {
	Instrument string          `json:"instrument"`
	Quantity   schema.Quantity `json:"quantity"`
}

// SyncConfig is the file form of og.SyncConfig.
type SyncConfig struct {
	Mode         string        `json:"mode"`
	OrphanWindow time.Duration `json:"orphanWindow"`
	Retention    time.Duration `json:"retention"`
}

// FeedConfig drives the synthetic market feed.
type FeedConfig struct {
	Generator mdg.GeneratorConfig `json:"generator"`
	Features  mdg.FeatureConfig   `json:"features"`
	Interval  time.Duration       `json:"interval"`
}

// ObsConfig holds the observability endpoints. Empty disables.
type ObsConfig struct {
	MetricsAddr   string `json:"metricsAddr"`
	PyroscopeAddr string `json:"pyroscopeAddr"`
	AppName       string `json:"appName"`
}

// FeatureFlagsConfig captures optional runtime flags.
type FeatureFlagsConfig struct {
	EnableJournal       *bool `json:"enableJournal"`
	EnableTelemetry     *bool `json:"enableTelemetry"`
	EnableExitConsensus *bool `json:"enableExitConsensus"`
	EnableRecovery      *bool `json:"enableRecovery"`
}

// FeatureFlags are resolved runtime flags.
type FeatureFlags struct {
	EnableJournal       bool
	EnableTelemetry     bool
	EnableExitConsensus bool
	EnableRecovery      bool
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry     *schema.Registry
	Instrument   schema.Instrument
	Core         core.Config
	Signal       signal.Config
	Intake       intake.Config
	Risk         risk.Config
	Journal      recorder.Config
	SnapshotPath string
	Telemetry    telemetry.Config
	Paper        paper.Config
	Feed         FeedConfig
	Obs          ObsConfig
	Features     FeatureFlags
}

const (
	defaultInstrument = "ES"
	defaultJournalDir = "data/journal"
	defaultAppName    = "hftcore"
)

// DefaultFileConfig is the layout every file is decoded on top of.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Instruments: []InstrumentConfig{{Name: defaultInstrument, TickSize: 0.25, PointValue: 50}},
		Trading:     TradingConfig{Instrument: defaultInstrument, Quantity: 1},
		Signal:      signal.DefaultConfig(),
		Intake:      intake.DefaultConfig(),
		Risk: risk.Config{
			MaxOpenPositions: 1,
			MaxOrderQty:      10,
			MinEntrySpacing:  5 * time.Second,
			OrderRateLimit:   20,
			OrderRateWindow:  time.Minute,
		},
		Ledger:  ledger.Config{StopTicks: 8, TargetTicks: 16, ConfirmTimeout: 30 * time.Second},
		Sync:    SyncConfig{Mode: og.ModeSplit.String()},
		Journal: recorder.DefaultConfig(defaultJournalDir),
		Feed: FeedConfig{
			Generator: mdg.GeneratorConfig{BasePrice: 5000, MaxStep: 2, RegimeTicks: 120},
			Interval:  250 * time.Millisecond,
		},
		Obs: ObsConfig{AppName: defaultAppName},
	}
}

// Default resolves DefaultFileConfig.
func Default() (Loaded, error) {
	return Resolve(DefaultFileConfig())
}

// Load reads a JSON config file on top of the defaults and resolves it.
func Load(path string) (Loaded, error) {
	if path == "" {
		return Loaded{}, exception.ErrConfigEmptyPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrapf(err, "read config %s", path)
	}
	return Parse(data)
}

// Parse decodes data on top of the defaults and resolves it.
func Parse(data []byte) (Loaded, error) {
	cfg := DefaultFileConfig()
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrConfigInvalid, "decode: %v", err)
	}
	return Resolve(cfg)
}

// Resolve validates cfg and builds the runtime view.
func Resolve(cfg FileConfig) (Loaded, error) {
	registry, err := buildRegistry(cfg.Instruments)
	if err != nil {
		return Loaded{}, err
	}
	inst, ok := registry.InstrumentByName(cfg.Trading.Instrument)
	if !ok {
		return Loaded{}, errors.Wrapf(exception.ErrConfigInvalid, "trading instrument not found: %q", cfg.Trading.Instrument)
	}
	if cfg.Trading.Quantity <= 0 {
		return Loaded{}, errors.Wrapf(exception.ErrConfigInvalid, "trading quantity %d", cfg.Trading.Quantity)
	}
	if err := cfg.Signal.Validate(); err != nil {
		return Loaded{}, err
	}
	if err := cfg.Risk.Validate(); err != nil {
		return Loaded{}, err
	}
	mode, ok := og.ParseMode(cfg.Sync.Mode)
	if !ok {
		return Loaded{}, errors.Wrapf(exception.ErrConfigInvalid, "sync mode %q", cfg.Sync.Mode)
	}

	if cfg.Feed.Interval < 0 {
		return Loaded{}, errors.Wrapf(exception.ErrConfigInvalid, "feed interval %s", cfg.Feed.Interval)
	}

	features := resolveFeatures(cfg.Features)
	if features.EnableJournal {
		if err := cfg.Journal.Validate(); err != nil {
			return Loaded{}, err
		}
	}

	ledgerCfg := cfg.Ledger
	ledgerCfg.PointValue = inst.PointValue
	ledgerCfg.TickSize = inst.TickSize

	paperCfg := cfg.Paper
	paperCfg.Unified = mode == og.ModeUnified
	if paperCfg.TickSize == 0 {
		paperCfg.TickSize = inst.TickSize
	}

	return Loaded{
		Registry:   registry,
		Instrument: inst,
		Core: core.Config{
			Quantity:        cfg.Trading.Quantity,
			ExitOnConsensus: features.EnableExitConsensus,
			Ledger:          ledgerCfg,
			Sync: og.SyncConfig{
				Mode:         mode,
				OrphanWindow: cfg.Sync.OrphanWindow,
				Retention:    cfg.Sync.Retention,
			},
		},
		Signal:       cfg.Signal,
		Intake:       cfg.Intake,
		Risk:         cfg.Risk,
		Journal:      cfg.Journal,
		SnapshotPath: cfg.SnapshotPath,
		Telemetry:    cfg.Telemetry.WithDefaults(),
		Paper:        paperCfg,
		Feed:         cfg.Feed,
		Obs:          cfg.Obs,
		Features:     features,
	}, nil
}

func buildRegistry(instruments []InstrumentConfig) (*schema.Registry, error) {
	if len(instruments) == 0 {
		return nil, errors.Wrap(exception.ErrConfigInvalid, "no instruments")
	}
	reg := schema.NewRegistry()
	for _, in := range instruments {
		if _, err := reg.AddInstrument(in.Name, in.TickSize, in.PointValue); err != nil {
			return nil, errors.Wrap(exception.ErrConfigInvalid, err.Error())
		}
	}
	return reg, nil
}

func resolveFeatures(cfg FeatureFlagsConfig) FeatureFlags {
	flags := FeatureFlags{
		EnableJournal:       true,
		EnableTelemetry:     true,
		EnableExitConsensus: true,
		EnableRecovery:      true,
	}
	if cfg.EnableJournal != nil {
		flags.EnableJournal = *cfg.EnableJournal
	}
	if cfg.EnableTelemetry != nil {
		flags.EnableTelemetry = *cfg.EnableTelemetry
	}
	if cfg.EnableExitConsensus != nil {
		flags.EnableExitConsensus = *cfg.EnableExitConsensus
	}
	if cfg.EnableRecovery != nil {
		flags.EnableRecovery = *cfg.EnableRecovery
	}
	return flags
}

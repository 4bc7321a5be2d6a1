package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ReconcileConfig tunes the reconciliation engine. It can be changed at runtime
// by editing reconcile.yml.
type ReconcileConfig struct {
	MaxAttempts        int           `mapstructure:"maxAttempts"`
	InitialBackoff     time.Duration `mapstructure:"initialBackoff"`
	MaxBackoff         time.Duration `mapstructure:"maxBackoff"`
	LockTTL            time.Duration `mapstructure:"lockTTL"`
	LockWait           time.Duration `mapstructure:"lockWait"`
	SignatureTolerance time.Duration `mapstructure:"signatureTolerance"`
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		MaxAttempts:        4,
		InitialBackoff:     25 * time.Millisecond,
		MaxBackoff:         time.Second,
		LockTTL:            30 * time.Second,
		LockWait:           5 * time.Second,
		SignatureTolerance: 5 * time.Minute,
	}
}

type ReconcileConfigHolder struct {
	current atomic.Value // holds ReconcileConfig
}

// NewStaticReconcileConfigHolder returns a holder that never reloads.
func NewStaticReconcileConfigHolder(cfg ReconcileConfig) *ReconcileConfigHolder {
	holder := &ReconcileConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewReconcileConfigHolder(log *zap.Logger) (*ReconcileConfigHolder, error) {
	log = log.Named("config.reconcile")
	v := viper.New()

	v.SetConfigName("reconcile")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/storefront")
	v.AddConfigPath(".")

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultReconcileConfig()
	v.SetDefault("reconcile.maxAttempts", defaults.MaxAttempts)
	v.SetDefault("reconcile.initialBackoff", defaults.InitialBackoff)
	v.SetDefault("reconcile.maxBackoff", defaults.MaxBackoff)
	v.SetDefault("reconcile.lockTTL", defaults.LockTTL)
	v.SetDefault("reconcile.lockWait", defaults.LockWait)
	v.SetDefault("reconcile.signatureTolerance", defaults.SignatureTolerance)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	var cfg ReconcileConfig
	if err := v.UnmarshalKey("reconcile", &cfg); err != nil {
		return nil, err
	}
	if err := validateReconcileConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticReconcileConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ReconcileConfig
		if err := v.UnmarshalKey("reconcile", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateReconcileConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ReconcileConfigHolder) Get() ReconcileConfig {
	if h == nil {
		return DefaultReconcileConfig()
	}
	cfg, ok := h.current.Load().(ReconcileConfig)
	if !ok {
		return DefaultReconcileConfig()
	}
	return cfg
}

func validateReconcileConfig(cfg ReconcileConfig) error {
	if cfg.MaxAttempts < 1 {
		return errors.New("reconcile.maxAttempts must be at least 1")
	}
	if cfg.InitialBackoff <= 0 || cfg.MaxBackoff < cfg.InitialBackoff {
		return errors.New("reconcile backoff window is invalid")
	}
	if cfg.LockTTL <= 0 || cfg.LockWait <= 0 {
		return errors.New("reconcile lock durations must be positive")
	}
	if cfg.SignatureTolerance <= 0 {
		return errors.New("reconcile.signatureTolerance must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// MonitoringConfig holds alerting thresholds for the monitoring engine.
type MonitoringConfig struct {
	LowBalanceThreshold int64         `mapstructure:"lowBalanceThreshold"`
	HighUsageThreshold  int64         `mapstructure:"highUsageThreshold"`
	AlertRetention      time.Duration `mapstructure:"alertRetention"`
}

func DefaultMonitoringConfig() MonitoringConfig {
	return MonitoringConfig{
		LowBalanceThreshold: 1000,
		HighUsageThreshold:  5000,
		AlertRetention:      24 * time.Hour,
	}
}

// MonitoringConfigHolder serves the current thresholds and hot-reloads them
// when the config file changes on disk.
type MonitoringConfigHolder struct {
	current atomic.Value // holds MonitoringConfig
}

func NewMonitoringConfigHolder() (*MonitoringConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("monitoring")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tokenledger/config")
	v.AddConfigPath("/etc/tokenledger")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TOKENLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMonitoringConfig()
	v.SetDefault("monitoring.lowBalanceThreshold", defaults.LowBalanceThreshold)
	v.SetDefault("monitoring.highUsageThreshold", defaults.HighUsageThreshold)
	v.SetDefault("monitoring.alertRetention", defaults.AlertRetention)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg MonitoringConfig
	if err := v.UnmarshalKey("monitoring", &cfg); err != nil {
		return nil, err
	}
	cfg = withMonitoringDefaults(cfg)
	if err := validateMonitoringConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MonitoringConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MonitoringConfig
		if err := v.UnmarshalKey("monitoring", &updated); err != nil {
			log.Printf("[monitoring-config] reload failed: %v", err)
			return
		}
		updated = withMonitoringDefaults(updated)
		if err := validateMonitoringConfig(updated); err != nil {
			log.Printf("[monitoring-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[monitoring-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticMonitoringConfigHolder wraps fixed thresholds without file
// watching. Used by tests and by callers that manage reloads themselves.
func NewStaticMonitoringConfigHolder(cfg MonitoringConfig) *MonitoringConfigHolder {
	holder := &MonitoringConfigHolder{}
	holder.current.Store(withMonitoringDefaults(cfg))
	return holder
}

func (h *MonitoringConfigHolder) Get() MonitoringConfig {
	return h.current.Load().(MonitoringConfig)
}

func withMonitoringDefaults(cfg MonitoringConfig) MonitoringConfig {
	defaults := DefaultMonitoringConfig()
	if cfg.LowBalanceThreshold == 0 {
		cfg.LowBalanceThreshold = defaults.LowBalanceThreshold
	}
	if cfg.HighUsageThreshold == 0 {
		cfg.HighUsageThreshold = defaults.HighUsageThreshold
	}
	if cfg.AlertRetention == 0 {
		cfg.AlertRetention = defaults.AlertRetention
	}
	return cfg
}

func validateMonitoringConfig(cfg MonitoringConfig) error {
	if cfg.LowBalanceThreshold < 0 {
		return errors.New("monitoring.lowBalanceThreshold cannot be negative")
	}
	if cfg.HighUsageThreshold <= 0 {
		return errors.New("monitoring.highUsageThreshold must be positive")
	}
	if cfg.AlertRetention <= 0 {
		return errors.New("monitoring.alertRetention must be positive")
	}
	return nil
}

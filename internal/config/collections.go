package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CollectionsConfig carries operator-tunable defaults for the collections
// engine. Per-account overrides and rows in the settings table take
// precedence over these values.
type CollectionsConfig struct {
	Timezone         string   `mapstructure:"timezone"`
	BlockingTime     string   `mapstructure:"blockingTime"` // "HH:MM" local time
	SkipWeekends     bool     `mapstructure:"skipWeekends"`
	Holidays         []string `mapstructure:"holidays"` // "2006-01-02"
	GraceDays        int      `mapstructure:"graceDays"`
	DeactivationDays int      `mapstructure:"deactivationDays"` // 0 disables the deadline
	MinBalance       int64    `mapstructure:"minBalance"`       // cents

	ThrottleProfileID string `mapstructure:"throttleProfileId"`

	LowBalanceSubject   string `mapstructure:"lowBalanceSubject"`
	DeactivationSubject string `mapstructure:"deactivationSubject"`
	SuspensionSubject   string `mapstructure:"suspensionSubject"`
	DunningSubject      string `mapstructure:"dunningSubject"`
}

func DefaultCollectionsConfig() CollectionsConfig {
	return CollectionsConfig{
		Timezone:         "UTC",
		BlockingTime:     "09:00",
		SkipWeekends:     false,
		Holidays:         nil,
		GraceDays:        3,
		DeactivationDays: 0,
		MinBalance:       0,

		LowBalanceSubject:   "Your balance is running low",
		DeactivationSubject: "Your service has been deactivated",
		SuspensionSubject:   "Your service has been suspended",
		DunningSubject:      "Payment overdue",
	}
}

type CollectionsConfigHolder struct {
	current atomic.Value // holds CollectionsConfig
}

func NewCollectionsConfigHolder() (*CollectionsConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("collections")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/wirebill/config") // Volume-mounted config
	v.AddConfigPath("/etc/wirebill")            // System config
	v.AddConfigPath(".")                        // Current directory (dev mode)

	v.SetEnvPrefix("WIREBILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultCollectionsConfig()
	v.SetDefault("collections.timezone", defaults.Timezone)
	v.SetDefault("collections.blockingTime", defaults.BlockingTime)
	v.SetDefault("collections.skipWeekends", defaults.SkipWeekends)
	v.SetDefault("collections.graceDays", defaults.GraceDays)
	v.SetDefault("collections.deactivationDays", defaults.DeactivationDays)
	v.SetDefault("collections.minBalance", defaults.MinBalance)
	v.SetDefault("collections.lowBalanceSubject", defaults.LowBalanceSubject)
	v.SetDefault("collections.deactivationSubject", defaults.DeactivationSubject)
	v.SetDefault("collections.suspensionSubject", defaults.SuspensionSubject)
	v.SetDefault("collections.dunningSubject", defaults.DunningSubject)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg CollectionsConfig
	if err := v.UnmarshalKey("collections", &cfg); err != nil {
		return nil, err
	}
	if err := validateCollectionsConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CollectionsConfig
		if err := v.UnmarshalKey("collections", &updated); err != nil {
			log.Printf("[collections-config] reload failed: %v", err)
			return
		}
		if err := validateCollectionsConfig(updated); err != nil {
			log.Printf("[collections-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[collections-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CollectionsConfigHolder) Get() CollectionsConfig {
	return h.current.Load().(CollectionsConfig)
}

// NewStaticCollectionsConfigHolder wraps a fixed config, used by tests.
func NewStaticCollectionsConfigHolder(cfg CollectionsConfig) *CollectionsConfigHolder {
	holder := &CollectionsConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateCollectionsConfig(cfg CollectionsConfig) error {
	if strings.TrimSpace(cfg.Timezone) == "" {
		return errors.New("collections.timezone cannot be empty")
	}
	if len(strings.Split(cfg.BlockingTime, ":")) != 2 {
		return errors.New("collections.blockingTime must be HH:MM")
	}
	if cfg.GraceDays < 0 || cfg.DeactivationDays < 0 {
		return errors.New("collections day defaults cannot be negative")
	}
	return nil
}

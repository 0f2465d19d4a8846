package app

import (
	"strconv"
	"strings"

	"likebot/internal/config"
	"likebot/internal/notifier"
	"likebot/internal/observability/diagnostics"
	"likebot/internal/orchestrator"
	"likebot/internal/storage"
	logx "likebot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// groupLogChat parses telegram.group_log; 0 means no log chat.
func groupLogChat(cfg *config.Config) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(cfg.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:        strings.ToLower(strings.TrimSpace(sc.Driver)),
		Path:          strings.TrimSpace(sc.Path),
		BusyTimeout:   busy,
		RedisAddr:     sc.RedisAddr,
		RedisDB:       sc.RedisDB,
		RedisPassword: sc.RedisPassword,
	}, nil
}

// mapNotifierConfig enables the notifier with defaults when the section is absent.
func mapNotifierConfig(cfg *config.Config) notifier.Config {
	nc := cfg.Notifier
	if nc == nil {
		return notifier.Config{Enabled: true}
	}
	return notifier.Config{
		Enabled:    nc.Enabled,
		Workers:    nc.Workers,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
		RetryMax:   nc.RetryMax,
		RetryBase:  config.DurationOr(nc.RetryBase, 0),
	}
}

func mapDiagnosticsConfig(cfg *config.Config) diagnostics.Config {
	d := cfg.Diagnostics
	return diagnostics.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
	}
}

func orchestratorSettings(cfg *config.Config) orchestrator.Settings {
	s := cfg.Orchestrator.Settings()
	return orchestrator.Settings{
		RateLimitBackoff: s.RateLimitBackoff,
		FlowTimeout:      s.FlowTimeout,
		ProgressMessages: s.ProgressMessages,
		MaxLinks:         s.MaxLinks,
	}
}

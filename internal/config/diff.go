package config

import (
	"reflect"
	"strings"

	logx "likebot/pkg/logx"
)

// SummarizeChange lists the sections that differ and returns log fields for
// them. Secrets (tokens, passwords) are reported only as "set" flags.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || ot.PollTimeout != nt.PollTimeout ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if !reflect.DeepEqual(oldCfg.Remote, newCfg.Remote) {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.base_url", newCfg.Remote.BaseURL),
			logx.Float64("remote.max_rps", newCfg.Remote.MaxRPS),
		)
	}

	if oldCfg.Orchestrator != newCfg.Orchestrator {
		s := newCfg.Orchestrator.Settings()
		changed = append(changed, "orchestrator")
		attrs = append(attrs,
			logx.Duration("orchestrator.rate_limit_backoff", s.RateLimitBackoff),
			logx.Duration("orchestrator.flow_timeout", s.FlowTimeout),
			logx.Bool("orchestrator.progress_messages", s.ProgressMessages),
		)
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
	}

	od, nd := oldCfg.Diagnostics, newCfg.Diagnostics
	if od.Enabled != nd.Enabled || od.Addr != nd.Addr || od.AllowInsecure != nd.AllowInsecure || od.Token != nd.Token {
		changed = append(changed, "diagnostics")
		attrs = append(attrs,
			logx.Bool("diagnostics.enabled", nd.Enabled),
			logx.String("diagnostics.addr", nd.Addr),
			logx.Bool("diagnostics.token_set", nd.Token != ""),
		)
	}

	return changed, attrs
}

// RequiresRestart reports sections that cannot be applied live.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Telegram.Token != newCfg.Telegram.Token || oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout {
		out = append(out, "telegram")
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		out = append(out, "storage")
	}
	if !reflect.DeepEqual(oldCfg.Remote, newCfg.Remote) {
		out = append(out, "remote")
	}
	return out
}

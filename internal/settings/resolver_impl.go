package settings

import (
	"context"
	"os"
	"strconv"
	"strings"

	settingsdomain "github.com/wirebill/wirebill/internal/settings/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type resolver struct {
	db  *gorm.DB
	log *zap.Logger
}

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

func NewResolver(p Params) settingsdomain.Resolver {
	return &resolver{
		db:  p.DB,
		log: p.Log.Named("settings.resolver"),
	}
}

// Resolve implements domain.Resolver. A settings table row wins; otherwise the
// WIREBILL_<DOMAIN>_<KEY> environment variable is consulted.
func (r *resolver) Resolve(ctx context.Context, domain, key string) (string, bool) {
	var row struct {
		Value string
		Found bool
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT value, 1 AS found FROM settings WHERE domain = ? AND "key" = ? LIMIT 1`,
		domain,
		key,
	).Scan(&row).Error
	if err != nil {
		r.log.Warn("settings lookup failed",
			zap.String("domain", domain),
			zap.String("key", key),
			zap.Error(err),
		)
	} else if row.Found {
		return row.Value, true
	}

	envKey := "WIREBILL_" + strings.ToUpper(domain) + "_" + strings.ToUpper(key)
	if v, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(v) != "" {
		return v, true
	}
	return "", false
}

// Int resolves an integer setting, falling back to def on absence or a
// malformed value.
func Int(ctx context.Context, r settingsdomain.Resolver, domain, key string, def int) int {
	raw, ok := r.Resolve(ctx, domain, key)
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return def
	}
	return parsed
}

// Int64 resolves a 64-bit integer setting.
func Int64(ctx context.Context, r settingsdomain.Resolver, domain, key string, def int64) int64 {
	raw, ok := r.Resolve(ctx, domain, key)
	if !ok {
		return def
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

// Bool resolves a boolean setting.
func Bool(ctx context.Context, r settingsdomain.Resolver, domain, key string, def bool) bool {
	raw, ok := r.Resolve(ctx, domain, key)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// String resolves a string setting.
func String(ctx context.Context, r settingsdomain.Resolver, domain, key, def string) string {
	raw, ok := r.Resolve(ctx, domain, key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	return raw
}

var Module = fx.Module("settings.resolver",
	fx.Provide(NewResolver),
)

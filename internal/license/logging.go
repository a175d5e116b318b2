package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// logAction writes one structured line for a verification step
func (a *Authenticator) logAction(ctx context.Context, level slog.Level, action, result string, attrs ...slog.Attr) {
	all := make([]slog.Attr, 0, len(attrs)+2)
	all = append(all,
		slog.String("action", action),
		slog.String("result", result),
	)
	all = append(all, attrs...)
	a.logger.LogAttrs(ctx, level, action, all...)
}

func (a *Authenticator) logSuccess(ctx context.Context, action string, attrs ...slog.Attr) {
	a.logAction(ctx, slog.LevelInfo, action, "success", attrs...)
}

func (a *Authenticator) logFailure(ctx context.Context, action string, err error, attrs ...slog.Attr) {
	attrs = append(attrs,
		slog.String("error", err.Error()),
		slog.String("kind", KindOf(err).String()),
	)
	a.logAction(ctx, slog.LevelWarn, action, "failure", attrs...)
}

// maskKey hides all but the edges of a credential
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashKey yields a short stable digest of a credential for log correlation
func hashKey(key string) string {
	if key == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

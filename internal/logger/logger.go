// Package logger builds the zap logger shared by every viewtrack command.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a zap.Logger for env. "production" logs JSON at info level;
// anything else logs colourised console output at debug level.
func New(env string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if env != "production" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// MaskIP hides the host part of an address before it reaches the logs.
// 203.0.113.7 becomes 203.0.*.*; IPv6 keeps its first four groups.
func MaskIP(ip string) string {
	if ip == "" {
		return ""
	}
	dots, colons := 0, 0
	for i := 0; i < len(ip); i++ {
		switch ip[i] {
		case '.':
			dots++
			if dots == 2 {
				return ip[:i] + ".*.*"
			}
		case ':':
			colons++
			if colons == 4 {
				return ip[:i] + ":*:*:*:*"
			}
		}
	}
	return "***"
}

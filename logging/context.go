package logging

import (
	"context"
)

type debugKey struct{}

// EnableDebugMode tags ctx so that `CDebug*` calls made with it are written even when the
// logger's level is above DEBUG. name identifies who asked for it and defaults to "debug".
func EnableDebugMode(ctx context.Context, name string) context.Context {
	if name == "" {
		name = "debug"
	}
	return context.WithValue(ctx, debugKey{}, name)
}

// IsDebugMode reports whether ctx was tagged by EnableDebugMode.
func IsDebugMode(ctx context.Context) bool {
	return GetName(ctx) != ""
}

// GetName returns the name given to EnableDebugMode, or "" for an untagged context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(debugKey{}).(string)
	return name
}

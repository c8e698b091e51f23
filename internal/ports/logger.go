package ports

import "context"

// Logger is the logging contract used across the engine and adapters.
// Fields are free-form key/value maps; implementations decide formatting.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error logs err alongside msg at Error level.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}

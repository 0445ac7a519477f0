package core

// Logger logs messages with optional context args.
// Accepted args: error, map[string]interface{} and the current user (for error reporting).
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Package logger wraps zap for the whole tool:
//   - a global sugared logger with a console encoder,
//   - an optional append-only JSON file sink rotated by lumberjack,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and convenience functions (Infof, ErrorKV, etc.).
//
// Services take a context and pull the logger from it, so every pipeline
// stage and queued job logs with its own scope.
package logger

// Package logx configures likebot's structured logging.
//
// Logger is a thin value type over zerolog:
//   - console output stays human readable (short timestamp + file:line caller)
//   - the optional log file is JSON lines
//   - an optional chat sink mirrors WARN+ records to an operator chat, rate limited
//
// Loggers derived from a Service follow Service.Apply, so hot-reloaded levels and
// sinks take effect without re-plumbing loggers through components.
package logx

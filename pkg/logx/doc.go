// Package logx configures countdownbot's structured logging.
//
// logx.Logger is a small value type on top of zerolog:
//   - Console output stays readable (short timestamp + file:line caller)
//   - File output is JSON, one event per line
//   - Service.Apply swaps level and sinks at runtime (config hot reload)
package logx

// Package logx configures taskgate's structured logging.
//
// Components log through a small wrapper (logx.Logger) on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON Lines
//   - Level and sinks can be swapped at runtime via Service.Apply
package logx

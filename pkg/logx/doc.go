// Package logx configures planboard's structured logging.
//
// Components take a logx.Logger by value. It wraps zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Level changes hot-reloadable through Service.Apply
package logx

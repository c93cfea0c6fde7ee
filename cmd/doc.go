// Package cmd implements the fxstore command-line interface. It provides
// tools to inspect, verify and maintain store files.
//
// The package is organized into several subpackages:
//
//   - inspect: Read-only commands (inspect, ls, dump)
//   - maintenance: Commands that check or rewrite stores (verify, stats, compact)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See fxstore -help for a list of all commands.
package cmd

// Package cmd implements the command-line interface for the dKV distributed
// key-value store. It provides a hierarchical command structure with operations
// for running a replica and interacting with the cluster as a client.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for row/column key-value operations (put, get, delete,
//     lock, unlock, etc.)
//   - serve: Commands for starting and configuring a dKV replica or host
//     controller
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dkv -help for a list of all commands.
package cmd

// Package cmd implements the command-line interface of dSearch. It provides
// a hierarchical command structure for preparing chunk files, running
// storage nodes and querying a cluster.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a storage node on a data directory
//   - query: The query and status commands of the client
//   - index: Builds, verifies and reads the B-tree indexes of record files
//   - split: Splits a record file into chunks and replicas (and hash buckets)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set in the --config file or as a DSEARCH_<FLAG>
// environment variable, .env and .env.local are loaded at startup.
//
// See dsearch -help for a list of all commands.
package cmd

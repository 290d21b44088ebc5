// Package rpc contains the network side of dSearch: the storage node that
// answers author queries and the client that fans a query out over all chunks.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures, logging and the line based wire
//     protocol (request format and the not found and duplicate markers)
//     shared by server and client.
//
//   - server: The storage node. It loads the indexes of its data directory,
//     suppresses duplicate queries and answers one request per connection.
//
//   - client: The single request client and the scatter-gather executor that
//     queries every chunk with primary-then-replica failover and merges the counts.
package rpc

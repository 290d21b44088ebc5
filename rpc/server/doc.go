// Package server implements the storage node of dSearch.
//
// A storage node serves the chunks stored in its data directory. Each chunk
// consists of a record file (<name>.lson) and its index snapshot
// (<name>.btree). Names containing "_replica" are replica copies of chunks
// whose primary lives on another node.
//
// Startup:
//
// OpenNode loads all primary indexes. A node without a usable primary index
// refuses to start. Replica indexes are only loaded when a lookup misses every
// primary index for the first time, the load happens at most once.
//
// Request handling:
//
// Every connection carries exactly one request (see common.NewRequest):
//
//  1. read one line with a read deadline; connections that send nothing are
//     health probes and are closed silently
//  2. check the duplicate suppression set; a repeated author is answered
//     with the duplicate sentinel
//  3. look the author up in the primary indexes, then in the replica indexes
//  4. send the record line verbatim or the not found sentinel, then close
//
// The number of concurrent connections is bounded by ServerConfig.MaxConns.
// Every handler recovers from panics, a single broken request never stops
// the accept loop.
//
// Duplicate suppression is controlled by ServerConfig.DedupWindow: 0 keeps an
// author suppressed for the lifetime of the process, a positive duration
// forgets it after that time, a negative value disables suppression.
//
// Metrics:
//
// Each server keeps its own VictoriaMetrics set (request counters by result,
// lookup latency histogram, index gauges). WritePrometheus dumps them, with
// ServerConfig.MetricsEndpoint set they are also served at /metrics.
package server

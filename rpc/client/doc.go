// Package client implements the query side of dSearch: a single request
// client for storage nodes and the scatter-gather executor built on top of it.
//
// The package focuses on:
//   - One-shot requests with explicit connect and exchange deadlines
//   - Primary-then-replica failover per chunk driven by a directory.Round
//   - Concurrent fan-out over all chunks with a bounded worker pool
//   - Additive merging of the partial results
//
// Key Components:
//
//   - Client: implements Fetcher over TCP. Fetch dials the node, writes the
//     request line and reads the response until the node closes the
//     connection. The sentinel responses are mapped to ErrNotFound and
//     ErrDuplicate.
//
//   - Executor: Query runs one task per chunk. A task tries the primary of its
//     chunk (if alive) and, on any failure, exactly one untried alive replica.
//     not found answers count as failures. Chunks without a successful attempt
//     are logged and listed in Result.Omitted, they never make the query fail.
//     Stats exposes latency and attempt counters kept in a go-metrics registry.
//
// Usage Example:
//
//	dir, _ := directory.New(config.Topology())
//	exec := client.NewExecutor(dir, client.NewClient(config), config)
//
//	result := exec.Query(ctx, "Jane Doe")
//	for _, year := range record.Years(result.Counts) {
//		fmt.Println(year, result.Counts[year])
//	}
package client

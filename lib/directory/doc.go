/*
Package directory implements the replica directory used by the query client.

The directory knows the static layout of the cluster: every storage node
(ServerID and address) and, per chunk, the ordered list of nodes holding a
copy. The first node of a list holds the primary copy, all others hold
replicas. On top of this it tracks which nodes are alive.

# Selection

For every chunk a query first asks for the primary and, if that attempt
fails, for the next replica nobody tried yet:

	round := dir.NewRound()
	if id, ok := round.PrimaryFor("chunk_1"); ok {
		// attempt id
	}
	if id, ok := round.NextUntriedReplicaFor("chunk_1"); ok {
		// attempt id
	}
	round.MarkChunkSatisfied("chunk_1")

A Round scopes the attempted and satisfied state to one query. The same
three methods exist on the Directory itself; they operate on a round that
lives as long as the directory and is only cleared by Reset.

Selecting a replica and recording it as attempted is one atomic step, two
concurrent callers never receive the same replica for the same chunk.

# Liveness

All servers start out alive. HealthCheck probes every server concurrently
(by default a plain TCP connect, see DialProbe), replaces the alive set and
reports servers that went up or down since the previous check. Monitor runs
HealthCheck periodically until its context is cancelled.

MarkDown and MarkUp override the liveness of a single server until the next
health check.
*/
package directory

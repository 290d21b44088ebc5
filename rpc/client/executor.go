package client

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dSearch/lib/directory"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/ValentinKolb/dSearch/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
)

// Result is the merged answer of a query. Chunks that could not be queried
// are listed in Omitted, partial coverage is not an error.
type Result struct {
	Author      string
	Counts      map[int]int
	Contributed []string
	Omitted     []string
	Elapsed     time.Duration
}

// Complete reports whether every chunk contributed
func (r Result) Complete() bool {
	return len(r.Omitted) == 0
}

// Stats summarizes the queries run by an executor
type Stats struct {
	Queries     int64
	Attempts    int64
	Failovers   int64
	Omitted     int64
	Duplicates  int64
	MeanLatency time.Duration
	P99Latency  time.Duration
}

// Executor runs a query against every chunk of a directory concurrently and
// merges the partial results.
//
// Thread-safety: Query may be called concurrently, every call uses its own
// directory round.
type Executor struct {
	dir         *directory.Directory
	fetcher     Fetcher
	maxWorkers  int
	healthCheck bool

	registry   gometrics.Registry
	latency    gometrics.Timer
	attempts   gometrics.Counter
	failovers  gometrics.Counter
	omitted    gometrics.Counter
	duplicates gometrics.Counter
}

// NewExecutor creates an executor. MaxWorkers and HealthCheck are taken from config.
func NewExecutor(dir *directory.Directory, fetcher Fetcher, config common.ClientConfig) *Executor {
	registry := gometrics.NewRegistry()
	return &Executor{
		dir:         dir,
		fetcher:     fetcher,
		maxWorkers:  config.MaxWorkers,
		healthCheck: config.HealthCheck,
		registry:    registry,
		latency:     gometrics.GetOrRegisterTimer("query.latency", registry),
		attempts:    gometrics.GetOrRegisterCounter("query.attempts", registry),
		failovers:   gometrics.GetOrRegisterCounter("query.failovers", registry),
		omitted:     gometrics.GetOrRegisterCounter("query.omitted", registry),
		duplicates:  gometrics.GetOrRegisterCounter("query.duplicates", registry),
	}
}

// Registry returns the metrics registry of the executor
func (e *Executor) Registry() gometrics.Registry {
	return e.registry
}

// Stats returns a snapshot of the executor metrics
func (e *Executor) Stats() Stats {
	latency := e.latency.Snapshot()
	return Stats{
		Queries:     latency.Count(),
		Attempts:    e.attempts.Count(),
		Failovers:   e.failovers.Count(),
		Omitted:     e.omitted.Count(),
		Duplicates:  e.duplicates.Count(),
		MeanLatency: time.Duration(latency.Mean()),
		P99Latency:  time.Duration(latency.Percentile(0.99)),
	}
}

// Query asks every chunk for the counts of author and merges them additively.
//
// Per chunk the primary is tried first (if alive). If that attempt fails for
// any reason, including a not found answer, the next untried alive replica
// is tried once. A chunk without a successful attempt is omitted.
//
// Nodes answer from every index they hold, so the copy asked for one chunk
// may return the record line of another chunk on the same node. Chunks
// partition the records, hence a payload byte-identical to one already
// merged in this query is the same line and is not summed again. The chunk
// still counts as contributed.
func (e *Executor) Query(ctx context.Context, author string) Result {
	start := time.Now()
	defer e.latency.UpdateSince(start)

	if e.healthCheck {
		e.dir.HealthCheck(ctx)
	}

	chunks := e.dir.Chunks()
	round := e.dir.NewRound()

	workers := e.maxWorkers
	if workers <= 0 || workers > len(chunks) {
		workers = len(chunks)
	}

	// The buffered channel acts as a counting semaphore
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup

	partials := make([]*chunkAnswer, len(chunks))
	for i, chunk := range chunks {
		semaphore <- struct{}{}
		wg.Add(1)
		go func(i int, chunk string) {
			defer func() {
				<-semaphore
				wg.Done()
			}()
			partials[i] = e.queryChunk(ctx, round, chunk, author)
		}(i, chunk)
	}
	wg.Wait()

	result := Result{Author: author, Counts: make(map[int]int)}
	merged := make(map[string]struct{}, len(chunks))
	for i, answer := range partials {
		if answer == nil {
			result.Omitted = append(result.Omitted, chunks[i])
			continue
		}
		result.Contributed = append(result.Contributed, chunks[i])
		if _, ok := merged[answer.payload]; ok {
			e.duplicates.Inc(1)
			Logger.Debugf("chunk %s: record of %q already merged, not counted again", chunks[i], author)
			continue
		}
		if answer.payload != "" {
			merged[answer.payload] = struct{}{}
		}
		record.Merge(result.Counts, answer.counts)
	}
	result.Elapsed = time.Since(start)
	return result
}

// chunkAnswer is the successful answer for one chunk
type chunkAnswer struct {
	counts  map[int]int
	payload string // raw record line
}

// queryChunk returns the answer for one chunk or nil if the chunk is omitted
func (e *Executor) queryChunk(ctx context.Context, round *directory.Round, chunk, author string) *chunkAnswer {
	if id, ok := round.PrimaryFor(chunk); ok {
		answer, err := e.attempt(ctx, id, author)
		if err == nil {
			return e.satisfy(round, chunk, answer)
		}
		Logger.Warningf("chunk %s: primary %d failed: %v", chunk, id, err)
	} else {
		Logger.Debugf("chunk %s: primary is down", chunk)
	}

	if id, ok := round.NextUntriedReplicaFor(chunk); ok {
		e.failovers.Inc(1)
		answer, err := e.attempt(ctx, id, author)
		if err == nil {
			return e.satisfy(round, chunk, answer)
		}
		Logger.Warningf("chunk %s: replica %d failed: %v", chunk, id, err)
	}

	e.omitted.Inc(1)
	Logger.Warningf("chunk %s omitted from the result for %q: no server answered", chunk, author)
	return nil
}

func (e *Executor) satisfy(round *directory.Round, chunk string, answer *chunkAnswer) *chunkAnswer {
	if !round.MarkChunkSatisfied(chunk) {
		return nil
	}
	if answer.counts == nil {
		answer.counts = map[int]int{}
	}
	return answer
}

// attempt fetches and decodes the record of author from a single server
func (e *Executor) attempt(ctx context.Context, id directory.ServerID, author string) (*chunkAnswer, error) {
	e.attempts.Inc(1)

	addr, ok := e.dir.AddressOf(id)
	if !ok {
		return nil, fmt.Errorf("server %d has no address", id)
	}
	payload, err := e.fetcher.Fetch(ctx, addr, author)
	if err != nil {
		return nil, err
	}
	counts, err := record.DecodeFor(author, payload)
	if err != nil {
		return nil, err
	}
	return &chunkAnswer{counts: counts, payload: string(bytes.TrimSpace(payload))}, nil
}

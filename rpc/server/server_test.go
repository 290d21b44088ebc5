package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dSearch/lib/btree"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// writeChunk writes a record file and its index snapshot into dir
func writeChunk(t *testing.T, dir, name string, records map[string]map[int]int) {
	t.Helper()

	var buf bytes.Buffer
	for author, counts := range records {
		line, err := record.Encode(record.Record{Author: author, Counts: counts})
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	lson := filepath.Join(dir, name+RecordExt)
	require.NoError(t, os.WriteFile(lson, buf.Bytes(), 0o644))

	tree, _, err := record.BuildIndex(lson, btree.DefaultDegree)
	require.NoError(t, err)
	require.NoError(t, tree.SaveFile(filepath.Join(dir, name+IndexExt)))
}

func testDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeChunk(t, dir, "chunk_1", map[string]map[int]int{
		"Alice": {2020: 3},
		"Bob":   {2019: 1, 2020: 2},
	})
	writeChunk(t, dir, "chunk_3_replica1", map[string]map[int]int{
		"Carol": {2021: 4},
	})
	return dir
}

func testConfig(dir string) common.ServerConfig {
	return common.ServerConfig{
		Endpoint:      "127.0.0.1:0",
		DataDir:       dir,
		TimeoutSecond: 2,
		MaxConns:      16,
		LogLevel:      "error",
	}
}

// startServer serves on a random port until the test ends
func startServer(t *testing.T, config common.ServerConfig) (*Server, string) {
	t.Helper()
	s, err := NewServer(config)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	addr, err := s.Addr()
	require.NoError(t, err)
	return s, addr.String()
}

// ask sends one raw request line and returns the raw response
func ask(t *testing.T, addr, request string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

	_, err = io.WriteString(conn, request)
	require.NoError(t, err)
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(resp)
}

// --------------------------------------------------------------------------
// Node
// --------------------------------------------------------------------------

func TestOpenNode(t *testing.T) {
	node, err := OpenNode(testDataDir(t))
	require.NoError(t, err)
	defer node.Close()

	infos := node.Indexes()
	require.Len(t, infos, 2)
	assert.Equal(t, IndexInfo{Name: "chunk_1", Loaded: true, Keys: 2, Height: 1}, infos[0])
	assert.Equal(t, IndexInfo{Name: "chunk_3_replica1", Replica: true}, infos[1])
	assert.False(t, node.ReplicasLoaded())
}

func TestOpenNodeFailures(t *testing.T) {
	t.Run("missing directory", func(t *testing.T) {
		_, err := OpenNode(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("only replicas", func(t *testing.T) {
		dir := t.TempDir()
		writeChunk(t, dir, "chunk_2_replica1", map[string]map[int]int{"A": {2000: 1}})
		_, err := OpenNode(dir)
		assert.ErrorIs(t, err, ErrNoPrimaryIndex)
	})

	t.Run("corrupt primary", func(t *testing.T) {
		dir := testDataDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "chunk_1"+IndexExt), []byte("garbage"), 0o644))
		_, err := OpenNode(dir)
		assert.ErrorIs(t, err, btree.ErrCorruptSnapshot)
	})

	t.Run("index without records is skipped", func(t *testing.T) {
		dir := testDataDir(t)
		require.NoError(t, os.Remove(filepath.Join(dir, "chunk_1"+RecordExt)))
		_, err := OpenNode(dir)
		assert.ErrorIs(t, err, ErrNoPrimaryIndex)
	})
}

func TestNodeLookup(t *testing.T) {
	node, err := OpenNode(testDataDir(t))
	require.NoError(t, err)
	defer node.Close()

	line, err := node.Lookup("Bob")
	require.NoError(t, err)
	counts, err := record.DecodeFor("Bob", line)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2019: 1, 2020: 2}, counts)

	// hits in primary indexes do not load replicas
	assert.False(t, node.ReplicasLoaded())

	line, err = node.Lookup("Carol")
	require.NoError(t, err)
	assert.Equal(t, `{"Carol":{"2021":4}}`, string(line))
	assert.True(t, node.ReplicasLoaded())

	_, err = node.Lookup("Mallory")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReplicaLoadIsConcurrencySafe(t *testing.T) {
	node, err := OpenNode(testDataDir(t))
	require.NoError(t, err)
	defer node.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := node.Lookup("Carol")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, node.replicas, 1)
}

func TestLookupRecordFetchFailure(t *testing.T) {
	dir := testDataDir(t)
	node, err := OpenNode(dir)
	require.NoError(t, err)
	defer node.Close()

	// the record file shrinks after the index was built
	idx, ok := node.loaded.Load("chunk_1")
	require.True(t, ok)
	idx.records, err = record.Open(writeEmpty(t))
	require.NoError(t, err)

	_, err = node.Lookup("Bob")
	assert.ErrorIs(t, err, record.ErrOffsetOutOfRange)
}

func writeEmpty(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "empty"+RecordExt)
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

func TestServeRecord(t *testing.T) {
	_, addr := startServer(t, testConfig(testDataDir(t)))

	assert.Equal(t, "{\"Alice\":{\"2020\":3}}\n", ask(t, addr, "Alice\n"))
	assert.Equal(t, "{\"Carol\":{\"2021\":4}}\n", ask(t, addr, "Carol\r\n"))
	assert.Equal(t, common.NotFoundPrefix+"Mallory\n", ask(t, addr, "Mallory\n"))
}

func TestServeSuppressesDuplicates(t *testing.T) {
	s, addr := startServer(t, testConfig(testDataDir(t)))

	first := ask(t, addr, "Bob\n")
	assert.Equal(t, common.RespRecord, common.Classify([]byte(first)))

	second := ask(t, addr, "Bob\n")
	assert.Equal(t, common.DuplicatePrefix+"Bob\n", second)

	// a not found answer is remembered as well
	ask(t, addr, "Mallory\n")
	assert.Equal(t, common.RespDuplicate, common.Classify([]byte(ask(t, addr, "Mallory\n"))))

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), `dsearch_requests_total{result="duplicate"} 2`)
	assert.Contains(t, buf.String(), `dsearch_requests_total{result="record"} 1`)
}

func TestServeConcurrentDuplicates(t *testing.T) {
	_, addr := startServer(t, testConfig(testDataDir(t)))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		records int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if common.Classify([]byte(ask(t, addr, "Alice\n"))) == common.RespRecord {
				mu.Lock()
				records++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, records)
}

func TestServeWithoutSuppression(t *testing.T) {
	config := testConfig(testDataDir(t))
	config.DedupWindow = -1
	_, addr := startServer(t, config)

	for i := 0; i < 3; i++ {
		assert.Equal(t, "{\"Alice\":{\"2020\":3}}\n", ask(t, addr, "Alice\n"))
	}
}

func TestServeProbeIsSilent(t *testing.T) {
	s, addr := startServer(t, testConfig(testDataDir(t)))

	// connect and close without a request
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())
	resp, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Empty(t, resp)
	_ = conn.Close()

	assert.Empty(t, ask(t, addr, "\n"))

	// the server keeps working
	assert.Equal(t, "{\"Alice\":{\"2020\":3}}\n", ask(t, addr, "Alice\n"))

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "dsearch_probes_total 2")
}

func TestServeStopsOnCancel(t *testing.T) {
	s, err := NewServer(testConfig(testDataDir(t)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	listenAddr, err := s.Addr()
	require.NoError(t, err)
	addr := listenAddr.String()
	assert.Equal(t, "{\"Bob\":{\"2019\":1,\"2020\":2}}\n", ask(t, addr, "Bob\n"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestServeMetricsEndpoint(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	metricsAddr := ln.Addr().String()
	require.NoError(t, ln.Close())

	config := testConfig(testDataDir(t))
	config.MetricsEndpoint = metricsAddr
	_, addr := startServer(t, config)
	ask(t, addr, "Alice\n")

	var body string
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", metricsAddr)
		if err != nil {
			return false
		}
		defer conn.Close()
		fmt.Fprintf(conn, "GET /metrics HTTP/1.0\r\nHost: %s\r\n\r\n", metricsAddr)
		data, err := io.ReadAll(conn)
		body = string(data)
		return err == nil && strings.Contains(body, "200 OK")
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, body, "dsearch_lookup_duration_seconds")
	assert.Contains(t, body, `dsearch_indexes{kind="primary"} 1`)
}

func TestServeListenFailureReleasesAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	config := testConfig(testDataDir(t))
	config.Endpoint = ln.Addr().String()
	s, err := NewServer(config)
	require.NoError(t, err)

	assert.Error(t, s.Serve(context.Background()))

	got := make(chan error, 1)
	go func() {
		addr, err := s.Addr()
		assert.Nil(t, addr)
		got <- err
	}()
	select {
	case err := <-got:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Addr blocked after a failed listen")
	}
}

// closeCounter counts the Close calls of a listener
type closeCounter struct {
	net.Listener
	mu     sync.Mutex
	closes int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Listener.Close()
}

func (c *closeCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// TestServeListenerExitsWithoutCancel checks that the cancellation watcher
// ends when the accept loop returns on its own
func TestServeListenerExitsWithoutCancel(t *testing.T) {
	s, err := NewServer(testConfig(testDataDir(t)))
	require.NoError(t, err)

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ln := &closeCounter{Listener: inner}

	done := make(chan error, 1)
	go func() { done <- s.ServeListener(context.Background(), ln) }()
	_, err = s.Addr()
	require.NoError(t, err)

	// closed from outside while the context stays alive
	require.NoError(t, inner.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}

	// the watcher goroutine closes the listener once it is released
	assert.Eventually(t, func() bool { return ln.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	s, err := NewServer(testConfig(testDataDir(t)))
	require.NoError(t, err)
	lookup := s.lookup
	s.lookup = func(author string) ([]byte, error) {
		if author == "Crash" {
			panic("lookup failed")
		}
		return lookup(author)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()
	listenAddr, err := s.Addr()
	require.NoError(t, err)
	addr := listenAddr.String()

	assert.Empty(t, ask(t, addr, "Crash\n"))
	assert.Equal(t, "{\"Alice\":{\"2020\":3}}\n", ask(t, addr, "Alice\n"))

	var buf bytes.Buffer
	s.WritePrometheus(&buf)
	assert.Contains(t, buf.String(), "dsearch_handler_panics_total 1")
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	config := testConfig(testDataDir(t))
	config.MaxConns = 0
	_, err := NewServer(config)
	assert.Error(t, err)
}

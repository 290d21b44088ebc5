// Package layout distributes a record file over a set of storage nodes.
//
// A record file is cut into contiguous chunks, chunk i (1-based) is written to
// server<i>/chunk_<i>.lson and its j-th replica to
// server<((i-1+j) mod n)+1>/chunk_<i>_replica<j>.lson. Assignment returns the
// matching chunk -> server list that the query client needs.
package layout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ValentinKolb/dSearch/lib/directory"
	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger of the layout package
var Logger = logger.GetLogger("layout")

// RecordExt is the file extension of record files
const RecordExt = ".lson"

// ErrInvalidLayout is returned for chunk and replica counts that cannot be placed
var ErrInvalidLayout = errors.New("layout: invalid layout")

// ChunkName returns the name of chunk i (1-based), without extension
func ChunkName(i int) string {
	return fmt.Sprintf("chunk_%d", i)
}

// ReplicaName returns the name of the j-th replica (1-based) of chunk i
func ReplicaName(i, j int) string {
	return fmt.Sprintf("chunk_%d_replica%d", i, j)
}

// ServerDir returns the directory name of server i
func ServerDir(i int) string {
	return fmt.Sprintf("server%d", i)
}

// ReplicaServer returns the server holding the j-th replica of chunk i with n servers
func ReplicaServer(i, j, n int) int {
	return (i-1+j)%n + 1
}

func validate(chunks, replicas int) error {
	if chunks < 1 {
		return fmt.Errorf("%w: need at least one chunk, got %d", ErrInvalidLayout, chunks)
	}
	if replicas < 0 || replicas >= chunks {
		return fmt.Errorf("%w: %d replicas need more than %d servers", ErrInvalidLayout, replicas, chunks)
	}
	return nil
}

// Assignment returns, per chunk name, the servers holding the chunk: the
// primary first, then the replicas in order. One server exists per chunk.
func Assignment(chunks, replicas int) (map[string][]directory.ServerID, error) {
	if err := validate(chunks, replicas); err != nil {
		return nil, err
	}
	out := make(map[string][]directory.ServerID, chunks)
	for i := 1; i <= chunks; i++ {
		ids := []directory.ServerID{directory.ServerID(i)}
		for j := 1; j <= replicas; j++ {
			ids = append(ids, directory.ServerID(ReplicaServer(i, j, chunks)))
		}
		out[ChunkName(i)+RecordExt] = ids
	}
	return out, nil
}

// SplitStats summarizes a Split run
type SplitStats struct {
	Lines int      // lines distributed
	Files []string // files written, relative to the output directory
}

// Split reads the record file at path and writes chunks plus replicas into
// outDir. The first len%chunks chunks get one extra line.
func Split(path, outDir string, chunks, replicas int) (SplitStats, error) {
	var stats SplitStats
	if err := validate(chunks, replicas); err != nil {
		return stats, err
	}

	lines, err := readLines(path)
	if err != nil {
		return stats, err
	}
	stats.Lines = len(lines)

	for i := 1; i <= chunks; i++ {
		if err := os.MkdirAll(filepath.Join(outDir, ServerDir(i)), 0o755); err != nil {
			return stats, fmt.Errorf("failed to create server directory: %w", err)
		}
	}

	perChunk, remainder := len(lines)/chunks, len(lines)%chunks
	start := 0
	for i := 1; i <= chunks; i++ {
		size := perChunk
		if i <= remainder {
			size++
		}
		chunk := lines[start : start+size]
		start += size

		targets := []string{filepath.Join(ServerDir(i), ChunkName(i)+RecordExt)}
		for j := 1; j <= replicas; j++ {
			targets = append(targets, filepath.Join(ServerDir(ReplicaServer(i, j, chunks)), ReplicaName(i, j)+RecordExt))
		}
		for _, target := range targets {
			if err := writeLines(filepath.Join(outDir, target), chunk); err != nil {
				return stats, err
			}
			Logger.Infof("wrote %s (%d lines)", target, len(chunk))
			stats.Files = append(stats.Files, target)
		}
	}
	return stats, nil
}

// --------------------------------------------------------------------------
// Hash bucketing
// --------------------------------------------------------------------------

// Bucket returns the bucket of an author out of n: the sum of its code points modulo n
func Bucket(author string, n int) int {
	if n <= 0 {
		return 0
	}
	sum := 0
	for _, r := range author {
		sum += int(r)
	}
	return sum % n
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// readLines returns every line of path including its terminator. A missing
// terminator on the last line is added.
func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	br := bufio.NewReader(f)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if line[len(line)-1] != '\n' {
				line = append(line, '\n')
			}
			lines = append(lines, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
}

func writeLines(path string, lines [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := bw.Write(line); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ValentinKolb/dSearch/lib/btree"
)

// BuildStats summarizes a BuildIndex run
type BuildStats struct {
	Lines      int // lines read, including skipped ones
	Indexed    int // distinct authors in the resulting index
	Skipped    int // empty or undecodable lines, or authors longer than btree.MaxKeyLen
	Duplicates int // lines whose author was already indexed (the later line wins)
}

func (s BuildStats) String() string {
	return fmt.Sprintf("lines=%d indexed=%d skipped=%d duplicates=%d", s.Lines, s.Indexed, s.Skipped, s.Duplicates)
}

// BuildIndex scans the record file at path and returns a tree mapping every
// author to the byte offset of its line. Lines that cannot be decoded are skipped,
// as are authors too long to be saved in a snapshot.
func BuildIndex(path string, degree int) (*btree.Tree, BuildStats, error) {
	var stats BuildStats

	tree, err := btree.New(degree)
	if err != nil {
		return nil, stats, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	var offset uint64
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			stats.Lines++
			start := offset
			offset += uint64(len(line))

			trimmed := bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(trimmed)) == 0 {
				stats.Skipped++
			} else if rec, err := Decode(trimmed); err != nil || len(rec.Author) > btree.MaxKeyLen {
				stats.Skipped++
			} else {
				if _, exists := tree.Search(rec.Author); exists {
					stats.Duplicates++
				}
				tree.Insert(rec.Author, start)
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, stats, fmt.Errorf("failed to read %s: %w", path, readErr)
		}
	}

	stats.Indexed = tree.Len()
	return tree, stats, nil
}

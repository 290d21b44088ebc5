package record

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrOffsetOutOfRange is returned when a locator points at or past the end of a record file
var ErrOffsetOutOfRange = errors.New("record: offset out of range")

// maxLineBytes bounds a single record line
const maxLineBytes = 4 << 20

// File is an opened record file. Lines are read with positional reads, so a
// single File can be shared between concurrent readers.
type File struct {
	path string
	f    *os.File
	size int64
}

// Open opens the record file at path for reading
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat record file %s: %w", path, err)
	}
	return &File{path: path, f: f, size: info.Size()}, nil
}

// Path returns the path the file was opened with
func (rf *File) Path() string {
	return rf.path
}

// Size returns the size of the file in bytes as seen when it was opened
func (rf *File) Size() int64 {
	return rf.size
}

// ReadAt returns the line starting at offset without its line terminator.
// The last line of a file does not need to be terminated.
func (rf *File) ReadAt(offset uint64) ([]byte, error) {
	if offset >= uint64(rf.size) {
		return nil, fmt.Errorf("%w: %d >= %d (%s)", ErrOffsetOutOfRange, offset, rf.size, rf.path)
	}

	section := io.NewSectionReader(rf.f, int64(offset), rf.size-int64(offset))
	br := bufio.NewReader(io.LimitReader(section, maxLineBytes+1))

	line, err := br.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read record at %d: %w", offset, err)
	}
	if len(line) > maxLineBytes {
		return nil, fmt.Errorf("record at %d exceeds %d bytes", offset, maxLineBytes)
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// Close closes the underlying file
func (rf *File) Close() error {
	return rf.f.Close()
}

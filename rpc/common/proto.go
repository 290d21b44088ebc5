package common

import (
	"bytes"
	"errors"
	"strings"
)

// --------------------------------------------------------------------------
// Wire protocol
// --------------------------------------------------------------------------
//
// One request per connection. The client writes the author followed by a
// newline, the storage node answers with a single line and closes the
// connection. A found record is sent verbatim as stored in the record file,
// everything else is one of the sentinel lines below.

const (
	// NotFoundPrefix starts the response for an author no index of the node contains
	NotFoundPrefix = "未找到作者: "

	// DuplicatePrefix starts the response for a suppressed repeated query
	DuplicatePrefix = "重复查询，已忽略: "
)

// ErrInvalidRequest is returned for authors that cannot be sent as a request line
var ErrInvalidRequest = errors.New("invalid request")

// ResponseKind classifies a response payload
type ResponseKind uint8

const (
	RespRecord ResponseKind = iota
	RespNotFound
	RespDuplicate
)

// String returns the string representation of a ResponseKind
func (k ResponseKind) String() string {
	switch k {
	case RespRecord:
		return "record"
	case RespNotFound:
		return "not_found"
	case RespDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Classify inspects a response payload (with or without line terminator)
func Classify(payload []byte) ResponseKind {
	switch {
	case bytes.HasPrefix(payload, []byte(NotFoundPrefix)):
		return RespNotFound
	case bytes.HasPrefix(payload, []byte(DuplicatePrefix)):
		return RespDuplicate
	default:
		return RespRecord
	}
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewRequest returns the request line for author
func NewRequest(author string) ([]byte, error) {
	if author == "" || strings.ContainsAny(author, "\r\n") {
		return nil, ErrInvalidRequest
	}
	return []byte(author + "\n"), nil
}

// ParseRequest extracts the author from a request line. It returns false for
// an empty line.
func ParseRequest(line []byte) (string, bool) {
	author := string(bytes.TrimRight(line, "\r\n"))
	return author, author != ""
}

// NewRecordResponse returns the response line for a found record
func NewRecordResponse(record []byte) []byte {
	out := make([]byte, 0, len(record)+1)
	out = append(out, record...)
	return append(out, '\n')
}

// NewNotFoundResponse returns the not found sentinel line for author
func NewNotFoundResponse(author string) []byte {
	return []byte(NotFoundPrefix + author + "\n")
}

// NewDuplicateResponse returns the duplicate sentinel line for author
func NewDuplicateResponse(author string) []byte {
	return []byte(DuplicatePrefix + author + "\n")
}

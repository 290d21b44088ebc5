package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

var (
	// ErrMalformed is returned (wrapped) when a record line cannot be decoded
	ErrMalformed = errors.New("record: malformed record")

	// ErrAuthorMismatch is returned when a decoded record belongs to another author
	ErrAuthorMismatch = errors.New("record: author mismatch")
)

// Record holds the per-year paper counts of a single author
type Record struct {
	Author string
	Counts map[int]int
}

// Encode serializes a record into its line form: {"<author>":{"<year>":<count>,...}}.
// Years are written in ascending order. The result has no trailing newline.
func Encode(r Record) ([]byte, error) {
	if r.Author == "" {
		return nil, fmt.Errorf("%w: empty author", ErrMalformed)
	}

	years := make([]int, 0, len(r.Counts))
	for year := range r.Counts {
		years = append(years, year)
	}
	sort.Ints(years)

	author, err := json.Marshal(r.Author)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(author)
	buf.WriteString(":{")
	for i, year := range years {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('"')
		buf.WriteString(strconv.Itoa(year))
		buf.WriteString(`":`)
		buf.WriteString(strconv.Itoa(r.Counts[year]))
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}

// Decode parses a single record line. The line must be a JSON object with exactly
// one author key whose value maps decimal year strings to integer counts.
func Decode(line []byte) (Record, error) {
	var raw map[string]map[string]json.Number

	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(line)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return Record{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	if len(raw) != 1 {
		return Record{}, fmt.Errorf("%w: expected exactly one author, got %d", ErrMalformed, len(raw))
	}

	var rec Record
	for author, years := range raw {
		if author == "" {
			return Record{}, fmt.Errorf("%w: empty author", ErrMalformed)
		}
		rec.Author = author
		rec.Counts = make(map[int]int, len(years))
		for yearStr, countNum := range years {
			year, err := strconv.Atoi(yearStr)
			if err != nil {
				return Record{}, fmt.Errorf("%w: invalid year %q", ErrMalformed, yearStr)
			}
			count, err := strconv.Atoi(countNum.String())
			if err != nil {
				return Record{}, fmt.Errorf("%w: invalid count %q for year %d", ErrMalformed, countNum, year)
			}
			rec.Counts[year] = count
		}
	}
	return rec, nil
}

// DecodeFor decodes a record and verifies that it belongs to author
func DecodeFor(author string, line []byte) (map[int]int, error) {
	rec, err := Decode(line)
	if err != nil {
		return nil, err
	}
	if rec.Author != author {
		return nil, fmt.Errorf("%w: requested %q, got %q", ErrAuthorMismatch, author, rec.Author)
	}
	return rec.Counts, nil
}

// --------------------------------------------------------------------------
// Aggregation helpers
// --------------------------------------------------------------------------

// Merge adds every count of src into dst. Equal years are summed.
func Merge(dst, src map[int]int) {
	for year, count := range src {
		dst[year] += count
	}
}

// Filter returns the counts within [from, to]. A bound of -1 means unbounded.
func Filter(counts map[int]int, from, to int) map[int]int {
	out := make(map[int]int)
	for year, count := range counts {
		if (from == -1 || year >= from) && (to == -1 || year <= to) {
			out[year] = count
		}
	}
	return out
}

// Total returns the sum of all counts
func Total(counts map[int]int) int {
	total := 0
	for _, count := range counts {
		total += count
	}
	return total
}

// Years returns the years of counts in ascending order
func Years(counts map[int]int) []int {
	years := make([]int, 0, len(counts))
	for year := range counts {
		years = append(years, year)
	}
	sort.Ints(years)
	return years
}

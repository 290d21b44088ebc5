package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	rec := Record{Author: "Jane Doe", Counts: map[int]int{2021: 1, 2019: 2, 2020: 5}}

	line, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"Jane Doe":{"2019":2,"2020":5,"2021":1}}`, string(line))

	decoded, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, rec, decoded)
}

func TestEncodeEscapesDelimiters(t *testing.T) {
	rec := Record{Author: `O"Brien, {Jr.}`, Counts: map[int]int{1999: 3}}

	line, err := Encode(rec)
	require.NoError(t, err)

	decoded, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, rec.Author, decoded.Author)
	assert.Equal(t, 3, decoded.Counts[1999])
}

func TestEncodeEmptyAuthor(t *testing.T) {
	_, err := Encode(Record{Counts: map[int]int{2020: 1}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeAcceptsWhitespace(t *testing.T) {
	rec, err := Decode([]byte(" { \"A\" : { \"2001\" : 4 } }\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "A", rec.Author)
	assert.Equal(t, map[int]int{2001: 4}, rec.Counts)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":          ``,
		"not json":       `Jane Doe`,
		"no author":      `{}`,
		"two authors":    `{"a":{"2020":1},"b":{"2020":1}}`,
		"empty author":   `{"":{"2020":1}}`,
		"counts not map": `{"a":5}`,
		"year not int":   `{"a":{"twenty":1}}`,
		"count float":    `{"a":{"2020":1.5}}`,
		"trailing data":  `{"a":{"2020":1}} {"b":{}}`,
		"truncated":      `{"a":{"2020":1}`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(line))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeFor(t *testing.T) {
	line := []byte(`{"Jane Doe":{"2020":5}}`)

	counts, err := DecodeFor("Jane Doe", line)
	require.NoError(t, err)
	assert.Equal(t, map[int]int{2020: 5}, counts)

	_, err = DecodeFor("John Doe", line)
	assert.ErrorIs(t, err, ErrAuthorMismatch)
}

func TestMergeIsAdditive(t *testing.T) {
	merged := map[int]int{}
	Merge(merged, map[int]int{2020: 3})
	Merge(merged, map[int]int{2020: 2, 2021: 1})

	assert.Equal(t, map[int]int{2020: 5, 2021: 1}, merged)
}

func TestFilterAndTotal(t *testing.T) {
	counts := map[int]int{2018: 1, 2019: 2, 2020: 3, 2021: 4}

	assert.Equal(t, counts, Filter(counts, -1, -1))
	assert.Equal(t, map[int]int{2019: 2, 2020: 3}, Filter(counts, 2019, 2020))
	assert.Equal(t, map[int]int{2020: 3, 2021: 4}, Filter(counts, 2020, -1))
	assert.Equal(t, map[int]int{2018: 1}, Filter(counts, -1, 2018))
	assert.Empty(t, Filter(counts, 2022, -1))

	assert.Equal(t, 10, Total(counts))
	assert.Equal(t, 0, Total(nil))
	assert.Equal(t, []int{2018, 2019, 2020, 2021}, Years(counts))
}

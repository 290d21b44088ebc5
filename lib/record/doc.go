/*
Package record implements the record files that back every chunk.

A record file (conventionally named *.lson) holds one author per line:

	{"Jane Doe":{"2019":2,"2020":5}}

The line is a JSON object with exactly one key, the author name, mapping
decimal year strings to integer paper counts. Encode and Decode implement
this format strictly: JSON escaping applies, so author names containing
quotes, commas or braces are supported.

Record files are never parsed as a whole at query time. BuildIndex scans a
file once and produces a btree.Tree mapping each author to the byte offset
of its line, which is then persisted next to the record file as a snapshot.
A storage node loads the snapshot and uses File.ReadAt to fetch exactly the
line a locator points to.

Usage:

	tree, stats, err := record.BuildIndex("chunk_1.lson", btree.DefaultDegree)
	if err != nil {
		return err
	}
	log.Println(stats)

	f, _ := record.Open("chunk_1.lson")
	offset, ok := tree.Search("Jane Doe")
	if ok {
		line, _ := f.ReadAt(offset)
		counts, _ := record.DecodeFor("Jane Doe", line)
	}

Merge, Filter and Total operate on the decoded year -> count mappings and
are used to combine the partial results of several chunks.
*/
package record

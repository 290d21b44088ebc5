// Package btree implements the ordered index used by every storage node to
// turn a linear scan over a record file into a logarithmic lookup.
//
// The index is a classic preemptive-split B-tree with a configurable minimum
// degree t (the builder uses DefaultDegree = 4). Keys are author names, values
// are byte offsets of the record line inside the chunk's record file.
//
// Key Characteristics:
//
//   - Insert splits every full node on the way down, so no node ever has to be
//     split after an insert. Inserting an existing key overwrites its value.
//   - Search performs a binary search per node and never fails for absent keys,
//     it simply reports that the key was not found.
//   - Nodes are stored in an arena and addressed by handle. There are no parent
//     pointers, which keeps the structure trivially serializable.
//
// Persistence:
//
// A tree is persisted as one immutable snapshot (see Tree.Save for the layout).
// There is no incremental update: any mutation after Load requires saving the
// whole tree again. SaveFile replaces the target file atomically via rename.
//
// Thread Safety:
//
//	A tree is built once by a single goroutine and is read-only afterwards.
//	Read-only trees can be shared between any number of goroutines without locking.
package btree

package btree

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum        = "DSBTREE\x00" // File format identifier
	snapshotVersion = 1             // Snapshot format version

	maxDepth    = 64      // Upper bound for the tree height in a snapshot
	bufferBytes = 1 << 20 // 1 MB read / write buffer
)

// MaxKeyLen is the length limit of a key in a snapshot, in bytes
const MaxKeyLen = 1 << 16

// ErrCorruptSnapshot is returned (wrapped) when a snapshot cannot be decoded
var ErrCorruptSnapshot = errors.New("btree: corrupt snapshot")

// ErrKeyTooLong is returned by Save for a tree holding a key longer than MaxKeyLen
var ErrKeyTooLong = errors.New("btree: key exceeds snapshot limit")

// --------------------------------------------------------------------------
// Save
// --------------------------------------------------------------------------

// Save writes the whole tree as a single snapshot to w.
//
// Layout (little endian):
//
//	magic [8]byte | version uint8 | degree uint32 | keys uint64 | nodes uint32 |
//	pre-order node records | crc32 uint32
//
// A node record is: leaf uint8 | nkeys uint32 | nkeys * (keyLen uint32, key, value uint64).
// Internal nodes are directly followed by their nkeys+1 child records.
// The checksum covers every byte after the magic number. Nothing is written
// if a key is longer than MaxKeyLen.
func (t *Tree) Save(w io.Writer) error {
	var long error
	t.Ascend(func(key string, _ uint64) bool {
		if len(key) > MaxKeyLen {
			long = fmt.Errorf("%w: %d bytes (max %d)", ErrKeyTooLong, len(key), MaxKeyLen)
			return false
		}
		return true
	})
	if long != nil {
		return long
	}

	bw := bufio.NewWriterSize(w, bufferBytes)

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	enc := &encoder{w: io.MultiWriter(bw, crc)}

	enc.u8(snapshotVersion)
	enc.u32(uint32(t.degree))
	enc.u64(uint64(t.count))
	enc.u32(uint32(len(t.nodes)))
	t.writeNode(enc, t.root)
	if enc.err != nil {
		return enc.err
	}

	// the checksum itself is not part of the checksum
	if err := binary.Write(bw, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	return bw.Flush()
}

func (t *Tree) writeNode(enc *encoder, idx int32) {
	n := &t.nodes[idx]
	if n.leaf {
		enc.u8(1)
	} else {
		enc.u8(0)
	}
	enc.u32(uint32(len(n.keys)))
	for i, key := range n.keys {
		enc.u32(uint32(len(key)))
		enc.bytes([]byte(key))
		enc.u64(n.values[i])
	}
	if !n.leaf {
		for _, child := range n.children {
			t.writeNode(enc, child)
		}
	}
}

// SaveFile writes the snapshot to a temporary file next to path and renames it
// into place, so readers never observe a partially written snapshot.
func (t *Tree) SaveFile(path string) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if err = t.Save(tmp); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// --------------------------------------------------------------------------
// Load
// --------------------------------------------------------------------------

// Load reads a snapshot written by Save and returns the restored tree.
// The restored tree is validated with Check before it is returned.
func Load(r io.Reader) (*Tree, error) {
	br := bufio.NewReaderSize(r, bufferBytes)

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if string(magicBytes) != magicNum {
		return nil, fmt.Errorf("%w: magic number mismatch", ErrCorruptSnapshot)
	}

	crc := crc32.NewIEEE()
	dec := &decoder{r: io.TeeReader(br, crc)}

	// Read and verify version
	if version := dec.u8(); dec.err == nil && version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (expected %d)", ErrCorruptSnapshot, version, snapshotVersion)
	}

	degree := int(dec.u32())
	keyCount := dec.u64()
	nodeCount := dec.u32()
	if dec.err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorruptSnapshot, dec.err)
	}
	if degree < MinDegree {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, ErrInvalidDegree)
	}

	l := &loader{
		tree:      &Tree{degree: degree},
		dec:       dec,
		nodeCount: nodeCount,
	}
	root, err := l.readNode(0)
	if err != nil {
		return nil, err
	}
	t := l.tree
	t.root = root

	if uint32(len(t.nodes)) != nodeCount {
		return nil, fmt.Errorf("%w: read %d nodes, header says %d", ErrCorruptSnapshot, len(t.nodes), nodeCount)
	}
	if uint64(t.count) != keyCount {
		return nil, fmt.Errorf("%w: read %d keys, header says %d", ErrCorruptSnapshot, t.count, keyCount)
	}

	// Verify checksum (read from the raw reader, it is not part of the checksum)
	var sum uint32
	if err := binary.Read(br, binary.LittleEndian, &sum); err != nil {
		return nil, fmt.Errorf("%w: checksum: %v", ErrCorruptSnapshot, err)
	}
	if sum != crc.Sum32() {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorruptSnapshot)
	}

	if err := t.Check(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return t, nil
}

// LoadFile reads a snapshot from the file at path
func LoadFile(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// loader restores the node arena from pre-order node records
type loader struct {
	tree      *Tree
	dec       *decoder
	nodeCount uint32
}

func (l *loader) readNode(depth int) (int32, error) {
	t := l.tree
	if depth > maxDepth {
		return 0, fmt.Errorf("%w: tree deeper than %d levels", ErrCorruptSnapshot, maxDepth)
	}
	if uint32(len(t.nodes)) >= l.nodeCount {
		return 0, fmt.Errorf("%w: more node records than announced (%d)", ErrCorruptSnapshot, l.nodeCount)
	}

	leaf := l.dec.u8()
	nkeys := l.dec.u32()
	if l.dec.err != nil {
		return 0, fmt.Errorf("%w: node header: %v", ErrCorruptSnapshot, l.dec.err)
	}
	if leaf > 1 {
		return 0, fmt.Errorf("%w: invalid leaf flag %d", ErrCorruptSnapshot, leaf)
	}
	if int(nkeys) > t.maxKeys() {
		return 0, fmt.Errorf("%w: node with %d keys exceeds degree %d", ErrCorruptSnapshot, nkeys, t.degree)
	}

	idx := t.alloc(leaf == 1)
	keys := make([]string, nkeys)
	values := make([]uint64, nkeys)
	for i := range keys {
		keyLen := l.dec.u32()
		if l.dec.err == nil && keyLen > MaxKeyLen {
			return 0, fmt.Errorf("%w: key of %d bytes", ErrCorruptSnapshot, keyLen)
		}
		keys[i] = string(l.dec.bytes(int(keyLen)))
		values[i] = l.dec.u64()
	}
	if l.dec.err != nil {
		return 0, fmt.Errorf("%w: node keys: %v", ErrCorruptSnapshot, l.dec.err)
	}

	var children []int32
	if leaf == 0 {
		children = make([]int32, 0, nkeys+1)
		for i := 0; i <= int(nkeys); i++ {
			child, err := l.readNode(depth + 1)
			if err != nil {
				return 0, err
			}
			children = append(children, child)
		}
	}

	n := &t.nodes[idx]
	n.keys = keys
	n.values = values
	n.children = children
	t.count += len(keys)
	return idx, nil
}

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

// encoder writes little endian values and keeps the first error
type encoder struct {
	w   io.Writer
	buf [8]byte
	err error
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u8(v uint8) {
	e.buf[0] = v
	e.write(e.buf[:1])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

func (e *encoder) u64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

func (e *encoder) bytes(b []byte) {
	e.write(b)
}

// decoder reads little endian values and keeps the first error
type decoder struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return d.buf[:n]
	}
	_, d.err = io.ReadFull(d.r, d.buf[:n])
	return d.buf[:n]
}

func (d *decoder) u8() uint8 {
	return d.read(1)[0]
}

func (d *decoder) u32() uint32 {
	return binary.LittleEndian.Uint32(d.read(4))
}

func (d *decoder) u64() uint64 {
	return binary.LittleEndian.Uint64(d.read(8))
}

func (d *decoder) bytes(n int) []byte {
	if d.err != nil || n == 0 {
		return nil
	}
	b := make([]byte, n)
	_, d.err = io.ReadFull(d.r, b)
	return b
}

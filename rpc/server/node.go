package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/dSearch/lib/btree"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// IndexExt is the file extension of index snapshots
	IndexExt = ".btree"

	// RecordExt is the file extension of record files
	RecordExt = ".lson"

	// replicaMarker marks an index as a replica index
	replicaMarker = "_replica"
)

var (
	// ErrNoPrimaryIndex is returned when a data directory holds no usable primary index
	ErrNoPrimaryIndex = errors.New("no primary index found")

	// ErrNotFound is returned by Lookup when no index contains the author
	ErrNotFound = errors.New("author not found")
)

// IsReplicaName reports whether an index name denotes a replica index
func IsReplicaName(name string) bool {
	return strings.Contains(name, replicaMarker)
}

// index is a loaded snapshot together with its record file
type index struct {
	name    string
	replica bool
	tree    *btree.Tree
	records *record.File
}

// IndexInfo describes an index known to a node
type IndexInfo struct {
	Name    string
	Replica bool
	Loaded  bool
	Keys    int
	Height  int
}

// Node holds the indexes of one storage node.
//
// Primary indexes are loaded by OpenNode and never change afterwards. Replica
// indexes are loaded on the first lookup that misses every primary index, at
// most once for the lifetime of the node.
//
// Thread-safety: All methods are safe for concurrent access.
type Node struct {
	dataDir string

	primary      []*index // sorted by name, read-only after OpenNode
	replicaNames []string // sorted

	replicaOnce  sync.Mutex
	replicaReady atomic.Bool
	replicas     []*index

	// registry of all loaded indexes by name
	loaded *xsync.MapOf[string, *index]
}

// OpenNode scans dataDir for <name>.btree snapshots with a sibling
// <name>.lson record file and loads all primary indexes. It fails if the
// directory cannot be read, a primary snapshot is corrupt or no primary index exists.
func OpenNode(dataDir string) (*Node, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data directory: %w", err)
	}

	n := &Node{
		dataDir: dataDir,
		loaded:  xsync.NewMapOf[string, *index](),
	}

	indexed := make(map[string]bool)
	var primaryNames []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), IndexExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), IndexExt)
		if _, err := os.Stat(filepath.Join(dataDir, name+RecordExt)); err != nil {
			Logger.Warningf("skipping index %s: record file %s not usable: %v", entry.Name(), name+RecordExt, err)
			continue
		}
		indexed[name] = true
		if IsReplicaName(name) {
			n.replicaNames = append(n.replicaNames, name)
		} else {
			primaryNames = append(primaryNames, name)
		}
	}

	// record files without an index are never searched
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), RecordExt)
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), RecordExt) && !indexed[name] {
			Logger.Warningf("record file %s has no index, build one with 'dsearch index build'", entry.Name())
		}
	}

	sort.Strings(primaryNames)
	sort.Strings(n.replicaNames)

	for _, name := range primaryNames {
		idx, err := n.load(name, false)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.primary = append(n.primary, idx)
	}
	if len(n.primary) == 0 {
		n.Close()
		return nil, fmt.Errorf("%w in %s", ErrNoPrimaryIndex, dataDir)
	}

	Logger.Infof("loaded %d primary indexes, %d replica indexes deferred", len(n.primary), len(n.replicaNames))
	return n, nil
}

// load reads the snapshot and opens the record file of index name
func (n *Node) load(name string, replica bool) (*index, error) {
	tree, err := btree.LoadFile(filepath.Join(n.dataDir, name+IndexExt))
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", name, err)
	}
	records, err := record.Open(filepath.Join(n.dataDir, name+RecordExt))
	if err != nil {
		return nil, fmt.Errorf("failed to open record file of %s: %w", name, err)
	}

	idx := &index{name: name, replica: replica, tree: tree, records: records}
	n.loaded.Store(name, idx)
	Logger.Infof("loaded index %s (%d keys, height %d)", name, tree.Len(), tree.Height())
	return idx, nil
}

// replicaIndexes returns the replica indexes, loading them on first use
func (n *Node) replicaIndexes() []*index {
	if n.replicaReady.Load() {
		return n.replicas
	}

	n.replicaOnce.Lock()
	defer n.replicaOnce.Unlock()
	if n.replicaReady.Load() {
		return n.replicas
	}

	for _, name := range n.replicaNames {
		idx, err := n.load(name, true)
		if err != nil {
			Logger.Errorf("skipping replica index: %v", err)
			continue
		}
		n.replicas = append(n.replicas, idx)
	}
	n.replicaReady.Store(true)
	return n.replicas
}

// Lookup returns the record line of author. Primary indexes are searched in
// name order first, replica indexes only if no primary index contains the author.
func (n *Node) Lookup(author string) ([]byte, error) {
	if line, ok, err := search(n.primary, author); ok {
		return line, err
	}
	if line, ok, err := search(n.replicaIndexes(), author); ok {
		return line, err
	}
	return nil, ErrNotFound
}

func search(indexes []*index, author string) ([]byte, bool, error) {
	for _, idx := range indexes {
		offset, ok := idx.tree.Search(author)
		if !ok {
			continue
		}
		line, err := idx.records.ReadAt(offset)
		if err != nil {
			return nil, true, fmt.Errorf("index %s: %w", idx.name, err)
		}
		return line, true, nil
	}
	return nil, false, nil
}

// Indexes describes all indexes of the node, primary indexes first
func (n *Node) Indexes() []IndexInfo {
	var infos []IndexInfo
	add := func(name string, replica bool) {
		info := IndexInfo{Name: name, Replica: replica}
		if idx, ok := n.loaded.Load(name); ok {
			info.Loaded = true
			info.Keys = idx.tree.Len()
			info.Height = idx.tree.Height()
		}
		infos = append(infos, info)
	}
	for _, idx := range n.primary {
		add(idx.name, false)
	}
	for _, name := range n.replicaNames {
		add(name, true)
	}
	return infos
}

// ReplicasLoaded reports whether the replica indexes have been loaded
func (n *Node) ReplicasLoaded() bool {
	return n.replicaReady.Load()
}

// Close closes all record files
func (n *Node) Close() {
	n.loaded.Range(func(name string, idx *index) bool {
		if err := idx.records.Close(); err != nil {
			Logger.Warningf("failed to close record file of %s: %v", name, err)
		}
		return true
	})
}

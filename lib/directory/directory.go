package directory

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

// Logger is the logger of the directory package
var Logger = logger.GetLogger("directory")

// ServerID identifies a storage node
type ServerID uint64

// ErrInvalidTopology is returned (wrapped) when a topology fails validation
var ErrInvalidTopology = errors.New("directory: invalid topology")

// Topology is the static cluster layout: server addresses and, per chunk, the
// ordered list of servers holding it. The first server of a list is the primary.
type Topology struct {
	Servers map[ServerID]string
	Chunks  map[string][]ServerID
}

// Validate checks that every chunk has at least one server, that every
// referenced server has an address and that no server holds a chunk twice.
func (t Topology) Validate() error {
	if len(t.Chunks) == 0 {
		return fmt.Errorf("%w: no chunks", ErrInvalidTopology)
	}
	for id, addr := range t.Servers {
		if addr == "" {
			return fmt.Errorf("%w: server %d has no address", ErrInvalidTopology, id)
		}
	}
	for chunk, ids := range t.Chunks {
		if chunk == "" {
			return fmt.Errorf("%w: empty chunk name", ErrInvalidTopology)
		}
		if len(ids) == 0 {
			return fmt.Errorf("%w: chunk %q has no servers", ErrInvalidTopology, chunk)
		}
		seen := make(map[ServerID]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := t.Servers[id]; !ok {
				return fmt.Errorf("%w: chunk %q references unknown server %d", ErrInvalidTopology, chunk, id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: server %d listed twice for chunk %q", ErrInvalidTopology, id, chunk)
			}
			seen[id] = struct{}{}
		}
	}
	return nil
}

// Status is a point in time view of server liveness. Both lists are sorted.
type Status struct {
	Alive []ServerID
	Down  []ServerID
}

// Transition describes a liveness change observed by a health check
type Transition struct {
	Server  ServerID
	Address string
	Up      bool
}

func (t Transition) String() string {
	state := "down"
	if t.Up {
		state = "up"
	}
	return fmt.Sprintf("server %d (%s) is %s", t.Server, t.Address, state)
}

// --------------------------------------------------------------------------
// Directory
// --------------------------------------------------------------------------

// Directory holds the chunk assignment and the liveness state of all servers
// and selects, per chunk, which server a query should contact.
//
// All servers start out alive. Liveness is only refreshed by HealthCheck (or
// Monitor) and by the manual overrides MarkDown and MarkUp.
//
// The selection methods on the Directory itself operate on a round that lives
// as long as the directory (see Reset). Query executors should use NewRound to
// get state scoped to a single query.
//
// Thread-safety: All methods are safe for concurrent access. Selection and
// attempt marking happen under the same lock.
type Directory struct {
	mu sync.Mutex

	addresses  map[ServerID]string
	assignment map[string][]ServerID
	servers    []ServerID // sorted
	chunks     []string   // sorted

	alive         map[ServerID]struct{}
	previousAlive map[ServerID]struct{}

	lifetime *Round

	probe        ProbeFunc
	probeTimeout time.Duration
	onTransition func(Transition)
}

// New validates the topology and creates a directory in which every server is alive.
// The topology is copied, later changes to it have no effect.
func New(topology Topology) (*Directory, error) {
	if err := topology.Validate(); err != nil {
		return nil, err
	}

	d := &Directory{
		addresses:     make(map[ServerID]string, len(topology.Servers)),
		assignment:    make(map[string][]ServerID, len(topology.Chunks)),
		alive:         make(map[ServerID]struct{}, len(topology.Servers)),
		previousAlive: make(map[ServerID]struct{}, len(topology.Servers)),
		probe:         DialProbe,
		probeTimeout:  DefaultProbeTimeout,
	}
	for id, addr := range topology.Servers {
		d.addresses[id] = addr
		d.servers = append(d.servers, id)
		d.alive[id] = struct{}{}
		d.previousAlive[id] = struct{}{}
	}
	for chunk, ids := range topology.Chunks {
		d.assignment[chunk] = append([]ServerID(nil), ids...)
		d.chunks = append(d.chunks, chunk)
	}
	sortIDs(d.servers)
	sort.Strings(d.chunks)

	d.lifetime = d.NewRound()
	return d, nil
}

// Chunks returns the names of all chunks in sorted order
func (d *Directory) Chunks() []string {
	return append([]string(nil), d.chunks...)
}

// Servers returns the ids of all servers in sorted order
func (d *Directory) Servers() []ServerID {
	return append([]ServerID(nil), d.servers...)
}

// Assignment returns the ordered server list of chunk
func (d *Directory) Assignment(chunk string) ([]ServerID, bool) {
	ids, ok := d.assignment[chunk]
	if !ok {
		return nil, false
	}
	return append([]ServerID(nil), ids...), true
}

// AddressOf returns the network address of a server
func (d *Directory) AddressOf(id ServerID) (string, bool) {
	addr, ok := d.addresses[id]
	return addr, ok
}

// IsAlive reports whether the server is in the current alive set
func (d *Directory) IsAlive(id ServerID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.alive[id]
	return ok
}

// StatusSnapshot returns the alive and down servers
func (d *Directory) StatusSnapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	var status Status
	for _, id := range d.servers {
		if _, ok := d.alive[id]; ok {
			status.Alive = append(status.Alive, id)
		} else {
			status.Down = append(status.Down, id)
		}
	}
	return status
}

// MarkDown removes a server from the alive set until the next health check
func (d *Directory) MarkDown(id ServerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.alive, id)
}

// MarkUp adds a known server to the alive set until the next health check
func (d *Directory) MarkUp(id ServerID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.addresses[id]; ok {
		d.alive[id] = struct{}{}
	}
}

// --------------------------------------------------------------------------
// Lifetime round
// --------------------------------------------------------------------------

// PrimaryFor returns the primary of chunk if it is alive
func (d *Directory) PrimaryFor(chunk string) (ServerID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.primaryLocked(chunk)
}

// NextUntriedReplicaFor returns the first alive replica of chunk that has not
// been returned before for this chunk and marks it as attempted. The attempted
// set is only cleared by Reset.
func (d *Directory) NextUntriedReplicaFor(chunk string) (ServerID, bool) {
	return d.lifetime.NextUntriedReplicaFor(chunk)
}

// MarkChunkSatisfied marks chunk as answered. It returns false if the chunk
// was already marked since the last Reset.
func (d *Directory) MarkChunkSatisfied(chunk string) bool {
	return d.lifetime.MarkChunkSatisfied(chunk)
}

// Reset clears the attempted replicas and satisfied chunks of the lifetime round
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lifetime.resetLocked()
}

func (d *Directory) primaryLocked(chunk string) (ServerID, bool) {
	ids := d.assignment[chunk]
	if len(ids) == 0 {
		return 0, false
	}
	if _, ok := d.alive[ids[0]]; !ok {
		return 0, false
	}
	return ids[0], true
}

func sortIDs(ids []ServerID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

package common

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dSearch/lib/directory"
)

// --------------------------------------------------------------------------
// Formatting helpers
// --------------------------------------------------------------------------

type configWriter struct {
	sb strings.Builder
}

func (w *configWriter) addSection(title string) {
	w.sb.WriteString("\n")
	w.sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
}

func (w *configWriter) addField(name, value string) {
	w.sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
}

func formatWindow(d time.Duration) string {
	switch {
	case d < 0:
		return "disabled"
	case d == 0:
		return "process lifetime"
	default:
		return d.String()
	}
}

// --------------------------------------------------------------------------
// Storage node configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a storage node
type ServerConfig struct {
	// Endpoint is the TCP address the node listens on (host:port)
	Endpoint string

	// DataDir is scanned for <name>.btree snapshots with a sibling <name>.lson record file
	DataDir string

	// TimeoutSecond is the read and write deadline of a connection
	TimeoutSecond int64

	// MaxConns bounds the number of connections handled at the same time
	MaxConns int

	// DedupWindow controls duplicate query suppression:
	// 0 suppresses a repeated author for the lifetime of the process,
	// > 0 suppresses it for the given duration, < 0 disables suppression.
	DedupWindow time.Duration

	// MetricsEndpoint serves Prometheus metrics at /metrics if not empty
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for values the node cannot start with
func (c *ServerConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory must not be empty")
	}
	if c.TimeoutSecond <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.TimeoutSecond)
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("max-conns must be positive, got %d", c.MaxConns)
	}
	_, err := ParseLogLevel(c.LogLevel)
	return err
}

// Timeout returns TimeoutSecond as a duration
func (c *ServerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var w configWriter

	// Network settings
	w.addSection("Storage Node")
	w.addField("Endpoint", c.Endpoint)
	w.addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	w.addField("Max Connections", strconv.Itoa(c.MaxConns))
	w.addField("Dedup Window", formatWindow(c.DedupWindow))

	// Storage
	w.addSection("Storage")
	w.addField("Data Directory", c.DataDir)

	// Observability
	w.addSection("Logging")
	w.addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		w.addField("Metrics", "http://"+c.MetricsEndpoint+"/metrics")
	}

	return w.sb.String()
}

// --------------------------------------------------------------------------
// Query client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the cluster layout and the tuning parameters of the query client
type ClientConfig struct {
	// Servers maps server ids to addresses (host:port)
	Servers map[uint64]string

	// Chunks maps chunk names to their server ids, the primary first
	Chunks map[string][]uint64

	// DialTimeoutMillis bounds establishing a connection
	DialTimeoutMillis int64

	// TimeoutSecond bounds a whole request (write, read until EOF)
	TimeoutSecond int64

	// MaxWorkers bounds the number of chunks queried concurrently
	MaxWorkers int

	// HealthCheck probes all servers before every query
	HealthCheck bool

	// Logging configuration
	LogLevel string
}

// DialTimeout returns DialTimeoutMillis as a duration
func (c *ClientConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMillis) * time.Millisecond
}

// Timeout returns TimeoutSecond as a duration
func (c *ClientConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecond) * time.Second
}

// Topology converts the configured layout into a directory topology
func (c *ClientConfig) Topology() directory.Topology {
	topo := directory.Topology{
		Servers: make(map[directory.ServerID]string, len(c.Servers)),
		Chunks:  make(map[string][]directory.ServerID, len(c.Chunks)),
	}
	for id, addr := range c.Servers {
		topo.Servers[directory.ServerID(id)] = addr
	}
	for chunk, ids := range c.Chunks {
		list := make([]directory.ServerID, len(ids))
		for i, id := range ids {
			list[i] = directory.ServerID(id)
		}
		topo.Chunks[chunk] = list
	}
	return topo
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var w configWriter

	// General Client Settings
	w.addSection("Client Configuration")
	w.addField("Dial Timeout", fmt.Sprintf("%d ms", c.DialTimeoutMillis))
	w.addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	w.addField("Max Workers", strconv.Itoa(c.MaxWorkers))
	w.addField("Health Check", strconv.FormatBool(c.HealthCheck))
	w.addField("Log Level", c.LogLevel)

	// Servers (sort keys for consistent output)
	w.addSection("Servers")
	ids := make([]uint64, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		w.addField(strconv.FormatUint(id, 10), c.Servers[id])
	}

	// Chunks
	w.addSection("Chunks")
	chunks := make([]string, 0, len(c.Chunks))
	for chunk := range c.Chunks {
		chunks = append(chunks, chunk)
	}
	sort.Strings(chunks)
	for _, chunk := range chunks {
		parts := make([]string, len(c.Chunks[chunk]))
		for i, id := range c.Chunks[chunk] {
			parts[i] = strconv.FormatUint(id, 10)
		}
		w.addField(chunk, strings.Join(parts, ", "))
	}

	return w.sb.String()
}

package util

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dSearch/lib/layout"
	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DSEARCH_<FLAG>)
	EnvPrefix = "dsearch"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files, enables the DSEARCH_ environment variables
// and reads configFile if it is not empty
func InitConfig(configFile string) error {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	if configFile == "" {
		return nil
	}
	viper.SetConfigFile(configFile)
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}
	return nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Query client flags
// --------------------------------------------------------------------------

// SetupClientFlags adds the cluster layout and connection flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "servers"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of storage nodes in the format 'ID=host:port' (e.g. '1=localhost:9001,2=localhost:9002')"))

	key = "chunks"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of chunks in the format 'NAME=ID:ID:...' with the primary first (e.g. 'chunk_1.lson=1:2,chunk_2.lson=2:1'). If empty, the layout of the split command is assumed: one chunk per server with --replicas replicas"))

	key = "replicas"
	cmd.PersistentFlags().Int(key, 1, WrapString("Number of replicas per chunk, only used if --chunks is empty"))

	key = "dial-timeout"
	cmd.PersistentFlags().Int64(key, 1000, WrapString("Connect timeout in milliseconds"))

	key = "timeout"
	cmd.PersistentFlags().Int64(key, 5, WrapString("Timeout in seconds of a single request"))

	key = "max-workers"
	cmd.PersistentFlags().Int(key, 8, WrapString("Maximum number of chunks queried at the same time"))

	key = "health-check"
	cmd.PersistentFlags().Bool(key, true, WrapString("Probe all storage nodes before every query"))
}

// GetClientConfig reads the query client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	servers, err := ParseServers(viper.GetString("servers"))
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no storage nodes configured (--servers)")
	}

	var chunks map[string][]uint64
	if list := viper.GetString("chunks"); list != "" {
		if chunks, err = ParseChunks(list); err != nil {
			return nil, err
		}
	} else if chunks, err = DefaultChunks(len(servers), viper.GetInt("replicas")); err != nil {
		return nil, err
	}

	return &common.ClientConfig{
		Servers:           servers,
		Chunks:            chunks,
		DialTimeoutMillis: viper.GetInt64("dial-timeout"),
		TimeoutSecond:     viper.GetInt64("timeout"),
		MaxWorkers:        viper.GetInt("max-workers"),
		HealthCheck:       viper.GetBool("health-check"),
		LogLevel:          viper.GetString("log-level"),
	}, nil
}

// --------------------------------------------------------------------------
// Parsing helpers
// --------------------------------------------------------------------------

// ParseServers parses 'ID=host:port,...'
func ParseServers(list string) (map[uint64]string, error) {
	servers := make(map[uint64]string)
	if strings.TrimSpace(list) == "" {
		return servers, nil
	}
	for _, entry := range strings.Split(list, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			return nil, fmt.Errorf("invalid server format: %s (expected ID=host:port)", entry)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid server ID %s: %v", parts[0], err)
		}
		if _, ok := servers[id]; ok {
			return nil, fmt.Errorf("server ID %d is listed twice", id)
		}
		servers[id] = strings.TrimSpace(parts[1])
	}
	return servers, nil
}

// ParseChunks parses 'NAME=ID:ID:...,...'
func ParseChunks(list string) (map[string][]uint64, error) {
	chunks := make(map[string][]uint64)
	for _, entry := range strings.Split(list, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid chunk format: %s (expected NAME=ID:ID:...)", entry)
		}
		name := strings.TrimSpace(parts[0])
		if _, ok := chunks[name]; ok {
			return nil, fmt.Errorf("chunk %s is listed twice", name)
		}
		for _, field := range strings.Split(parts[1], ":") {
			id, err := strconv.ParseUint(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid server ID %s for chunk %s: %v", field, name, err)
			}
			chunks[name] = append(chunks[name], id)
		}
	}
	return chunks, nil
}

// DefaultChunks returns the assignment produced by the split command for n servers
func DefaultChunks(n, replicas int) (map[string][]uint64, error) {
	assignment, err := layout.Assignment(n, replicas)
	if err != nil {
		return nil, err
	}
	chunks := make(map[string][]uint64, len(assignment))
	for name, ids := range assignment {
		for _, id := range ids {
			chunks[name] = append(chunks[name], uint64(id))
		}
	}
	return chunks, nil
}

// FormatChunks is the inverse of ParseChunks, chunks are sorted by name
func FormatChunks(chunks map[string][]uint64) string {
	names := make([]string, 0, len(chunks))
	for name := range chunks {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]string, len(names))
	for i, name := range names {
		ids := make([]string, len(chunks[name]))
		for j, id := range chunks[name] {
			ids[j] = strconv.FormatUint(id, 10)
		}
		entries[i] = name + "=" + strings.Join(ids, ":")
	}
	return strings.Join(entries, ",")
}

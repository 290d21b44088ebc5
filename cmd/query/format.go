package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/dSearch/lib/directory"
	"github.com/ValentinKolb/dSearch/lib/record"
	"github.com/ValentinKolb/dSearch/rpc/client"
)

// FormatResult renders a query result restricted to the years from..to (-1 is unbounded)
func FormatResult(result client.Result, from, to int) string {
	var sb strings.Builder
	counts := record.Filter(result.Counts, from, to)

	switch {
	case len(result.Counts) == 0:
		sb.WriteString(fmt.Sprintf("no papers found for %s\n", result.Author))
	default:
		sb.WriteString(fmt.Sprintf("%s: %d papers %s\n", result.Author, record.Total(counts), describeRange(from, to)))
		for _, year := range record.Years(counts) {
			sb.WriteString(fmt.Sprintf("  %-6d %d\n", year, counts[year]))
		}
	}

	if !result.Complete() {
		sb.WriteString(fmt.Sprintf("  skipped chunks (no server available): %s\n", strings.Join(result.Omitted, ", ")))
	}
	sb.WriteString(fmt.Sprintf("  query took %s\n", result.Elapsed.Round(time.Microsecond)))
	return sb.String()
}

func describeRange(from, to int) string {
	switch {
	case from == -1 && to == -1:
		return "in total"
	case from == -1:
		return fmt.Sprintf("up to %d", to)
	case to == -1:
		return fmt.Sprintf("since %d", from)
	default:
		return fmt.Sprintf("from %d to %d", from, to)
	}
}

// FormatStatus renders the liveness of all servers of dir
func FormatStatus(dir *directory.Directory, status directory.Status) string {
	var sb strings.Builder
	alive := make(map[directory.ServerID]bool, len(status.Alive))
	for _, id := range status.Alive {
		alive[id] = true
	}

	sb.WriteString(fmt.Sprintf("alive: %d, down: %d\n", len(status.Alive), len(status.Down)))
	for _, id := range dir.Servers() {
		addr, _ := dir.AddressOf(id)
		state := "down"
		if alive[id] {
			state = "alive"
		}
		sb.WriteString(fmt.Sprintf("  %-4d %-24s %s\n", id, addr, state))
	}
	return sb.String()
}

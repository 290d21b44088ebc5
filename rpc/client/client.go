package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/ValentinKolb/dSearch/rpc/common"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

const (
	// DefaultDialTimeout is used if the configuration has no dial timeout
	DefaultDialTimeout = time.Second

	// DefaultTimeout is used if the configuration has no request timeout
	DefaultTimeout = 5 * time.Second

	// maxResponseBytes bounds a response
	maxResponseBytes = 4 << 20
)

var (
	// ErrNotFound is returned when the node answered with the not found sentinel
	ErrNotFound = errors.New("author not found")

	// ErrDuplicate is returned when the node suppressed the request as a duplicate
	ErrDuplicate = errors.New("duplicate query suppressed")

	// ErrEmptyResponse is returned when the node closed the connection without answering
	ErrEmptyResponse = errors.New("empty response")
)

// Fetcher retrieves the record of an author from a single storage node
type Fetcher interface {
	Fetch(ctx context.Context, addr, author string) ([]byte, error)
}

// Client sends single requests to storage nodes. Every request uses its own
// connection that is closed by the node after the response.
type Client struct {
	dialTimeout time.Duration
	timeout     time.Duration
}

// NewClient creates a client with the timeouts of the configuration
func NewClient(config common.ClientConfig) *Client {
	c := &Client{
		dialTimeout: config.DialTimeout(),
		timeout:     config.Timeout(),
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = DefaultDialTimeout
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Fetch sends author to the node at addr and returns the record line without
// line terminator. Sentinel responses are reported as ErrNotFound and ErrDuplicate.
func (c *Client) Fetch(ctx context.Context, addr, author string) ([]byte, error) {
	req, err := common.NewRequest(author)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	// One deadline for the whole exchange, cancellation interrupts blocked I/O
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := conn.Write(req); err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", addr, err)
	}

	resp, err := io.ReadAll(io.LimitReader(conn, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response from %s: %w", addr, err)
	}

	payload := bytes.TrimRight(resp, "\r\n")
	if len(payload) == 0 {
		return nil, fmt.Errorf("%s: %w", addr, ErrEmptyResponse)
	}

	switch common.Classify(payload) {
	case common.RespNotFound:
		return nil, fmt.Errorf("%s: %w", addr, ErrNotFound)
	case common.RespDuplicate:
		return nil, fmt.Errorf("%s: %w", addr, ErrDuplicate)
	default:
		return payload, nil
	}
}

package directory

import (
	"context"
	"net"
	"sync"
	"time"
)

// DefaultProbeTimeout bounds a single connectivity probe
const DefaultProbeTimeout = 2 * time.Second

// ProbeFunc checks whether the server at addr accepts connections
type ProbeFunc func(ctx context.Context, addr string) error

// DialProbe opens a TCP connection to addr and closes it right away.
// Storage nodes treat a connection that sends nothing as a probe.
func DialProbe(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// SetProbe replaces the probe used by HealthCheck. A nil probe restores DialProbe.
func (d *Directory) SetProbe(probe ProbeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if probe == nil {
		probe = DialProbe
	}
	d.probe = probe
}

// SetProbeTimeout sets the timeout of a single probe
func (d *Directory) SetProbeTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	d.probeTimeout = timeout
}

// SetOnTransition registers a callback invoked for every up or down
// transition detected by HealthCheck. The callback runs without the
// directory lock held.
func (d *Directory) SetOnTransition(callback func(Transition)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onTransition = callback
}

// HealthCheck probes every server concurrently and replaces the alive set with
// the servers that answered. Transitions against the previous health check are
// logged and passed to the transition callback. The returned status reflects
// the new alive set.
func (d *Directory) HealthCheck(ctx context.Context) Status {
	d.mu.Lock()
	probe, timeout := d.probe, d.probeTimeout
	d.mu.Unlock()

	// probe without holding the lock, addresses never change
	results := make(map[ServerID]bool, len(d.servers))
	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
	)
	for _, id := range d.servers {
		wg.Add(1)
		go func(id ServerID, addr string) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := probe(probeCtx, addr)
			if err != nil {
				Logger.Debugf("probe of server %d (%s) failed: %v", id, addr, err)
			}
			resultsMu.Lock()
			results[id] = err == nil
			resultsMu.Unlock()
		}(id, d.addresses[id])
	}
	wg.Wait()

	current := make(map[ServerID]struct{}, len(results))
	for id, ok := range results {
		if ok {
			current[id] = struct{}{}
		}
	}

	d.mu.Lock()
	var transitions []Transition
	for _, id := range d.servers {
		_, was := d.previousAlive[id]
		_, is := current[id]
		if was != is {
			transitions = append(transitions, Transition{Server: id, Address: d.addresses[id], Up: is})
		}
	}
	d.alive = current
	d.previousAlive = make(map[ServerID]struct{}, len(current))
	for id := range current {
		d.previousAlive[id] = struct{}{}
	}
	callback := d.onTransition
	d.mu.Unlock()

	for _, t := range transitions {
		if t.Up {
			Logger.Infof("%s", t)
		} else {
			Logger.Warningf("%s", t)
		}
		if callback != nil {
			callback(t)
		}
	}
	return d.StatusSnapshot()
}

// Monitor runs HealthCheck immediately and then every interval until ctx is cancelled.
// It blocks, callers usually start it in its own goroutine.
func (d *Directory) Monitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	Logger.Infof("health monitor started with interval %v", interval)
	d.HealthCheck(ctx)

	for {
		select {
		case <-ticker.C:
			d.HealthCheck(ctx)
		case <-ctx.Done():
			Logger.Infof("health monitor stopped")
			return
		}
	}
}

// Package portalloc secures the listening port at startup: probe, reclaim
// from a stale occupant, or fall back to a nearby free port.
package portalloc

import (
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"webhookd/internal/retry"
)

// ErrPortUnavailable is fatal at startup: the desired port is occupied,
// unreclaimable, and no alternate was found. The service must not bind
// silently to an unintended port.
var ErrPortUnavailable = errors.New("no usable port available")

const (
	probeTimeout  = time.Second
	reclaimSettle = 500 * time.Millisecond
	// How far above the desired port Resolve scans for an alternate.
	fallbackRange = 100
)

// Probe describes a port at a point in time. Derived on demand, never stored.
type Probe struct {
	Port      int    `json:"port"`
	Host      string `json:"host"`
	InUse     bool   `json:"in_use"`
	OwnerPID  int    `json:"pid,omitempty"`
	OwnerName string `json:"process_name,omitempty"`
}

// IsFree reports whether nothing is accepting connections on host:port.
// A successful connect means the port is in use.
func IsFree(port int, host string) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), probeTimeout)
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}

// FindOwner maps a listening port to its owning PID via the kernel
// connection table. Returns ok=false when no listener is found or the
// platform does not expose ownership.
func FindOwner(port int) (int, bool) {
	conns, err := psnet.Connections("tcp")
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port && c.Pid > 0 {
			return int(c.Pid), true
		}
	}
	return 0, false
}

// Inspect returns a point-in-time description of the port for logs and
// for the /status endpoint.
func Inspect(port int, host string) Probe {
	p := Probe{Port: port, Host: host, InUse: !IsFree(port, host)}
	if !p.InUse {
		return p
	}
	pid, ok := FindOwner(port)
	if !ok {
		return p
	}
	p.OwnerPID = pid
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		if name, err := proc.Name(); err == nil {
			p.OwnerName = name
		}
	}
	return p
}

// Reclaim tries to free the port by terminating its owner: graceful first,
// forceful on later attempts or when force is set. "No owner found" counts
// as success. Returns true as soon as the port probes free.
func Reclaim(port int, force bool, maxAttempts int) bool {
	policy := retry.Policy{MaxAttempts: maxAttempts}
	return policy.Do(func(attempt int) bool {
		pid, ok := FindOwner(port)
		if !ok {
			log.Printf("[port] no process found using port %d", port)
			return true
		}

		proc, err := process.NewProcess(int32(pid))
		if err != nil {
			// Owner vanished between lookup and attach.
			return IsFree(port, "127.0.0.1")
		}

		log.Printf("[port] terminating process %d on port %d (attempt %d/%d)", pid, port, attempt+1, maxAttempts)
		if force || attempt > 0 {
			err = proc.Kill()
		} else {
			err = proc.Terminate()
		}
		if err != nil {
			log.Printf("[port] could not signal process %d: %v", pid, err)
		}

		time.Sleep(reclaimSettle)
		return IsFree(port, "127.0.0.1")
	})
}

// FindFree scans [start, end) for a free port. Each candidate that probes
// free is confirmed with an actual bind before being returned, closing
// most of the check-then-bind race.
func FindFree(start, end int, host string) (int, bool) {
	for port := start; port < end; port++ {
		if !IsFree(port, host) {
			continue
		}
		ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		if err != nil {
			continue
		}
		_ = ln.Close()
		return port, true
	}
	return 0, false
}

// Resolve secures a listening port for the server: the desired port if
// free, else reclaimed, else the nearest free port above it. Failure is
// fatal to startup.
func Resolve(desired int) (int, error) {
	if IsFree(desired, "127.0.0.1") {
		return desired, nil
	}

	info := Inspect(desired, "127.0.0.1")
	if info.OwnerPID > 0 {
		log.Printf("[port] port %d is in use by pid %d (%s)", desired, info.OwnerPID, info.OwnerName)
	} else {
		log.Printf("[port] port %d is in use", desired)
	}

	if Reclaim(desired, false, 3) {
		// Give the kernel a moment to fully release the socket.
		time.Sleep(time.Second)
		return desired, nil
	}

	log.Printf("[port] could not free port %d, scanning for an alternative", desired)
	if port, ok := FindFree(desired+1, desired+1+fallbackRange, "127.0.0.1"); ok {
		log.Printf("[port] using alternative port %d", port)
		return port, nil
	}

	return 0, fmt.Errorf("%w: port %d occupied and no free port in (%d, %d]", ErrPortUnavailable, desired, desired, desired+fallbackRange)
}

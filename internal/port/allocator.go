package port

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dd-jfranjic/devlauncher-sub001/internal/model"
)

const (
	// DefaultStart is the first port of the default candidate range.
	DefaultStart = 20000

	// DefaultEnd is the exclusive upper bound of the default range, so the
	// last candidate is 29999.
	DefaultEnd = 30000
)

// Range is a half-open port interval [Start, End).
type Range struct {
	Start int
	End   int
}

// DefaultRange returns 20000-29999.
func DefaultRange() Range {
	return Range{Start: DefaultStart, End: DefaultEnd}
}

// Size is the number of candidate ports in the range.
func (r Range) Size() int {
	return r.End - r.Start
}

// Contains reports whether port lies inside the range.
func (r Range) Contains(port int) bool {
	return port >= r.Start && port < r.End
}

// Validate rejects empty ranges and ports outside 1-65535.
func (r Range) Validate() error {
	if r.Start < 1 || r.End > 65536 {
		return fmt.Errorf("port range %d-%d outside 1-65535", r.Start, r.End-1)
	}
	if r.Start >= r.End {
		return fmt.Errorf("port range start %d must be below end %d", r.Start, r.End)
	}
	return nil
}

// reservation records which project service owns a reserved port.
type reservation struct {
	projectID string
	service   string
}

// Allocator hands out host ports that are unique across every project.
//
// The reservation table is keyed by port. A rotating cursor remembers where
// the last successful scan stopped so consecutive projects get consecutive
// ports instead of all rescanning from the start of the range.
//
// The probe is an OS bind attempt and therefore slow relative to a map
// lookup, so the reservation table is consulted first and the prober
// only sees ports nobody in this process has claimed.
type Allocator struct {
	// mu is held for a whole batch, probes included, so two projects
	// never race for the same free port.
	mu     sync.Mutex
	rng    Range
	prober Prober

	// cursor is the next candidate to try. It only advances when a batch
	// commits, so a failed batch leaves no trace.
	cursor int

	// reserved maps each claimed port to its owner. It includes ports
	// loaded from the store that fall outside rng, e.g. after the range
	// was reconfigured.
	reserved map[int]reservation
}

// NewAllocator creates an Allocator over rng using prober to skip ports
// bound by other processes. A nil prober treats every port as free.
func NewAllocator(rng Range, prober Prober) (*Allocator, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if prober == nil {
		prober = ProberFunc(func(int) bool { return true })
	}
	return &Allocator{
		rng:      rng,
		prober:   prober,
		cursor:   rng.Start,
		reserved: make(map[int]reservation),
	}, nil
}

// Range returns the allocator's candidate range.
func (a *Allocator) Range() Range {
	return a.rng
}

// Allocate reserves one port for each service of projectID and returns the
// service → port mapping.
//
// The batch is all-or-nothing: if any service cannot be satisfied, nothing
// is reserved, the cursor is left untouched and a *model.PortExhaustedError
// naming that service is returned. Services the project already holds keep
// their existing port.
func (a *Allocator) Allocate(projectID string, services []string) (map[string]int, error) {
	if projectID == "" {
		return nil, errors.New("allocate ports: empty project id")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Work on a private cursor and a tentative set; the reservation table
	// is only written once every service has a port.
	existing := a.portsOfLocked(projectID)
	result := make(map[string]int, len(services))
	taken := make(map[int]bool, len(services))
	cursor := a.cursor

	for _, svc := range services {
		if _, ok := result[svc]; ok {
			continue
		}
		if port, ok := existing[svc]; ok {
			result[svc] = port
			continue
		}

		port, next, ok := a.scanLocked(cursor, taken)
		if !ok {
			return nil, &model.PortExhaustedError{Service: svc, Start: a.rng.Start, End: a.rng.End}
		}
		result[svc] = port
		taken[port] = true
		cursor = next
	}

	for svc, port := range result {
		a.reserved[port] = reservation{projectID: projectID, service: svc}
	}
	a.cursor = cursor
	return result, nil
}

// scanLocked walks the range once starting at cursor and returns the first
// port that is neither reserved, tentatively taken in this batch, nor bound
// on the host, plus the cursor position following it.
func (a *Allocator) scanLocked(cursor int, taken map[int]bool) (port, next int, ok bool) {
	size := a.rng.Size()
	offset := cursor - a.rng.Start
	for i := 0; i < size; i++ {
		candidate := a.rng.Start + (offset+i)%size
		if _, busy := a.reserved[candidate]; busy || taken[candidate] {
			continue
		}
		// A port bound by another process (a local database, another
		// compose stack) is skipped but not reserved: it may be free
		// again by the next scan.
		if !a.prober.Available(candidate) {
			continue
		}
		next = candidate + 1
		if next >= a.rng.End {
			next = a.rng.Start
		}
		return candidate, next, true
	}
	return 0, cursor, false
}

// Load seeds the reservation table from persisted allocations, typically at
// boot. Ports outside the range are still reserved so they are never handed
// out twice. A port claimed by two different projects is reported as an
// error and the table is left unchanged.
func (a *Allocator) Load(allocs []model.PortAllocation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staged := make(map[int]reservation, len(allocs))
	for _, alloc := range allocs {
		r := reservation{projectID: alloc.ProjectID, service: alloc.ServiceName}
		if prev, ok := staged[alloc.Port]; ok && prev.projectID != r.projectID {
			return fmt.Errorf("port %d claimed by projects %s and %s", alloc.Port, prev.projectID, r.projectID)
		}
		if prev, ok := a.reserved[alloc.Port]; ok && prev.projectID != r.projectID {
			return fmt.Errorf("port %d already reserved by project %s", alloc.Port, prev.projectID)
		}
		staged[alloc.Port] = r
	}
	for port, r := range staged {
		a.reserved[port] = r
	}
	return nil
}

// Release frees every port held by projectID and returns how many were
// released.
func (a *Allocator) Release(projectID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for port, r := range a.reserved {
		if r.projectID == projectID {
			delete(a.reserved, port)
			n++
		}
	}
	return n
}

// Ports returns the service → port mapping currently reserved for projectID.
func (a *Allocator) Ports(projectID string) map[string]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.portsOfLocked(projectID)
}

// Reserved returns the total number of reserved ports.
func (a *Allocator) Reserved() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reserved)
}

func (a *Allocator) portsOfLocked(projectID string) map[string]int {
	out := make(map[string]int)
	for port, r := range a.reserved {
		if r.projectID == projectID {
			out[r.service] = port
		}
	}
	return out
}

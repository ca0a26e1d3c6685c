// Package budget implements local CPU/memory admission control (spec.md
// §4.3): a single runner process tracks its own capacity and admits or
// rejects claimed tasks before they start, with no coordination across
// runners.
package budget

import (
	"fmt"
	"sync"

	"github.com/ciqueue/runner/contracts"
)

// resourceBudget implements contracts.ResourceBudget.
// CRITICAL: this component is the last admission gate before a task starts
// running on this machine. Errors here mean oversubscribed runners.
//
// Thread-safety: mutex-guarded; Admit/Release/Headroom are all safe for
// concurrent use.
type resourceBudget struct {
	mu sync.Mutex

	cpuTotal, memTotal       float64
	cpuUsed, memUsed         float64
	allocations              map[contracts.Allocation]reservation
}

type reservation struct {
	cpu, mem float64
}

// New creates a ResourceBudget with the given total CPU and memory (MiB)
// capacity.
func New(cpuTotal, memTotal float64) contracts.ResourceBudget {
	return &resourceBudget{
		cpuTotal:    cpuTotal,
		memTotal:    memTotal,
		allocations: make(map[contracts.Allocation]reservation),
	}
}

// Admit reserves (cpu, mem) for the allocation if capacity allows. A
// zero-value Topology (cpu==0 && mem==0) is treated as a request for
// exclusive use of the whole runner — the task requests full capacity, so
// it is admitted only while nothing else holds an allocation, matching
// spec.md §4.3's default for tasks that declare no topology.
func (b *resourceBudget) Admit(alloc contracts.Allocation, cpu, mem float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cpu == 0 && mem == 0 {
		cpu, mem = b.cpuTotal, b.memTotal
	}

	if b.cpuUsed+cpu > b.cpuTotal || b.memUsed+mem > b.memTotal {
		return fmt.Errorf("admit %s/%s: requested cpu=%.2f mem=%.2f, free cpu=%.2f mem=%.2f: %w",
			alloc.SHA, alloc.Context, cpu, mem, b.cpuTotal-b.cpuUsed, b.memTotal-b.memUsed,
			contracts.ErrInsufficientResources)
	}

	b.cpuUsed += cpu
	b.memUsed += mem
	b.allocations[alloc] = reservation{cpu: cpu, mem: mem}
	return nil
}

// Release returns a prior admission's resources. Idempotent: releasing an
// unknown key is not an error to the caller, it only happens if Release
// races a concurrent Release for the same allocation, which the executor's
// single-owner-per-task invariant should prevent.
func (b *resourceBudget) Release(alloc contracts.Allocation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.allocations[alloc]
	if !ok {
		return
	}
	delete(b.allocations, alloc)
	b.cpuUsed -= r.cpu
	b.memUsed -= r.mem
}

// Headroom reports free (cpu, mem) at the moment of the call.
func (b *resourceBudget) Headroom() (cpu, mem float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cpuTotal - b.cpuUsed, b.memTotal - b.memUsed
}

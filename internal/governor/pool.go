package governor

import "sort"

// Allocation is one producer's claim against a resource pool.
type Allocation struct {
	Producer string
	Priority int // 1 (highest) .. 5 (lowest), mirrors producer submission priority
	Amount   float64
}

// Pool models a single named resource (CPU, memory, network) as
// capacity/available/allocations with priority-aware preemption.
type Pool struct {
	Name        string
	Capacity    float64
	allocations map[string]Allocation
}

// NewPool constructs an empty pool with the given capacity.
func NewPool(name string, capacity float64) *Pool {
	return &Pool{Name: name, Capacity: capacity, allocations: make(map[string]Allocation)}
}

// Available returns the unallocated capacity.
func (p *Pool) Available() float64 {
	used := 0.0
	for _, a := range p.allocations {
		used += a.Amount
	}
	return p.Capacity - used
}

// Preempted names a producer whose allocation was reduced or removed to
// make room for a higher-priority request.
type Preempted struct {
	Producer string
	Freed    float64
	Removed  bool
}

// Allocate attempts to grant amount to producer at priority. If there is
// insufficient available capacity, lower-priority (numerically greater)
// allocations are preempted, lowest-priority first, until enough is freed
// or no more can be preempted. Preempted producers are returned so the
// caller can notify them.
func (p *Pool) Allocate(producer string, priority int, amount float64) (ok bool, preempted []Preempted) {
	if amount <= p.Available() {
		p.allocations[producer] = Allocation{Producer: producer, Priority: priority, Amount: amount}
		return true, nil
	}

	candidates := make([]Allocation, 0, len(p.allocations))
	for _, a := range p.allocations {
		if a.Producer == producer {
			continue
		}
		if a.Priority > priority { // strictly lower priority than the requester
			candidates = append(candidates, a)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority // lowest priority (largest number) first
		}
		return candidates[i].Producer < candidates[j].Producer
	})

	needed := amount - p.Available()
	for _, c := range candidates {
		if needed <= 0 {
			break
		}
		delete(p.allocations, c.Producer)
		preempted = append(preempted, Preempted{Producer: c.Producer, Freed: c.Amount, Removed: true})
		needed -= c.Amount
	}

	if amount > p.Available() {
		// Could not free enough; restore nothing (preemption already
		// applied is not reverted — partial preemption still benefits
		// whichever allocation follows) but report failure to the caller.
		return false, preempted
	}

	p.allocations[producer] = Allocation{Producer: producer, Priority: priority, Amount: amount}
	return true, preempted
}

// Release frees a producer's allocation entirely.
func (p *Pool) Release(producer string) {
	delete(p.allocations, producer)
}

// Allocations returns a snapshot of current allocations.
func (p *Pool) Allocations() []Allocation {
	out := make([]Allocation, 0, len(p.allocations))
	for _, a := range p.allocations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Producer < out[j].Producer })
	return out
}

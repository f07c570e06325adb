package broker

// availabilityPool is the FIFO set of worker IDs eligible for dispatch.
// Membership invariant: an ID is present if and only if the worker's
// record status is idle and not stale. Only the router loop mutates it.
type availabilityPool struct {
	ids    []string
	member map[string]bool
}

func newAvailabilityPool() *availabilityPool {
	return &availabilityPool{member: make(map[string]bool)}
}

// push appends an ID, refusing double insertion.
func (p *availabilityPool) push(id string) bool {
	if p.member[id] {
		return false
	}
	p.member[id] = true
	p.ids = append(p.ids, id)
	return true
}

// pop removes and returns the least-recently-used ID.
func (p *availabilityPool) pop() (string, bool) {
	if len(p.ids) == 0 {
		return "", false
	}
	id := p.ids[0]
	p.ids = p.ids[1:]
	delete(p.member, id)
	return id, true
}

// remove deletes an ID wherever it sits in the queue.
func (p *availabilityPool) remove(id string) bool {
	if !p.member[id] {
		return false
	}
	delete(p.member, id)
	for i, v := range p.ids {
		if v == id {
			p.ids = append(p.ids[:i], p.ids[i+1:]...)
			break
		}
	}
	return true
}

func (p *availabilityPool) contains(id string) bool {
	return p.member[id]
}

func (p *availabilityPool) len() int {
	return len(p.ids)
}

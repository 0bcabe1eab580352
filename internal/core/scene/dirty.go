package scene

// unsent marks an entry modified locally but not yet part of any request.
// Outbound sequence numbers start at 1, so it never collides with one.
const unsent uint32 = 0

// dirtyTable tracks locally modified fields and the sequence number of the
// request that carried each one.
type dirtyTable[K comparable] struct {
	entries map[K]uint32
}

func newDirtyTable[K comparable]() *dirtyTable[K] {
	return &dirtyTable[K]{entries: make(map[K]uint32)}
}

func (d *dirtyTable[K]) mark(k K) {
	d.entries[k] = unsent
}

func (d *dirtyTable[K]) stamp(k K, seq uint32) {
	d.entries[k] = seq
}

func (d *dirtyTable[K]) isUnsent(k K) bool {
	seq, ok := d.entries[k]
	return ok && seq == unsent
}

// inFlight returns the sequence carrying k, if any.
func (d *dirtyTable[K]) inFlight(k K) (uint32, bool) {
	seq, ok := d.entries[k]
	return seq, ok && seq != unsent
}

func (d *dirtyTable[K]) tracked(k K) bool {
	_, ok := d.entries[k]
	return ok
}

// accept decides whether a server value for k carried by seq may be applied.
// Pushes (seq 0), untracked fields and the confirmation of the latest request
// are accepted and clear the entry; anything else is stale and leaves the
// entry in place.
func (d *dirtyTable[K]) accept(k K, seq uint32) bool {
	tracked, ok := d.entries[k]
	if seq != 0 && ok && tracked != seq {
		return false
	}
	delete(d.entries, k)
	return true
}

func (d *dirtyTable[K]) remove(k K) {
	delete(d.entries, k)
}

func (d *dirtyTable[K]) len() int {
	return len(d.entries)
}

func (d *dirtyTable[K]) keys() []K {
	keys := make([]K, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	return keys
}

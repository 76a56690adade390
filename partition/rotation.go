package partition

// Rotation names the worker that supplies the pivot block of each step. The
// forward pass calls Next once per step; the backward pass calls Prev once per
// recorded step and visits the same workers in reverse order.
type Rotation struct {
	workers int
	counter int
}

// NewRotation returns a rotation over the given number of workers
func NewRotation(workers int) *Rotation {
	if workers < 1 {
		panic("rotation needs at least one worker")
	}
	return &Rotation{workers: workers}
}

// Next returns the owner of the current step and advances the counter
func (r *Rotation) Next() int {
	id := r.counter % r.workers
	r.counter++
	return id
}

// Prev steps the counter back and returns the owner of that step
func (r *Rotation) Prev() int {
	r.counter--
	if r.counter < 0 {
		panic("rotation stepped back past its start")
	}
	return r.counter % r.workers
}

// Current returns the owner of the step Next would return
func (r *Rotation) Current() int {
	return r.counter % r.workers
}

// Counter returns the number of steps taken
func (r *Rotation) Counter() int {
	return r.counter
}

// Collector returns the worker that keeps the rows of the pivot block owned
// by owner. Pivot blocks always stay with their owner.
func (r *Rotation) Collector(owner int) int {
	return owner
}

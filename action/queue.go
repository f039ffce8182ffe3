package action

// MaximumSkips is how many consecutive disagreeing polls a command survives
const MaximumSkips = 3

// Outcome counts what one reconcile pass did with the pending commands
type Outcome struct {
	Flushed int // device caught up
	Purged  int // gave up after too many skips
	Kept    int // still overlaid
}

// Queue holds the outstanding commands of one accessory.
// It is not safe for concurrent use; the owning accessory serializes access.
type Queue struct {
	max     int
	pending []*Expirable
}

// NewQueue returns an empty queue; max <= 0 uses MaximumSkips
func NewQueue(max int) *Queue {
	if max <= 0 {
		max = MaximumSkips
	}
	return &Queue{max: max}
}

// Enqueue records the commands as pending. A command for a field which is already
// pending overrides the desired value and leaves its skip counter alone.
// It returns how many commands overrode a pending one.
func (q *Queue) Enqueue(cmds ...Command) int {
	var overridden int
	for _, cmd := range cmds {
		if e := q.find(cmd.Field); e != nil {
			e.Value = cmd.Value
			overridden++
			continue
		}
		q.pending = append(q.pending, &Expirable{Command: cmd})
	}
	return overridden
}

// Reconcile compares every pending command with the fetched status.
// Matching commands are flushed. Disagreeing commands have their skip counter bumped
// and their desired value written over status, unless the counter reached the maximum,
// in which case the command is purged and the fetched value stays.
// status is modified in place.
func (q *Queue) Reconcile(status Status) Outcome {
	var out Outcome
	kept := q.pending[:0]
	for _, e := range q.pending {
		fetched, ok := status[e.Field]
		if ok && fetched == e.Value {
			out.Flushed++
			continue
		}
		e.Skips++
		if e.Skips >= q.max {
			out.Purged++
			continue
		}
		if status != nil {
			status[e.Field] = e.Value
		}
		out.Kept++
		kept = append(kept, e)
	}
	for i := len(kept); i < len(q.pending); i++ {
		q.pending[i] = nil
	}
	q.pending = kept
	return out
}

// Len is the number of pending commands
func (q *Queue) Len() int {
	return len(q.pending)
}

// Pending returns a copy of the pending commands in insertion order
func (q *Queue) Pending() []Expirable {
	out := make([]Expirable, 0, len(q.pending))
	for _, e := range q.pending {
		out = append(out, *e)
	}
	return out
}

func (q *Queue) find(f Field) *Expirable {
	for _, e := range q.pending {
		if e.Field == f {
			return e
		}
	}
	return nil
}

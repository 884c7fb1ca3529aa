package plan

// Cursor addresses one atomic task as a (task, atomic task) pair. Walking a
// plan is a mixed-radix count where the radix of the low digit is the number
// of atomic tasks in the current task.
type Cursor struct {
	TaskIdx       int `json:"task_idx"`
	AtomicTaskIdx int `json:"atomic_task_idx"`
}

// Normalize carries c forward until it addresses an existing atomic task. It
// reports done, with c at (len(Tasks), 0), once every task is exhausted.
// Negative indices are clamped to zero.
func Normalize(p *ImplementationPlan, c Cursor) (Cursor, bool) {
	if c.TaskIdx < 0 {
		c = Cursor{}
	}
	if c.AtomicTaskIdx < 0 {
		c.AtomicTaskIdx = 0
	}
	for c.TaskIdx < len(p.Tasks) {
		if c.AtomicTaskIdx < len(p.Tasks[c.TaskIdx].AtomicTasks) {
			return c, false
		}
		c.TaskIdx++
		c.AtomicTaskIdx = 0
	}
	return Cursor{TaskIdx: len(p.Tasks)}, true
}

// Advance moves c to the next atomic task, carrying into the next task when
// the current one is exhausted.
func Advance(p *ImplementationPlan, c Cursor) (Cursor, bool) {
	c.AtomicTaskIdx++
	return Normalize(p, c)
}

// Sequence lists every cursor the execution loop will visit, in order.
func Sequence(p *ImplementationPlan) []Cursor {
	var out []Cursor
	c, done := Normalize(p, Cursor{})
	for !done {
		out = append(out, c)
		c, done = Advance(p, c)
	}
	return out
}

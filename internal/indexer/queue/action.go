package queue

import "time"

// Action is what a tick decided to do with one pending path.
type Action int

const (
	ActionNone Action = iota
	ActionAdd
	ActionChange
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionChange:
		return "change"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// Classify maps a pending flag and the file's current existence to an
// action.
//
//	reported  exists  action
//	true      yes     Change
//	true      no      Delete
//	false     yes     Add
//	false     no      None
func Classify(reported, exists bool) Action {
	switch {
	case reported && exists:
		return ActionChange
	case reported:
		return ActionDelete
	case exists:
		return ActionAdd
	default:
		return ActionNone
	}
}

// Result is the outcome of one path within a tick.
type Result struct {
	Path     string
	Action   Action
	Reported bool
	// Words is the number of distinct words indexed by Add or Change.
	Words    int
	Err      error
	Duration time.Duration
}

// Status is "ok", "retry" or "skip".
func (r Result) Status() string {
	switch {
	case r.Err != nil:
		return "retry"
	case r.Action == ActionNone:
		return "skip"
	default:
		return "ok"
	}
}

// Report summarizes one tick.
type Report struct {
	Seq      uint64
	Started  time.Time
	Duration time.Duration
	Results  []Result
}

// Mutated reports whether any result changed the store.
func (r Report) Mutated() bool {
	for _, res := range r.Results {
		if res.Err == nil && res.Action != ActionNone {
			return true
		}
	}
	return false
}

// Failed counts results that were re-enqueued.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// Counts tallies successful results per action.
func (r Report) Counts() map[Action]int {
	out := make(map[Action]int, 4)
	for _, res := range r.Results {
		if res.Err == nil {
			out[res.Action]++
		}
	}
	return out
}

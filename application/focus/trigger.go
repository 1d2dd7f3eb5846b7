package focus

import (
	"encoding/json"
	"time"
)

// Kind tags a focus trigger and the arbitration state it produces.
type Kind int

const (
	KindIdle Kind = iota
	KindRemoteChange
	KindMutation
	KindCreation
	KindSearch
	KindClick
	KindBackgroundClear
)

var kindNames = map[Kind]string{
	KindIdle:            "idle",
	KindRemoteChange:    "remote_change",
	KindMutation:        "mutation",
	KindCreation:        "creation",
	KindSearch:          "search",
	KindClick:           "click",
	KindBackgroundClear: "background_clear",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// Priority orders competing triggers: Click > Search > Creation > Mutation >
// RemoteChange > Idle. BackgroundClear is handled separately and always
// wins.
func (k Kind) Priority() int {
	switch k {
	case KindClick:
		return 5
	case KindSearch:
		return 4
	case KindCreation:
		return 3
	case KindMutation:
		return 2
	case KindRemoteChange:
		return 1
	default:
		return 0
	}
}

// settles reports whether the camera action waits for new entities to reach
// a stable layout.
func (k Kind) settles() bool {
	return k == KindCreation || k == KindMutation
}

// Trigger proposes a new focus.
type Trigger struct {
	Kind Kind
	Text string
	IDs  []string
	At   time.Time
}

func Search(text string) Trigger { return Trigger{Kind: KindSearch, Text: text} }

func Click(id string) Trigger { return Trigger{Kind: KindClick, IDs: []string{id}} }

func Creation(id string) Trigger { return Trigger{Kind: KindCreation, IDs: []string{id}} }

func Mutation(ids []string) Trigger { return Trigger{Kind: KindMutation, IDs: ids} }

func RemoteChange(ids []string) Trigger { return Trigger{Kind: KindRemoteChange, IDs: ids} }

func BackgroundClear() Trigger { return Trigger{Kind: KindBackgroundClear} }

// pick returns the trigger that wins within one batch: BackgroundClear
// first, then highest priority, later arrivals breaking ties.
func pick(batch []Trigger) (Trigger, bool) {
	var best Trigger
	found := false
	for _, t := range batch {
		if t.Kind == KindIdle {
			continue
		}
		switch {
		case !found:
			best, found = t, true
		case best.Kind == KindBackgroundClear:
		case t.Kind == KindBackgroundClear:
			best = t
		case t.Kind.Priority() >= best.Kind.Priority():
			best = t
		}
	}
	return best, found
}

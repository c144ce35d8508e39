package replication

import (
	"math/rand/v2"
	"time"

	"github.com/jason-s-yu/draftsync/internal/draft"
	"github.com/jason-s-yu/draftsync/internal/ghost"
)

// TimeoutAction picks the action forced on the current team when its turn runs out: the team's
// ghost selection staged during this turn when it is still legal, otherwise a random legal item.
func TimeoutAction(st draft.State, staged *ghost.Channel, rng *rand.Rand) (draft.Action, bool) {
	if staged != nil {
		if sel, ok := staged.Staged(draft.Key(st)); ok {
			a := draft.Action{Type: sel.Type, Team: st.CurrentTeam, ItemID: sel.ItemID}
			if draft.Check(st, a) == nil {
				return a, true
			}
		}
	}
	return draft.RandomLegal(st, rng)
}

// timeoutIntent is the draft intent for key, or false when st has already moved past it.
func timeoutIntent(st draft.State, key draft.TurnKey, staged *ghost.Channel, rng *rand.Rand) (Intent, bool) {
	if draft.Key(st) != key {
		return Intent{}, false
	}
	a, ok := TimeoutAction(st, staged, rng)
	if !ok {
		return Intent{}, false
	}
	in := DraftIntent(a)
	in.Turn = &key
	return in, true
}

func turnStart(st draft.State) time.Time {
	if st.TurnStartedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(st.TurnStartedAt)
}

func expiredSignal(ch chan draft.TurnKey) func(draft.TurnKey) {
	return func(key draft.TurnKey) {
		select {
		case ch <- key:
		default:
		}
	}
}

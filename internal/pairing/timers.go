package pairing

import (
	"time"

	"github.com/arcushome/blepairing/utils"
)

const (
	timerWiFi        = "wifi"
	timerSSIDUpdate  = "ssid-update"
	timerIpcd        = "ipcd"
	timerIpcdPoll    = "ipcd-poll"
	timerHub         = "hub"
	timerHubPoll     = "hub-poll"
	timerStatusRetry = "status-retry"
)

type timerEntry struct {
	seq   uint64
	timer *time.Timer
}

// timerSet holds the coordinator's named timers. It is only touched from the event loop;
// expirations are posted back to the loop and dropped if the timer was re-armed or disarmed meanwhile.
type timerSet struct {
	post   func(func()) bool
	seq    uint64
	timers map[string]timerEntry
}

func newTimerSet(post func(func()) bool) *timerSet {
	return &timerSet{post: post, timers: make(map[string]timerEntry)}
}

// arm schedules fire after d, replacing any timer with the same name.
func (ts *timerSet) arm(name string, d time.Duration, fire func()) {
	ts.disarm(name)
	ts.seq++
	seq := ts.seq
	t := time.AfterFunc(d, func() {
		ts.post(func() {
			cur, ok := ts.timers[name]
			if !ok || cur.seq != seq {
				return
			}
			delete(ts.timers, name)
			fire()
		})
	})
	ts.timers[name] = timerEntry{seq: seq, timer: t}
}

func (ts *timerSet) disarm(names ...string) {
	for _, name := range names {
		if e, ok := ts.timers[name]; ok {
			utils.StopTimer(e.timer)
			delete(ts.timers, name)
		}
	}
}

func (ts *timerSet) disarmAll() {
	for name, e := range ts.timers {
		utils.StopTimer(e.timer)
		delete(ts.timers, name)
	}
}

func (ts *timerSet) armed(name string) bool {
	_, ok := ts.timers[name]
	return ok
}

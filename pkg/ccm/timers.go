package ccm

import "time"

// Protocol limits
const (
	MaxTries    = 3
	MaxRespDrop = 3
)

// timeouts are all derived from the keepalive interval.
type timeouts struct {
	update      time.Duration // U: join and wait bound
	longUpdate  time.Duration // LU: STATE_INFO beacon period
	versionReq  time.Duration // VRS: version request retry
	memlistWait time.Duration // IFF: leader's memlist wait
	finalList   time.Duration // FL: follower's final list wait, 18 keepalives plus slack
	refusal     time.Duration // how long a node whose admission failed is ignored
}

func newTimeouts(keepalive time.Duration) timeouts {
	return timeouts{
		update:      9 * keepalive,
		longUpdate:  30 * keepalive,
		versionReq:  9 * keepalive,
		memlistWait: 12 * keepalive,
		finalList:   18*keepalive + 5*time.Millisecond,
		refusal:     60 * keepalive,
	}
}

type timer struct {
	start time.Time
}

func (t *timer) reset(now time.Time) { t.start = now }

func (t *timer) expired(now time.Time, d time.Duration) bool {
	return now.Sub(t.start) >= d
}

type versionResult int

const (
	versionNoChange versionResult = iota
	versionTryAgain
	versionTryEnd
)

// versionTracker paces PROTOVERSION retries and counts foreign responses
// seen while joining.
type versionTracker struct {
	tries int
	nresp int
	timer timer
}

func (v *versionTracker) reset(now time.Time) {
	v.tries = 0
	v.nresp = 0
	v.timer.reset(now)
}

func (v *versionTracker) retry(now time.Time, d time.Duration) versionResult {
	if !v.timer.expired(now, d) {
		return versionNoChange
	}
	if v.tries >= MaxTries {
		return versionTryEnd
	}
	v.tries++
	v.timer.reset(now)
	return versionTryAgain
}

// activity notes that a cluster is busy forming nearby.
func (v *versionTracker) activity() { v.tries = 0 }

package ccm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeouts_DerivedFromKeepalive(t *testing.T) {
	to := newTimeouts(100 * time.Millisecond)
	assert.Equal(t, 900*time.Millisecond, to.update)
	assert.Equal(t, 3*time.Second, to.longUpdate)
	assert.Equal(t, 900*time.Millisecond, to.versionReq)
	assert.Equal(t, 1200*time.Millisecond, to.memlistWait)
	assert.Equal(t, 1805*time.Millisecond, to.finalList)
	assert.Equal(t, 6*time.Second, to.refusal)
}

func TestVersionTracker_Retries(t *testing.T) {
	start := time.Unix(0, 0)
	d := time.Second
	var v versionTracker
	v.reset(start)

	assert.Equal(t, versionNoChange, v.retry(start.Add(500*time.Millisecond), d))

	now := start
	for i := 0; i < MaxTries; i++ {
		now = now.Add(d)
		assert.Equal(t, versionTryAgain, v.retry(now, d), "try %d", i)
	}
	now = now.Add(d)
	assert.Equal(t, versionTryEnd, v.retry(now, d))

	v.activity()
	assert.Equal(t, versionTryAgain, v.retry(now.Add(d), d))
}

func TestLeaveCache(t *testing.T) {
	var c leaveCache
	c.push(2)
	c.push(1)
	c.push(2)
	assert.Equal(t, 2, c.len())

	i, ok := c.pop()
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	c.clear()
	_, ok = c.pop()
	assert.False(t, ok)
}

func TestNewCookie(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		c := NewCookie()
		assert.Len(t, c, CookieSize-1)
		for _, r := range c {
			assert.True(t, r >= '!' && r <= '~', "unprintable %q", r)
		}
		seen[c] = true
	}
	assert.Len(t, seen, 100)
}

func TestChange_Acks(t *testing.T) {
	var c change
	c.reset()
	assert.Equal(t, -1, c.node)

	c = change{kind: changeLeave, node: 2, pending: 2}
	assert.True(t, c.expects(changeLeave, 2))
	assert.False(t, c.expects(changeNew, 2))

	c.ack(0)
	c.ack(0)
	assert.False(t, c.complete())
	c.ack(1)
	assert.True(t, c.complete())
	assert.Panics(t, func() { c.ack(3) })
}

func TestState_Names(t *testing.T) {
	for s := StateNone; s < stateCount; s++ {
		got, ok := ParseState(s.String())
		assert.True(t, ok)
		assert.Equal(t, s, got)
	}
	assert.False(t, StateNone.PartOfCluster())
	assert.False(t, StateVersionRequest.PartOfCluster())
	assert.True(t, StateJoining.PartOfCluster())
	assert.True(t, StateWaitForMemList.settled())
	assert.False(t, StateJoining.settled())
}

package ccm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
)

func TestUpdateTable_LeaderIsLowestCandidate(t *testing.T) {
	tb := newUpdateTable()
	tb.reset(time.Unix(0, 0))

	tb.add(3, 1, true)
	assert.Equal(t, 3, tb.leaderIndex())
	tb.add(1, 1, false)
	assert.Equal(t, 3, tb.leaderIndex())
	tb.add(2, 1, true)
	assert.Equal(t, 2, tb.leaderIndex())

	assert.Equal(t, 3, tb.count())
	assert.Equal(t, bitmap.Of(1, 2, 3), tb.bitmap())
}

func TestUpdateTable_AddIgnoresDuplicates(t *testing.T) {
	tb := newUpdateTable()
	tb.add(0, 4, true)
	tb.add(0, 9, true)

	assert.Equal(t, 1, tb.count())
	assert.Equal(t, uint32(4), tb.uptime(0))
	assert.Equal(t, uint32(0), tb.uptime(7))
}

func TestUpdateTable_RemoveRecomputesLeader(t *testing.T) {
	tb := newUpdateTable()
	tb.add(0, 1, true)
	tb.add(1, 1, true)
	tb.add(2, 1, false)
	tb.cacheRequest(0, 5)
	tb.cacheRequest(2, 5)

	tb.remove(0)
	assert.Equal(t, 1, tb.leaderIndex())
	assert.Equal(t, []memlistRequest{{index: 2, major: 5}}, tb.takeRequests())

	tb.remove(1)
	assert.Equal(t, -1, tb.leaderIndex())
	tb.remove(9)
	assert.Equal(t, 1, tb.count())
}

func TestUpdateTable_Requests(t *testing.T) {
	tb := newUpdateTable()
	tb.cacheRequest(1, 3)
	tb.cacheRequest(1, 4)
	tb.cacheRequest(2, 4)

	assert.Equal(t, []memlistRequest{{1, 4}, {2, 4}}, tb.takeRequests())
	assert.Empty(t, tb.takeRequests())
}

func TestUpdateTable_Expired(t *testing.T) {
	start := time.Unix(100, 0)
	tb := newUpdateTable()
	tb.add(0, 1, true)
	tb.reset(start)

	assert.Zero(t, tb.count())
	assert.Equal(t, -1, tb.leaderIndex())
	assert.False(t, tb.expired(start.Add(time.Second-1), time.Second))
	assert.True(t, tb.expired(start.Add(time.Second), time.Second))
}

package ccm

import (
	"time"

	"github.com/dd0wney/cluso-ccm/pkg/bitmap"
)

// memcomp is the leader's connectivity graph for one round. Each vertex
// reports the set of nodes it heard; i and j are connected only when each
// reported the other.
type memcomp struct {
	vertices  bitmap.Set
	rows      [bitmap.MaxNodes]bitmap.Set
	maxTrans  [bitmap.MaxNodes]uint32
	responded bitmap.Set
	initTime  time.Time
}

func (mc *memcomp) init(vertices bitmap.Set, now time.Time) {
	mc.reset()
	mc.vertices = vertices
	mc.initTime = now
}

func (mc *memcomp) reset() {
	mc.vertices.Each(func(i int) {
		mc.rows[i] = bitmap.Set{}
		mc.maxTrans[i] = 0
	})
	mc.vertices = bitmap.Set{}
	mc.responded = bitmap.Set{}
}

func (mc *memcomp) isVertex(i int) bool { return mc.vertices.Has(i) }

func (mc *memcomp) addVertex(i int) { mc.vertices.Add(i) }

// mark adds j to i's row without counting a response.
func (mc *memcomp) mark(i, j int) { mc.rows[i].Add(j) }

// note records i's reported row. A node that answers twice keeps the
// latest row.
func (mc *memcomp) note(i int, row bitmap.Set, maxTrans uint32) {
	mc.rows[i] = row
	mc.maxTrans[i] = maxTrans
	mc.responded.Add(i)
}

func (mc *memcomp) allResponded() bool {
	return mc.vertices.SubsetOf(mc.responded)
}

func (mc *memcomp) expired(now time.Time, d time.Duration) bool {
	return now.Sub(mc.initTime) >= d
}

func (mc *memcomp) connected(i, j int) bool {
	return mc.rows[i].Has(j) && mc.rows[j].Has(i)
}

// cliqueWith returns the largest fully connected set that contains leader.
func (mc *memcomp) cliqueWith(leader int) bitmap.Set {
	hood := bitmap.Of(leader)
	mc.vertices.Each(func(j int) {
		if j != leader && mc.connected(leader, j) {
			hood.Add(j)
		}
	})
	return MaxClique(hood, mc.connected)
}

// maxTransOf is the highest major any member of s has held.
func (mc *memcomp) maxTransOf(s bitmap.Set) uint32 {
	var m uint32
	s.Each(func(i int) {
		if mc.maxTrans[i] > m {
			m = mc.maxTrans[i]
		}
	})
	return m
}

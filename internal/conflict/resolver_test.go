package conflict

import (
	"testing"

	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"
	"github.com/stretchr/testify/assert"
)

func TestResolveKeepLocalWhenRemoteIsStale(t *testing.T) {
	local := State{
		Properties:  canvasevent.Properties{"x": 10.0},
		VectorClock: vectorclock.Clock{"A": 2},
	}
	remote := State{
		Properties:  canvasevent.Properties{"x": 1.0},
		VectorClock: vectorclock.Clock{"A": 1},
	}

	result := Resolve(local, remote)

	assert.Equal(t, KeepLocal, result.Action)
	assert.Equal(t, local.Properties, result.Properties)
	assert.False(t, result.HadConflict)
}

func TestResolveApplyRemoteWhenLocalIsStale(t *testing.T) {
	local := State{
		Properties:  canvasevent.Properties{"x": 1.0},
		VectorClock: vectorclock.Clock{"A": 1},
	}
	remote := State{
		Properties:  canvasevent.Properties{"x": 99.0},
		VectorClock: vectorclock.Clock{"A": 2},
	}

	result := Resolve(local, remote)

	assert.Equal(t, ApplyRemote, result.Action)
	assert.Equal(t, remote.Properties, result.Properties)
	assert.False(t, result.HadConflict)
}

// Scenario 4 from spec.md §8: base {strokeColor:'#000', strokeWidth:2}.
// A edits strokeColor='#f00' (ts=1000, vc={A:1}); B concurrently edits
// strokeWidth=5 (ts=1001, vc={B:1}). Final: {strokeColor:'#f00',
// strokeWidth:5}, flagged hadConflict, vector clock absorbs both.
func TestResolveMergeDisjointKeysScenario4(t *testing.T) {
	local := State{
		Properties:         canvasevent.Properties{"strokeColor": "#f00", "strokeWidth": 2.0},
		VectorClock:        vectorclock.Clock{"A": 1},
		PropertyTimestamps: map[string]int64{"strokeColor": 1000},
	}
	remote := State{
		Properties:         canvasevent.Properties{"strokeColor": "#000", "strokeWidth": 5.0},
		VectorClock:        vectorclock.Clock{"B": 1},
		PropertyTimestamps: map[string]int64{"strokeWidth": 1001},
	}

	result := Resolve(local, remote)

	assert.Equal(t, Merge, result.Action)
	assert.True(t, result.HadConflict)
	assert.Equal(t, "#f00", result.Properties["strokeColor"])
	assert.Equal(t, 5.0, result.Properties["strokeWidth"])
	assert.Equal(t, uint64(1), result.VectorClock.Get("A"))
	assert.Equal(t, uint64(1), result.VectorClock.Get("B"))
}

// Merge commutativity for disjoint keys: resolving in the other arrival
// order (remote/local swapped) yields the same final property set.
func TestMergeCommutativityForDisjointKeys(t *testing.T) {
	a := State{
		Properties:         canvasevent.Properties{"color": "red", "width": 1.0},
		VectorClock:        vectorclock.Clock{"A": 1},
		PropertyTimestamps: map[string]int64{"color": 10},
	}
	b := State{
		Properties:         canvasevent.Properties{"color": "blue", "width": 9.0},
		VectorClock:        vectorclock.Clock{"B": 1},
		PropertyTimestamps: map[string]int64{"width": 11},
	}

	forward := Resolve(a, b)
	backward := Resolve(b, a)

	assert.Equal(t, forward.Properties["color"], backward.Properties["color"])
	assert.Equal(t, forward.Properties["width"], backward.Properties["width"])
}

func TestMergeTieBreakPrefersRemote(t *testing.T) {
	local := State{
		Properties:         canvasevent.Properties{"x": 1.0},
		VectorClock:        vectorclock.Clock{"A": 1},
		PropertyTimestamps: map[string]int64{"x": 500},
	}
	remote := State{
		Properties:         canvasevent.Properties{"x": 2.0},
		VectorClock:        vectorclock.Clock{"B": 1},
		PropertyTimestamps: map[string]int64{"x": 500},
	}

	result := Resolve(local, remote)

	assert.Equal(t, 2.0, result.Properties["x"], "remote wins on a timestamp tie")
}

// Causality soundness: if A happened-before B, the resolver never
// returns KEEP_LOCAL for B against A.
func TestCausalitySoundness(t *testing.T) {
	a := State{VectorClock: vectorclock.Clock{"A": 1}}
	b := State{VectorClock: vectorclock.Clock{"A": 2}}

	result := Resolve(a, b)

	assert.NotEqual(t, KeepLocal, result.Action)
}

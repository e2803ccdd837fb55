// Package conflict decides how a remote shape edit should be reconciled
// against local state: keep the local version, apply the remote version
// wholesale, or merge property-by-property (§4.C).
package conflict

import (
	"github.com/Shashank188/CanvasCollab/internal/canvasevent"
	"github.com/Shashank188/CanvasCollab/internal/vectorclock"
)

// Action is the resolver's verdict for one remote edit against one local
// shape state.
type Action string

const (
	KeepLocal   Action = "KEEP_LOCAL"
	ApplyRemote Action = "APPLY_REMOTE"
	Merge       Action = "MERGE"
)

// State is the minimal view of a shape's causal metadata the resolver
// needs: its current properties, vector clock, and per-property edit
// timestamps.
type State struct {
	Properties         canvasevent.Properties
	VectorClock        vectorclock.Clock
	PropertyTimestamps map[string]int64
}

// Result is the outcome of resolving one remote edit.
type Result struct {
	Action             Action
	Properties         canvasevent.Properties
	VectorClock        vectorclock.Clock
	PropertyTimestamps map[string]int64
	HadConflict        bool
}

// Resolve implements §4.C: compares local and remote causal metadata and
// returns the action to take plus, for MERGE, the merged state.
func Resolve(local, remote State) Result {
	if remote.VectorClock.HappensBefore(local.VectorClock) {
		return Result{
			Action:             KeepLocal,
			Properties:         local.Properties,
			VectorClock:        local.VectorClock,
			PropertyTimestamps: local.PropertyTimestamps,
		}
	}

	if local.VectorClock.HappensBefore(remote.VectorClock) {
		return Result{
			Action:             ApplyRemote,
			Properties:         remote.Properties,
			VectorClock:        remote.VectorClock,
			PropertyTimestamps: remote.PropertyTimestamps,
		}
	}

	// Concurrent: merge property-by-property, remote wins ties.
	mergedProps, mergedTimestamps := mergeByPropertyTimestamp(local, remote)
	return Result{
		Action:             Merge,
		Properties:         mergedProps,
		VectorClock:        local.VectorClock.Merge(remote.VectorClock),
		PropertyTimestamps: mergedTimestamps,
		HadConflict:        true,
	}
}

// mergeByPropertyTimestamp implements the per-property tie-break: for
// each key touched on either side, the value with the greater
// property-timestamp wins; on a tie remote wins. Keys untouched on
// either side retain the base (local) value.
func mergeByPropertyTimestamp(local, remote State) (canvasevent.Properties, map[string]int64) {
	touched := make(map[string]struct{}, len(local.PropertyTimestamps)+len(remote.PropertyTimestamps))
	for k := range local.PropertyTimestamps {
		touched[k] = struct{}{}
	}
	for k := range remote.PropertyTimestamps {
		touched[k] = struct{}{}
	}

	props := make(canvasevent.Properties, len(local.Properties))
	for k, v := range local.Properties {
		props[k] = v
	}

	timestamps := make(map[string]int64, len(touched))
	for k := range local.PropertyTimestamps {
		timestamps[k] = local.PropertyTimestamps[k]
	}

	for key := range touched {
		localTS, localTouched := local.PropertyTimestamps[key]
		remoteTS, remoteTouched := remote.PropertyTimestamps[key]

		switch {
		case remoteTouched && (!localTouched || remoteTS >= localTS):
			if v, ok := remote.Properties[key]; ok {
				props[key] = v
			}
			timestamps[key] = remoteTS
		case localTouched:
			if v, ok := local.Properties[key]; ok {
				props[key] = v
			}
			timestamps[key] = localTS
		}
	}

	return props, timestamps
}

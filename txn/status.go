package txn

import (
	"github.com/identikit/go-identity-sdk/chainclient"
)

// Status is the lifecycle stage of a tracked transaction.
type Status string

const (
	// StatusPrepared means the extrinsic is signed but not yet broadcast.
	StatusPrepared Status = "prepared"
	// StatusSubmitted means the chain accepted the extrinsic into its pool.
	StatusSubmitted Status = "submitted"
	// StatusInBlock means the extrinsic executed inside a block.
	StatusInBlock Status = "inBlock"
	// StatusFinalized means the containing block can no longer be reverted.
	StatusFinalized Status = "finalized"
	// StatusFailed means the extrinsic executed and its dispatch errored, or
	// an adapter error interrupted the lifecycle.
	StatusFailed Status = "failed"
	// StatusDropped means the pool evicted the extrinsic before inclusion.
	StatusDropped Status = "dropped"
	// StatusInvalid means the chain rejected the extrinsic outright.
	StatusInvalid Status = "invalid"
)

// Terminal reports whether no further transition can follow.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinalized, StatusFailed, StatusDropped, StatusInvalid:
		return true
	}
	return false
}

// transitions holds the legal forward edges of the lifecycle. Failed is
// reachable from every live state because an adapter error can interrupt a
// transaction at any point.
var transitions = map[Status][]Status{
	StatusPrepared:  {StatusSubmitted, StatusFailed},
	StatusSubmitted: {StatusInBlock, StatusFailed, StatusDropped, StatusInvalid},
	StatusInBlock:   {StatusFinalized, StatusFailed},
}

// CanTransition reports whether moving between the two statuses is legal.
// Terminal statuses have no outgoing edges.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statusFromKind maps a chain status notification onto the lifecycle. The
// second return is false for kinds the lifecycle does not track.
func statusFromKind(kind chainclient.StatusKind) (Status, bool) {
	switch kind {
	case chainclient.StatusBroadcast:
		return StatusSubmitted, true
	case chainclient.StatusInBlock:
		return StatusInBlock, true
	case chainclient.StatusFinalized:
		return StatusFinalized, true
	case chainclient.StatusDropped:
		return StatusDropped, true
	case chainclient.StatusInvalid:
		return StatusInvalid, true
	case chainclient.StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

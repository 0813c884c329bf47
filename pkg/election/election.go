// Package election decides which live instance is the primary.
//
// There is no consensus round. Every instance runs the same pure function
// over the same observed peer set and arrives at the same answer: the
// live instance holding the lowest position is primary. Positions are
// assigned once at startup and never reassigned, so the primary changes
// only when the current one disappears or a lower position resurfaces.
package election

import (
	"sort"

	"github.com/daviddao/peerbus/pkg/model"
)

// Decision is the outcome of one election pass.
type Decision struct {
	PrimaryID string `json:"primary_id"`
	Primary   bool   `json:"primary"`
}

// Decide elects the primary among self and the live peers. Position
// collisions can happen when two instances join at the same instant; ties
// break by lexicographic id so every observer still agrees.
func Decide(selfID string, selfPos int, peers []model.Instance) Decision {
	winID, winPos := selfID, selfPos
	for _, p := range peers {
		if p.Position < winPos || (p.Position == winPos && p.ID < winID) {
			winID, winPos = p.ID, p.Position
		}
	}
	return Decision{PrimaryID: winID, Primary: winID == selfID}
}

// NextPosition computes the startup position for a joining instance: one
// more than the live instances it observes. The first instance gets 1.
func NextPosition(peers []model.Instance) int {
	return len(peers) + 1
}

// ByPosition orders instances by position, id as the tie-break. Used for
// stable listings.
func ByPosition(list []model.Instance) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Position != list[j].Position {
			return list[i].Position < list[j].Position
		}
		return list[i].ID < list[j].ID
	})
}

// Package merge implements the last-writer-wins reconciliation rule used
// to converge concurrent whiteboard edits. The same rule is applied on the
// server when replaying a room's snapshot log and by clients when applying
// incoming broadcasts, which is what makes delivery order-independent and
// duplicate-safe.
package merge

import (
	"encoding/json"
	"sort"
)

// Element is one drawable fragment. Only the identity and versioning
// fields are interpreted; every other attribute is carried opaquely and
// reproduced verbatim when the element is marshalled again.
type Element struct {
	ID           string
	Version      int64
	VersionNonce int64
	Deleted      bool

	raw json.RawMessage
}

type elementEnvelope struct {
	ID           string `json:"id"`
	Version      int64  `json:"version"`
	VersionNonce int64  `json:"versionNonce"`
	IsDeleted    bool   `json:"isDeleted,omitempty"`
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var env elementEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	e.ID = env.ID
	e.Version = env.Version
	e.VersionNonce = env.VersionNonce
	e.Deleted = env.IsDeleted
	e.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (e Element) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}

	return json.Marshal(elementEnvelope{
		ID:           e.ID,
		Version:      e.Version,
		VersionNonce: e.VersionNonce,
		IsDeleted:    e.Deleted,
	})
}

// Supersedes reports whether e wins over other for the same identifier:
// higher version, or equal version and higher tie-break nonce. No other
// signal (arrival order, wall clock) participates in the decision.
func (e Element) Supersedes(other Element) bool {
	if e.Version != other.Version {
		return e.Version > other.Version
	}
	return e.VersionNonce > other.VersionNonce
}

// Merge reconciles two element collections. For every identifier present in
// either input the result contains the winning revision, except that winners
// carrying the delete flag are excluded entirely. Elements without an
// identifier are dropped. Merge is pure, commutative and idempotent; the
// result is sorted by identifier so equal inputs produce equal outputs
// regardless of ordering.
func Merge(existing, incoming []Element) []Element {
	byID := make(map[string]Element, len(existing)+len(incoming))

	for _, el := range existing {
		if el.ID == "" {
			continue
		}
		if prev, ok := byID[el.ID]; !ok || el.Supersedes(prev) {
			byID[el.ID] = el
		}
	}

	for _, el := range incoming {
		if el.ID == "" {
			continue
		}
		if prev, ok := byID[el.ID]; !ok || el.Supersedes(prev) {
			byID[el.ID] = el
		}
	}

	merged := make([]Element, 0, len(byID))
	for _, el := range byID {
		if el.Deleted {
			continue
		}
		merged = append(merged, el)
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })

	return merged
}

// Replay folds an ordered snapshot-log replay into a single scene by
// applying Merge batch by batch. Passing the batches oldest first matches
// how the append-only log is reconstructed on (re)join.
func Replay(batches ...[]Element) []Element {
	var scene []Element
	for _, batch := range batches {
		scene = Merge(scene, batch)
	}
	return scene
}

// DecodeScene parses a serialized element collection, as stored in a
// snapshot log entry. A payload that is not a JSON array of elements
// returns ok=false; plain chat text shares the log and is simply skipped
// by callers.
func DecodeScene(payload string) ([]Element, bool) {
	var elements []Element
	if err := json.Unmarshal([]byte(payload), &elements); err != nil {
		return nil, false
	}
	return elements, true
}

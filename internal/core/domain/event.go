package domain

// StateEvent is a subscriber-scoped view of a block commit: the block
// height plus only the changed addresses that matched the subscriber's
// filter, grouped by namespace.
type StateEvent struct {
	BlockID    string                     `json:"block_id"`
	Height     uint64                     `json:"height"`
	Namespaces map[ResourceType][]Address `json:"namespaces"`
}

// DisconnectReason explains why a subscriber was force-disconnected.
type DisconnectReason string

const (
	// DisconnectLagExceeded: the subscriber dropped more events than the
	// configured lag threshold and must reload before resubscribing.
	DisconnectLagExceeded DisconnectReason = "lag_exceeded"

	// DisconnectResync: the gateway missed commits and every subscriber
	// must reload current state from the read store before resubscribing.
	DisconnectResync DisconnectReason = "resync_required"
)

// ResyncSignal is handed to the read-store cache maintainer whenever
// continuity of the commit feed was lost, so it can reconcile by
// re-querying current ledger state.
type ResyncSignal struct {
	ID         string `json:"id"`
	FromHeight uint64 `json:"from_height"`
	ToHeight   uint64 `json:"to_height"`
	Reason     string `json:"reason"`
	EmittedAt  int64  `json:"emitted_at"`
}

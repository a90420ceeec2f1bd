package domain

// BatchStatus is the validator-owned lifecycle state of a submitted batch.
// The gateway only observes it, never mutates it.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusInvalid   BatchStatus = "INVALID"
	BatchStatusCommitted BatchStatus = "COMMITTED"
	BatchStatusUnknown   BatchStatus = "UNKNOWN"
)

// Terminal reports whether the status can no longer change.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCommitted || s == BatchStatusInvalid
}

// Transaction is a single signed state change inside a batch.
// The payload is opaque to the gateway; only the declared address
// sets are inspected.
type Transaction struct {
	ID              string    `json:"id"`
	Payload         []byte    `json:"payload"`
	Inputs          []Address `json:"inputs"`
	Outputs         []Address `json:"outputs"`
	Dependencies    []string  `json:"dependencies,omitempty"`
	SignerPublicKey string    `json:"signer_public_key"`
}

// Batch is an immutable, signed group of transactions treated as a
// single commit/reject unit by the validator. ID is derived from the
// canonical serialization of the transaction list, so identical content
// always maps to the same identifier.
type Batch struct {
	ID              string        `json:"id"`
	Transactions    []Transaction `json:"transactions"`
	SignerPublicKey string        `json:"signer_public_key"`
	Signature       string        `json:"signature"`
}

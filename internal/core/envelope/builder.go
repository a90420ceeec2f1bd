// Package envelope assembles client-submitted, pre-signed transaction
// lists into ledger batch envelopes. The builder is a pure
// validation/assembly stage: it performs no I/O and leaves signature
// verification to a collaborator.
package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/trustmesh/gateway/internal/core/address"
	"github.com/trustmesh/gateway/internal/core/domain"
)

// DefaultMaxBatchBytes bounds the serialized size of a submitted batch.
const DefaultMaxBatchBytes = 1 << 20 // 1 MiB

// Verifier checks a signature over a canonical message for a given
// public key. Implementations are cryptographic collaborators; the
// builder never inspects key material itself.
type Verifier interface {
	Verify(publicKey string, message []byte, signature string) bool
}

// Submitter is the already-authenticated identity submitting a batch:
// its public key and the set of namespaces it is authorized to write.
// Resolution of identity and namespace grants happens upstream.
type Submitter struct {
	PublicKey  string
	Namespaces []domain.ResourceType
}

func (s Submitter) allowed(rt domain.ResourceType) bool {
	for _, ns := range s.Namespaces {
		if ns == rt {
			return true
		}
	}
	return false
}

// ResourceScope names one resource a transaction declares it writes.
type ResourceScope struct {
	Type domain.ResourceType `json:"type"`
	ID   string              `json:"id"`
}

// wireTransaction is the client wire shape of a single transaction.
type wireTransaction struct {
	Payload         []byte           `json:"payload"`
	Inputs          []domain.Address `json:"inputs"`
	Outputs         []domain.Address `json:"outputs"`
	Dependencies    []string         `json:"dependencies,omitempty"`
	SignerPublicKey string           `json:"signer_public_key"`
	Resources       []ResourceScope  `json:"resources"`
}

// wireBatch is the client wire shape of a batch submission.
type wireBatch struct {
	Transactions []wireTransaction `json:"transactions"`
	Signature    string            `json:"signature"`
}

// Builder validates raw batch submissions and assembles them into
// immutable domain batches with content-derived identifiers.
type Builder struct {
	verifier Verifier
	maxBytes int
}

// NewBuilder creates a Builder. maxBytes <= 0 selects the default limit.
func NewBuilder(verifier Verifier, maxBytes int) *Builder {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBatchBytes
	}
	return &Builder{verifier: verifier, maxBytes: maxBytes}
}

// Build validates raw submission bytes for a submitter and returns the
// assembled batch. Validation fails fast in a fixed order: structural
// decode, size/emptiness, batch signature, namespace authorization.
func (b *Builder) Build(raw []byte, sub Submitter) (*domain.Batch, error) {
	if len(raw) > b.maxBytes {
		return nil, fmt.Errorf("batch of %d bytes exceeds limit %d: %w",
			len(raw), b.maxBytes, domain.ErrPayloadTooLarge)
	}

	var wire wireBatch
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode batch: %v: %w", err, domain.ErrMalformedPayload)
	}
	if len(wire.Transactions) == 0 {
		return nil, domain.ErrEmptyBatch
	}

	txns := make([]domain.Transaction, len(wire.Transactions))
	for i, wt := range wire.Transactions {
		if len(wt.Payload) == 0 {
			return nil, fmt.Errorf("transaction %d has no payload: %w", i, domain.ErrMalformedPayload)
		}
		txns[i] = domain.Transaction{
			Payload:         wt.Payload,
			Inputs:          wt.Inputs,
			Outputs:         wt.Outputs,
			Dependencies:    wt.Dependencies,
			SignerPublicKey: wt.SignerPublicKey,
		}
		txns[i].ID = contentHash(txns[i])
	}

	canonical, err := canonicalize(txns)
	if err != nil {
		return nil, fmt.Errorf("canonicalize transactions: %w", err)
	}
	if !b.verifier.Verify(sub.PublicKey, canonical, wire.Signature) {
		return nil, domain.ErrInvalidSignature
	}

	for i, wt := range wire.Transactions {
		if err := checkOutputs(wt, sub); err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
	}

	sum := sha256.Sum256(canonical)
	return &domain.Batch{
		ID:              hex.EncodeToString(sum[:]),
		Transactions:    txns,
		SignerPublicKey: sub.PublicKey,
		Signature:       wire.Signature,
	}, nil
}

// checkOutputs enforces that every declared output address is derivable
// from the transaction's declared resource scope and falls inside a
// namespace the submitter may write.
func checkOutputs(wt wireTransaction, sub Submitter) error {
	derived := make(map[domain.Address]domain.ResourceType, len(wt.Resources))
	for _, rs := range wt.Resources {
		addr, err := address.Derive(rs.Type, rs.ID)
		if err != nil {
			return fmt.Errorf("resource scope %s/%s: %v: %w",
				rs.Type, rs.ID, err, domain.ErrMalformedPayload)
		}
		derived[addr] = rs.Type
	}

	for _, out := range wt.Outputs {
		rt, ok := derived[out]
		if !ok {
			return fmt.Errorf("output %s not derivable from declared scope: %w",
				out, domain.ErrUnauthorizedAddress)
		}
		if !sub.allowed(rt) {
			return fmt.Errorf("output %s in namespace %s: %w",
				out, rt, domain.ErrUnauthorizedAddress)
		}
	}
	return nil
}

// canonicalize produces the deterministic serialization of a transaction
// list. Both the batch signature and the batch identifier are computed
// over these bytes.
func canonicalize(txns []domain.Transaction) ([]byte, error) {
	return json.Marshal(txns)
}

func contentHash(txn domain.Transaction) string {
	data, _ := json.Marshal(struct {
		Payload []byte           `json:"payload"`
		Inputs  []domain.Address `json:"inputs"`
		Outputs []domain.Address `json:"outputs"`
		Signer  string           `json:"signer"`
	}{txn.Payload, txn.Inputs, txn.Outputs, txn.SignerPublicKey})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CanonicalBytes exposes the canonical serialization clients must sign.
func CanonicalBytes(txns []domain.Transaction) ([]byte, error) {
	return canonicalize(txns)
}

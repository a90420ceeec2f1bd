package domain

import "time"

// Submission records one accepted batch submission for the status
// surface and for audit. The status itself is never stored here; the
// validator owns it.
type Submission struct {
	BatchID         string    `db:"batch_id"`
	SignerPublicKey string    `db:"signer_public_key"`
	TxnCount        int       `db:"txn_count"`
	SubmittedAt     time.Time `db:"submitted_at"`
}

// SubmissionReceipt is returned to the client on an accepted
// submission: the batch id plus the link to poll for its status.
type SubmissionReceipt struct {
	BatchID    string `json:"id"`
	StatusLink string `json:"link"`
}

// FeedCursor is the persisted position of the commit feed, so delivery
// resumes from the last observed height across gateway restarts.
type FeedCursor struct {
	Height    uint64    `db:"height"`
	BlockID   string    `db:"block_id"`
	UpdatedAt time.Time `db:"updated_at"`
}

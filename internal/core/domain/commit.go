package domain

// BlockCommit describes a single committed block as observed on the
// validator's commit feed: which block, at what height, and which state
// addresses it changed. Heights are monotonically increasing with no
// gaps from the gateway's observation point; a discontinuity means
// commits were missed.
type BlockCommit struct {
	BlockID   string    `json:"block_id"`
	Height    uint64    `json:"height"`
	Addresses []Address `json:"addresses"`
}

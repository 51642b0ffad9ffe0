package domain

import "time"

// Verdict classifies a stamped document against prior content hashes.
type Verdict string

const (
	VerdictNew       Verdict = "new"
	VerdictDuplicate Verdict = "duplicate"
)

// Hash algorithm labels. The digest string always carries its algorithm as a
// prefix ("blake3:<hex>" or "sha256:<hex>") so readers never compare digests
// across algorithms.
const (
	AlgorithmBLAKE3 = "blake3"
	AlgorithmSHA256 = "sha256"
)

// Fingerprint records the stamping outcome for one document. The digest is a
// pure function of the content bytes; the verdict also depends on the seen
// index state at stamping time.
type Fingerprint struct {
	Digest    string    `json:"digest"`
	Algorithm string    `json:"algorithm"`
	Verdict   Verdict   `json:"verdict"`
	StampedAt time.Time `json:"stamped_at"`
	// DegradedWarning is set when the seen index was unreachable and the
	// verdict fell through to new.
	DegradedWarning string `json:"degraded_warning,omitempty"`
}

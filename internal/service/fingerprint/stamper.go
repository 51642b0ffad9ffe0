// Package fingerprint stamps documents with a content hash and a dedup
// verdict. The digest is a pure function of the content bytes; the verdict
// consults the seen-hash index, degrading to "new" when the index is
// unreachable so indexing keeps flowing.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"go.uber.org/zap"
	"lukechampine.com/blake3"

	"cortex-backend/internal/domain"
	"cortex-backend/internal/ports"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

const component = "fingerprint"

// Stamper produces content fingerprints.
type Stamper struct {
	index     ports.FingerprintIndex
	algorithm string
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *observability.Collector
}

// Option customizes a Stamper.
type Option func(*Stamper)

// WithSHA256 switches the digest algorithm to SHA-256. The default is BLAKE3;
// the chosen algorithm is always recorded as the digest prefix so readers
// never compare digests across algorithms.
func WithSHA256() Option {
	return func(s *Stamper) { s.algorithm = domain.AlgorithmSHA256 }
}

// NewStamper builds a stamper over the given seen-hash index.
func NewStamper(index ports.FingerprintIndex, timeout time.Duration, logger *zap.Logger, metrics *observability.Collector, opts ...Option) *Stamper {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Stamper{
		index:     index,
		algorithm: domain.AlgorithmBLAKE3,
		timeout:   timeout,
		logger:    logger.Named(component),
		metrics:   metrics,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stamp hashes the content and classifies it against prior hashes. An
// unreachable index never fails the call: the verdict falls through to new
// and the degradation is recorded on the fingerprint.
func (s *Stamper) Stamp(ctx context.Context, content, sourcePath string) (domain.Fingerprint, error) {
	fp := domain.Fingerprint{
		Digest:    s.digest([]byte(content)),
		Algorithm: s.algorithm,
		Verdict:   domain.VerdictNew,
		StampedAt: time.Now().UTC(),
	}

	indexCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	alreadySeen, err := s.index.MarkSeen(indexCtx, fp.Digest)
	s.metrics.ObserveStore("fingerprint", "mark_seen", time.Since(start), err)
	if err != nil {
		// The enclosing request being cancelled is a stamping failure, not a
		// degradation. An index-only failure falls through to a new verdict.
		if ctx.Err() != nil {
			return domain.Fingerprint{}, indexError(err)
		}
		fp.DegradedWarning = "seen-hash index unavailable, verdict defaulted to new"
		s.logger.Warn("seen-hash index unavailable",
			zap.String("source_path", sourcePath),
			zap.Error(err))
		return fp, nil
	}

	if alreadySeen {
		fp.Verdict = domain.VerdictDuplicate
		s.metrics.DocumentsDeduped.Inc()
	}
	return fp, nil
}

// Digest returns the prefixed digest for content without touching the seen
// index. Used where only the hash is needed.
func (s *Stamper) Digest(content string) string {
	return s.digest([]byte(content))
}

func (s *Stamper) digest(data []byte) string {
	switch s.algorithm {
	case domain.AlgorithmSHA256:
		sum := sha256.Sum256(data)
		return domain.AlgorithmSHA256 + ":" + hex.EncodeToString(sum[:])
	default:
		sum := blake3.Sum256(data)
		return domain.AlgorithmBLAKE3 + ":" + hex.EncodeToString(sum[:])
	}
}

func indexError(err error) error {
	return errors.NewStampingUnavailable("seen-hash index failed", err).WithComponent(component)
}

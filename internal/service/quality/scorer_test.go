package quality

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cortex-backend/internal/infrastructure/persistence/memory"
	"cortex-backend/pkg/errors"
	"cortex-backend/pkg/observability"
)

func newTestScorer(backend *memory.QualityScorer) *Scorer {
	return NewScorer(backend, time.Second, zap.NewNop(), observability.NewCollector("test"))
}

func TestAssess_PassesThroughVerdict(t *testing.T) {
	backend := memory.NewQualityScorer()
	backend.SetAssessment(0.82, map[string]bool{"has_docstrings": true, "has_tests": false})
	scorer := newTestScorer(backend)

	got, err := scorer.Assess(context.Background(), "def f(): ...", "a.py", "python")
	require.NoError(t, err)
	assert.Equal(t, 0.82, got.Score)
	assert.True(t, got.Compliance["has_docstrings"])
	assert.False(t, got.Compliance["has_tests"])
}

func TestAssess_ClampsOutOfRangeScores(t *testing.T) {
	backend := memory.NewQualityScorer()
	scorer := newTestScorer(backend)

	backend.SetAssessment(1.4, nil)
	got, err := scorer.Assess(context.Background(), "x", "a.py", "python")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Score)

	backend.SetAssessment(-0.2, nil)
	got, err = scorer.Assess(context.Background(), "x", "a.py", "python")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.Score)
}

func TestAssess_FailureIsTyped(t *testing.T) {
	backend := memory.NewQualityScorer()
	backend.SetError("AssessCode", assert.AnError)
	scorer := newTestScorer(backend)

	_, err := scorer.Assess(context.Background(), "x", "a.py", "python")
	require.Error(t, err)
	assert.Equal(t, errors.KindInternal, errors.KindOf(err))
}

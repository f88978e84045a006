package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubArchiver struct {
	cutoffs []time.Time
	failArb bool
}

func (s *stubArchiver) ArchiveRollovers(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 3, nil
}

func (s *stubArchiver) ArchiveArbitrages(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	if s.failArb {
		return 0, errors.New("bucket gone")
	}
	return 1, nil
}

func (s *stubArchiver) ArchiveAudit(_ context.Context, before time.Time) (int64, error) {
	s.cutoffs = append(s.cutoffs, before)
	return 0, nil
}

func newTestArchiver(stub *stubArchiver) *Archiver {
	a := NewArchiver(stub, 90, 24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.now = func() time.Time { return time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC) }
	return a
}

func TestCutoffAlignedToInterval(t *testing.T) {
	a := newTestArchiver(&stubArchiver{})
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), a.Cutoff())
}

func TestRunArchivesEveryKind(t *testing.T) {
	stub := &stubArchiver{}
	require.NoError(t, newTestArchiver(stub).Run(context.Background()))
	require.Len(t, stub.cutoffs, 3)
	for _, c := range stub.cutoffs {
		assert.Equal(t, stub.cutoffs[0], c)
	}
}

func TestRunContinuesPastFailure(t *testing.T) {
	stub := &stubArchiver{failArb: true}
	err := newTestArchiver(stub).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arbitrages")
	assert.Len(t, stub.cutoffs, 3)
}

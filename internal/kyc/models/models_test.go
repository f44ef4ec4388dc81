package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKycStatusTerminality(t *testing.T) {
	terminal := []KycStatus{StatusApproved, StatusRejected, StatusExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
		assert.True(t, s.CompletesCase(), "%s should complete the case", s)
	}

	open := []KycStatus{StatusStarted, StatusInProgress, StatusAwaitingDocuments, StatusSubmitted, StatusFailed, StatusTimeout}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestSubmissionStatusTerminality(t *testing.T) {
	assert.False(t, SubmissionPending.IsTerminal())
	assert.True(t, SubmissionSuccess.IsTerminal())
	assert.True(t, SubmissionFailed.IsTerminal())
	assert.True(t, SubmissionRetryExhausted.IsTerminal())
}

func TestCaseRefs(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("generated refs match the format", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			ref := NewCaseRef(now)
			assert.True(t, ValidCaseRef(ref), "generated ref %q should be valid", ref)
			assert.Contains(t, ref, "FGR20260115-")
		}
	})

	t.Run("validates the FGR format strictly", func(t *testing.T) {
		assert.True(t, ValidCaseRef("FGR20260115-042"))
		assert.False(t, ValidCaseRef("FGR2026115-042"))
		assert.False(t, ValidCaseRef("FGR20260115-42"))
		assert.False(t, ValidCaseRef("fgr20260115-042"))
		assert.False(t, ValidCaseRef("FGR20260115-0423"))
		assert.False(t, ValidCaseRef(""))
	})
}

func TestDocumentUsable(t *testing.T) {
	now := time.Now()
	doc := KycDocument{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, doc.Usable(now))

	expired := KycDocument{ExpiresAt: now.Add(-time.Minute)}
	assert.False(t, expired.Usable(now))

	deleted := KycDocument{ExpiresAt: now.Add(time.Hour), Deleted: true}
	assert.False(t, deleted.Usable(now))
}

func TestDocumentChecksum(t *testing.T) {
	a := DocumentChecksum([]byte("scan-1"))
	b := DocumentChecksum([]byte("scan-2"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, DocumentChecksum([]byte("scan-1")))
}

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStage_After(t *testing.T) {
	assert.True(t, StageDownloaded.After(StageRegistered))
	assert.True(t, StageConsolidated.After(StageExtracted))
	assert.False(t, StageRegistered.After(StageDownloaded))
	assert.False(t, StageDownloaded.After(StageDownloaded))

	// Failed is outside the ordering entirely.
	assert.False(t, StageFailed.After(StageRegistered))
	assert.False(t, StageConsolidated.After(StageFailed))
}

func TestStage_Rank(t *testing.T) {
	assert.Equal(t, 0, StageRegistered.Rank())
	assert.Equal(t, 4, StageConsolidated.Rank())
	assert.Equal(t, -1, StageFailed.Rank())
	assert.Equal(t, -1, Stage("bogus").Rank())
}

func TestStage_Valid(t *testing.T) {
	assert.True(t, StageFailed.Valid())
	assert.True(t, StageNormalized.Valid())
	assert.False(t, Stage("half-done").Valid())
}

func TestDocumentID(t *testing.T) {
	d := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "pdf-1984-09-28", DocumentID("pdf", d))
}

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduleRecord(t *testing.T) {
	at := time.Date(2026, 5, 10, 15, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	rec := NewScheduleRecord("u-1", "acct-1", at, ContentDescriptor{Caption: "hi"})

	assert.NotEqual(t, rec.ID.String(), NewScheduleRecord("u-1", "acct-1", at, ContentDescriptor{}).ID.String())
	assert.Equal(t, time.UTC, rec.ScheduledAt.Location())
	assert.True(t, rec.ScheduledAt.Equal(at))
	assert.Equal(t, PostChannelPost, rec.Content.Channel)
	assert.Equal(t, RecordStatusPending, rec.Status)
	assert.True(t, rec.IsPending())
	assert.Zero(t, rec.JobGeneration)
}

func TestScheduleRecord_JobID(t *testing.T) {
	rec := NewScheduleRecord("u-1", "acct-1", time.Now(), ContentDescriptor{})
	rec.JobGeneration = 11

	assert.Equal(t, JobID{RecordID: rec.ID, Generation: 11}, rec.JobID())
}

func TestScheduleRecord_MarkFired(t *testing.T) {
	rec := NewScheduleRecord("u-1", "acct-1", time.Now(), ContentDescriptor{})
	at := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.MarkFired(at))
	assert.Equal(t, RecordStatusFired, rec.Status)
	require.NotNil(t, rec.FiredAt)
	assert.Equal(t, at, *rec.FiredAt)

	assert.ErrorIs(t, rec.MarkFired(at), ErrInvalidTransition)
	assert.ErrorIs(t, rec.MarkCancelled(at), ErrInvalidTransition)
}

func TestScheduleRecord_MarkCancelled(t *testing.T) {
	rec := NewScheduleRecord("u-1", "acct-1", time.Now(), ContentDescriptor{})
	at := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, rec.MarkCancelled(at))
	assert.Equal(t, RecordStatusCancelled, rec.Status)
	require.NotNil(t, rec.CancelledAt)
	assert.Nil(t, rec.FiredAt)

	assert.ErrorIs(t, rec.MarkFired(at), ErrInvalidTransition)
}

func TestRecordStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to RecordStatus
		want     bool
	}{
		{RecordStatusPending, RecordStatusFired, true},
		{RecordStatusPending, RecordStatusCancelled, true},
		{RecordStatusPending, RecordStatusPending, false},
		{RecordStatusFired, RecordStatusCancelled, false},
		{RecordStatusFired, RecordStatusPending, false},
		{RecordStatusCancelled, RecordStatusFired, false},
		{RecordStatusCancelled, RecordStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestRecordStatus_Predicates(t *testing.T) {
	assert.False(t, RecordStatusPending.IsTerminal())
	assert.True(t, RecordStatusFired.IsTerminal())
	assert.True(t, RecordStatusCancelled.IsTerminal())

	assert.True(t, RecordStatusFired.IsValid())
	assert.False(t, RecordStatus("published").IsValid())
}

func TestJobState_IsLive(t *testing.T) {
	assert.True(t, JobStateDelayed.IsLive())
	assert.True(t, JobStateWaiting.IsLive())
	assert.True(t, JobStateActive.IsLive())
	assert.False(t, JobStateDead.IsLive())
}

func TestPostChannel_IsValid(t *testing.T) {
	for _, c := range []PostChannel{PostChannelPost, PostChannelStory, PostChannelReel} {
		assert.True(t, c.IsValid(), c)
	}
	assert.False(t, PostChannel("tv").IsValid())
	assert.False(t, PostChannel("").IsValid())
}

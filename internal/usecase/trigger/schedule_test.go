package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentsched/internal/domain"
)

func TestBuildCronNext(t *testing.T) {
	tr, err := Parse("cron:0 9 * * *", ref)
	require.NoError(t, err)
	sched, err := Build(tr, ref)
	require.NoError(t, err)

	// ref is 12:00 UTC, so the next 09:00 is tomorrow.
	next := sched.Next(ref)
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	assert.True(t, next.Equal(want), "got %v, want %v", next, want)
}

func TestBuildEveryMinuteCron(t *testing.T) {
	tr, err := Parse("cron:* * * * *", ref)
	require.NoError(t, err)
	sched, err := Build(tr, ref)
	require.NoError(t, err)

	next := sched.Next(ref)
	assert.Equal(t, time.Minute, next.Sub(ref))
}

func TestIntervalScheduleGrid(t *testing.T) {
	anchor := ref
	tr := domain.Trigger{Kind: domain.TriggerInterval, Every: 10 * time.Minute}
	sched, err := Build(tr, anchor)
	require.NoError(t, err)

	assert.Equal(t, anchor.Add(10*time.Minute), sched.Next(anchor))
	assert.Equal(t, anchor.Add(20*time.Minute), sched.Next(anchor.Add(10*time.Minute)))
	// A late wakeup skips missed grid points instead of bunching them.
	assert.Equal(t, anchor.Add(30*time.Minute), sched.Next(anchor.Add(25*time.Minute)))
	// Before the anchor, the first grid point is anchor+every.
	assert.Equal(t, anchor.Add(10*time.Minute), sched.Next(anchor.Add(-5*time.Minute)))
}

func TestIntervalScheduleNextIsPure(t *testing.T) {
	sched, err := Build(domain.Trigger{Kind: domain.TriggerInterval, Every: time.Hour}, ref)
	require.NoError(t, err)

	first := sched.Next(ref)
	second := sched.Next(ref)
	assert.True(t, first.Equal(second))
}

func TestOnceSchedule(t *testing.T) {
	at := ref.Add(time.Hour)
	sched, err := Build(domain.Trigger{Kind: domain.TriggerDate, At: at}, ref)
	require.NoError(t, err)

	assert.True(t, sched.Next(ref).Equal(at))
	assert.True(t, sched.Next(ref).Equal(at), "Next must be repeatable before the shot")
	assert.True(t, sched.Next(at).IsZero(), "at the instant itself the shot is spent")
	assert.True(t, sched.Next(at.Add(time.Second)).IsZero())
}

func TestBuildInvalid(t *testing.T) {
	_, err := Build(domain.Trigger{Kind: "nonsense"}, ref)
	require.Error(t, err)

	_, err = Build(domain.Trigger{Kind: domain.TriggerInterval, Every: 0}, ref)
	require.Error(t, err)

	_, err = Build(domain.Trigger{Kind: domain.TriggerCron, Cron: "bad"}, ref)
	require.Error(t, err)
}

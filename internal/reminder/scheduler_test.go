package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/incident-responder/internal/domain"
)

type fakeLister struct {
	incidents []*domain.Incident
}

func (f *fakeLister) ListOpenIncidents(_ context.Context) ([]*domain.Incident, error) {
	return f.incidents, nil
}

type fakePoster struct {
	posts []string
}

func (f *fakePoster) PostInChannel(_ context.Context, _ *domain.Incident, text string) error {
	f.posts = append(f.posts, text)
	return nil
}

type fakeClearer struct {
	cleared []string
}

func (f *fakeClearer) ClearStatusUpdateNext(_ context.Context, id string) (*domain.Incident, error) {
	f.cleared = append(f.cleared, id)
	return nil, nil
}

// workday returns a Wednesday midday timestamp plus an offset.
func workday(offset time.Duration) time.Time {
	return time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC).Add(offset)
}

func newTestScheduler(incidents []*domain.Incident, defs []Definition) (*Scheduler, *fakePoster, *MemoryStore) {
	poster := &fakePoster{}
	store := NewMemoryStore()
	sched := NewScheduler(&fakeLister{incidents: incidents}, poster, store, defs)
	return sched, poster, store
}

func TestScheduler_LeadReminderFires(t *testing.T) {
	inc := &domain.Incident{ID: "inc-1", Name: "x", StartTime: workday(-15 * time.Minute)}
	sched, poster, store := newTestScheduler([]*domain.Incident{inc}, Definitions(&fakeClearer{}, 8, 18))
	sched.now = func() time.Time { return workday(0) }

	require.NoError(t, sched.RunOnce(context.Background()))

	// lead and summary nudges are both due, close is not
	require.Len(t, poster.posts, 2)
	assert.Contains(t, poster.posts[0], "no lead")
	assert.Contains(t, poster.posts[1], "no summary")

	state, err := store.Get(context.Background(), "inc-1", ReminderLead)
	require.NoError(t, err)
	assert.Equal(t, 1, state.AttemptCount)
	require.NotNil(t, state.LastFiredAt)
}

func TestScheduler_SingleSuppressesRepeats(t *testing.T) {
	inc := &domain.Incident{ID: "inc-1", Name: "x", StartTime: workday(-time.Hour)}
	sched, poster, _ := newTestScheduler([]*domain.Incident{inc}, Definitions(&fakeClearer{}, 8, 18))

	now := workday(0)
	sched.now = func() time.Time { return now }

	require.NoError(t, sched.RunOnce(context.Background()))
	sent := len(poster.posts)

	// the interval passes but the message text is unchanged
	now = now.Add(11 * time.Minute)
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Equal(t, sent, len(poster.posts))
}

func TestScheduler_RespectsInterval(t *testing.T) {
	inc := &domain.Incident{ID: "inc-1", Name: "x", StartTime: workday(-5 * time.Minute)}
	sched, poster, _ := newTestScheduler([]*domain.Incident{inc}, Definitions(&fakeClearer{}, 8, 18))
	sched.now = func() time.Time { return workday(0) }

	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, poster.posts)
}

func TestScheduler_MaxAttempts(t *testing.T) {
	inc := &domain.Incident{ID: "inc-1", Name: "x", StartTime: workday(-time.Hour)}

	calls := 0
	def := Definition{
		Name:        "nudge",
		Interval:    time.Minute,
		MaxAttempts: 2,
		Message: func(context.Context, *domain.Incident) (string, error) {
			calls++
			return "nudge", nil
		},
	}

	sched, poster, _ := newTestScheduler([]*domain.Incident{inc}, []Definition{def})
	now := workday(0)
	sched.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		require.NoError(t, sched.RunOnce(context.Background()))
		now = now.Add(2 * time.Minute)
	}

	assert.Len(t, poster.posts, 2)
	assert.Equal(t, 2, calls)
}

func TestScheduler_CloseReminderWindow(t *testing.T) {
	inc := &domain.Incident{ID: "inc-1", Name: "x", StartTime: workday(-48 * time.Hour)}

	defs := []Definition{}
	for _, def := range Definitions(&fakeClearer{}, 8, 18) {
		if def.Name == ReminderClose {
			defs = append(defs, def)
		}
	}
	require.Len(t, defs, 1)

	sched, poster, _ := newTestScheduler([]*domain.Incident{inc}, defs)

	// Saturday: suppressed
	sched.now = func() time.Time { return time.Date(2025, 6, 7, 12, 0, 0, 0, time.UTC) }
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, poster.posts)

	// weekday outside working hours: suppressed
	sched.now = func() time.Time { return workday(10 * time.Hour) }
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Empty(t, poster.posts)

	// weekday midday: fires
	sched.now = func() time.Time { return workday(0) }
	require.NoError(t, sched.RunOnce(context.Background()))
	assert.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "close it")
}

func TestScheduler_ShareUpdateClearsInterval(t *testing.T) {
	next := domain.StatusUpdateIn5
	last := time.Now().Add(-10 * time.Minute)
	inc := &domain.Incident{
		ID:               "inc-1",
		Name:             "x",
		StartTime:        time.Now().Add(-time.Hour),
		StatusUpdateLast: &last,
		StatusUpdateNext: &next,
	}

	clearer := &fakeClearer{}
	defs := []Definition{}
	for _, def := range Definitions(clearer, 8, 18) {
		if def.Name == ReminderShareUpdate {
			defs = append(defs, def)
		}
	}

	sched, poster, _ := newTestScheduler([]*domain.Incident{inc}, defs)

	require.NoError(t, sched.RunOnce(context.Background()))
	require.Len(t, poster.posts, 1)
	assert.Contains(t, poster.posts[0], "status update is due")
	assert.Equal(t, []string{"inc-1"}, clearer.cleared)
}

func TestStatusUpdateDue(t *testing.T) {
	now := time.Date(2025, 6, 4, 12, 0, 0, 0, time.UTC)
	next := domain.StatusUpdateIn30

	inc := &domain.Incident{StartTime: now.Add(-time.Hour)}
	assert.False(t, statusUpdateDue(inc, now), "no interval promised")

	inc.StatusUpdateNext = &next
	assert.True(t, statusUpdateDue(inc, now), "measured from start when no update shared")

	recent := now.Add(-10 * time.Minute)
	inc.StatusUpdateLast = &recent
	assert.False(t, statusUpdateDue(inc, now))

	overdue := now.Add(-31 * time.Minute)
	inc.StatusUpdateLast = &overdue
	assert.True(t, statusUpdateDue(inc, now))
}

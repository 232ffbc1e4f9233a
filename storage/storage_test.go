package storage

import (
	"path/filepath"
	"testing"
	"time"

	"DetStreamServer/selection"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestSessionRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)

	require.NoError(t, s.RecordSession("sess-1", "10.0.0.5"))
	require.NoError(t, s.RecordSession("sess-2", "10.0.0.6"))

	sessions, err := s.ListSessions(10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{"sess-1", "sess-2"}, ids)
	for _, row := range sessions {
		if row.ID == "sess-1" {
			assert.Equal(t, "10.0.0.5", row.Client)
		}
		assert.Nil(t, row.ReleasedAt)
	}

	require.NoError(t, s.ReleaseSession("sess-1"))
	sessions, err = s.ListSessions(10)
	require.NoError(t, err)
	for _, row := range sessions {
		if row.ID == "sess-1" {
			assert.NotNil(t, row.ReleasedAt)
		}
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.RecordSession("sess-1", ""))

	id, err := s.RecordSelection("sess-1", selection.Rect{X: 10, Y: 20, W: 30, H: 40})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	_, err = s.RecordSelection("sess-1", selection.Rect{X: 1, Y: 2, W: 3, H: 4})
	require.NoError(t, err)

	rows, err := s.ListSelections(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// newest first
	assert.Equal(t, selection.Rect{X: 1, Y: 2, W: 3, H: 4}, rows[0].Rect)
	assert.Equal(t, selection.Rect{X: 10, Y: 20, W: 30, H: 40}, rows[1].Rect)
	assert.Equal(t, "sess-1", rows[0].SessionID)
	assert.False(t, rows[0].CreatedAt.IsZero())
}

func TestEventRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.RecordSession("sess-1", ""))

	require.NoError(t, s.RecordEvent("sess-1", "person", 0.92, 14.5))
	require.NoError(t, s.RecordEvent("sess-1", "car", 0.55, 13.1))

	rows, err := s.ListEvents(10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "car", rows[0].Class)
	assert.InDelta(t, 0.55, rows[0].Conf, 1e-6)
	assert.InDelta(t, 13.1, rows[0].InferMs, 1e-6)
}

func TestPrune(t *testing.T) {
	s, _ := openTestStore(t)
	require.NoError(t, s.RecordSession("sess-1", ""))
	require.NoError(t, s.ReleaseSession("sess-1"))
	_, err := s.RecordSelection("sess-1", selection.Rect{X: 1, Y: 1, W: 1, H: 1})
	require.NoError(t, err)
	require.NoError(t, s.RecordEvent("sess-1", "person", 0.9, 10))

	// a cutoff in the past removes nothing
	n, err := s.Prune(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// a cutoff in the future removes every released row
	n, err = s.Prune(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := s.ListSelections(10)
	require.NoError(t, err)
	assert.Empty(t, rows)
	events, err := s.ListEvents(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReopenRunsMigrationsTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.RecordSession("sess-1", ""))
	require.NoError(t, s.Close())

	// the ALTER TABLE migration must tolerate the existing column
	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	sessions, err := s.ListSessions(10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestJanitorValidation(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := StartJanitor(s, "not a cron spec", time.Hour)
	assert.Error(t, err)

	_, err = StartJanitor(s, "0 3 * * *", 0)
	assert.Error(t, err)

	j, err := StartJanitor(s, "0 3 * * *", 24*time.Hour)
	require.NoError(t, err)
	j.Stop()
}

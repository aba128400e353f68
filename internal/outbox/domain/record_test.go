package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPending(t *testing.T, maxRetry int) *OutboxRecord {
	t.Helper()
	rec, err := NewOutboxRecord(uuid.NewString(), "user.registered", "user", "r-1", []byte(`{}`), maxRetry, time.Now())
	require.NoError(t, err)
	return rec
}

func TestStatus_CanTransitionTo(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusPublished, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusPending, false},
		{StatusPublished, StatusPending, false},
		{StatusPublished, StatusFailed, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusPublished, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, c.from.CanTransitionTo(c.to), "%s -> %s", c.from, c.to)
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.True(t, StatusPublished.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("published")
	require.NoError(t, err)
	assert.Equal(t, StatusPublished, s)

	_, err = ParseStatus("CLAIMED")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestNewOutboxRecord_Defaults(t *testing.T) {
	rec := newPending(t, 0)
	assert.Equal(t, StatusPending, rec.Status)
	assert.Equal(t, DefaultMaxRetry, rec.MaxRetry)
	assert.Zero(t, rec.RetryCount)
	assert.Nil(t, rec.ErrorMessage)

	_, err := NewOutboxRecord("", "t", "topic", "k", []byte(`{}`), 3, time.Now())
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestMarkPublished_ClearsError(t *testing.T) {
	rec := newPending(t, 3)
	require.NoError(t, rec.RegisterFailure("broker down", time.Now()))
	require.NotNil(t, rec.ErrorMessage)

	require.NoError(t, rec.MarkPublished(time.Now()))
	assert.Equal(t, StatusPublished, rec.Status)
	assert.NotNil(t, rec.PublishedAt)
	assert.Nil(t, rec.ErrorMessage)

	// No hay salida de PUBLISHED.
	assert.ErrorIs(t, rec.MarkPublished(time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, rec.RegisterFailure("x", time.Now()), ErrInvalidTransition)
	assert.ErrorIs(t, rec.MarkFailed("x", time.Now()), ErrInvalidTransition)
}

func TestRegisterFailure_BoundedRetry(t *testing.T) {
	rec := newPending(t, 3)

	require.NoError(t, rec.RegisterFailure("e1", time.Now()))
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, rec.RegisterFailure("e2", time.Now()))
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, rec.RegisterFailure("e3", time.Now()))
	assert.Equal(t, 3, rec.RetryCount)
	assert.Equal(t, StatusFailed, rec.Status)
	require.NotNil(t, rec.ErrorMessage)
	assert.Equal(t, "e3", *rec.ErrorMessage)
	assert.NotNil(t, rec.LastRetryAt)

	assert.ErrorIs(t, rec.RegisterFailure("e4", time.Now()), ErrInvalidTransition)
	assert.LessOrEqual(t, rec.RetryCount, rec.MaxRetry)
}

func TestMarkFailed_KeepsRetryCount(t *testing.T) {
	rec := newPending(t, 3)
	require.NoError(t, rec.MarkFailed("message too large", time.Now()))
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Zero(t, rec.RetryCount)
}

func TestClaimExpired(t *testing.T) {
	rec := newPending(t, 3)
	now := time.Now()
	assert.True(t, rec.ClaimExpired(now))

	until := now.Add(time.Second)
	rec.ClaimedUntil = &until
	assert.False(t, rec.ClaimExpired(now))
	assert.True(t, rec.ClaimExpired(now.Add(2*time.Second)))
}

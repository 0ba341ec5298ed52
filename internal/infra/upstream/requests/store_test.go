package requests

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/sonolive/internal/domain/discovery"
	"github.com/ahrav/sonolive/pkg/common/logger"
	"github.com/ahrav/sonolive/pkg/common/timeutil"
)

func TestSubmit(t *testing.T) {
	t.Parallel()
	clock := timeutil.NewMock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	s := NewStore(clock, logger.Noop())
	ctx := context.Background()

	status, err := s.Submit(ctx, "u1", "Björk")
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusRequested, status)

	status, err = s.Submit(ctx, "u1", "bjork")
	require.Error(t, err)
	assert.Equal(t, discovery.StatusRequested, status)
	assert.Equal(t, discovery.StatusRequested, discovery.StatusForActionError(err))
	assert.Contains(t, err.Error(), "Request Already Exists: You have already requested 'bjork'.")

	clock.Advance(time.Minute)
	_, err = s.Submit(ctx, "u2", "Björk")
	require.NoError(t, err, "requests are per user")

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "u1", pending[0].UserID)
	assert.Equal(t, "Björk", pending[0].ArtistName)
	assert.Equal(t, StatusPending, pending[0].Status)
	assert.Equal(t, "u2", pending[1].UserID)
}

func TestSubmit_Validation(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logger.Noop())

	_, err := s.Submit(context.Background(), "", "Air")
	assert.ErrorIs(t, err, discovery.ErrValidation)

	_, err = s.Submit(context.Background(), "u1", "  ")
	assert.ErrorIs(t, err, discovery.ErrValidation)
}

func TestResolve(t *testing.T) {
	t.Parallel()
	s := NewStore(nil, logger.Noop())
	_, err := s.Submit(context.Background(), "u1", "Air")
	require.NoError(t, err)

	assert.True(t, s.Resolve("u1", "AIR", StatusApproved))
	assert.False(t, s.Resolve("u2", "Air", StatusApproved))
	assert.Empty(t, s.Pending())

	_, err = s.Submit(context.Background(), "u1", "Air")
	assert.Error(t, err, "a resolved request still blocks a duplicate")
}

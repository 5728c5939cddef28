package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/driver-dispatch/internal/models"
)

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, *models.Driver, models.OfferNotification) error {
	c.calls++
	return c.err
}

func TestFallbackUsesSecondaryOnlyOnFailure(t *testing.T) {
	primary := &countingNotifier{}
	secondary := &countingNotifier{}
	f := &Fallback{Primary: primary, Secondary: secondary}

	require.NoError(t, f.Notify(context.Background(), &models.Driver{ID: "d1"}, sampleOffer()))
	assert.Equal(t, 0, secondary.calls)

	primary.err = ErrNoSession
	require.NoError(t, f.Notify(context.Background(), &models.Driver{ID: "d1"}, sampleOffer()))
	assert.Equal(t, 1, secondary.calls)
}

func TestFallbackJoinsErrors(t *testing.T) {
	pushErr := errors.New("push down")
	f := &Fallback{Primary: &countingNotifier{err: ErrNoSession}, Secondary: &countingNotifier{err: pushErr}}

	err := f.Notify(context.Background(), &models.Driver{ID: "d1"}, sampleOffer())
	assert.ErrorIs(t, err, ErrNoSession)
	assert.ErrorIs(t, err, pushErr)
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{Logger: discard}
	assert.NoError(t, n.Notify(context.Background(), &models.Driver{ID: "d1"}, sampleOffer()))
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lan-registration-platform/internal/models"
)

func TestJanitor_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	fulfiller := &MockFulfiller{}
	machine := f.newMachine(fulfiller)

	stuck := f.seedCart("stuck", models.StatePendingCreation, 2000, ticketLine(f.owner.ID))
	fresh := f.seedCart("fresh", models.StatePendingCreation, 2000, ticketLine(f.teammate.ID))
	old := f.seedCart("old", models.StatePending, 1000, ticketLine(f.coach.ID))
	paid := f.seedCart("paid", models.StatePaid, 1000, ticketLine(f.spectator.ID))

	f.db.mu.Lock()
	f.db.carts[stuck.ID].CreatedAt = f.now.Add(-10 * time.Minute)
	f.db.carts[fresh.ID].CreatedAt = f.now.Add(-time.Minute)
	f.db.carts[old.ID].CreatedAt = f.now.Add(-48 * time.Hour)
	f.db.carts[paid.ID].CreatedAt = f.now.Add(-48 * time.Hour)
	f.db.mu.Unlock()

	f.gateway.On("Cancel", mock.Anything, "pi_old").Return(nil).Once()

	janitor := NewJanitor(f.carts, machine, 5*time.Minute, 24*time.Hour)
	janitor.now = func() time.Time { return f.now }

	report, err := janitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Errored: 1, Expired: 1}, report)

	assert.Equal(t, models.StateErrored, f.db.cart("stuck").TransactionState)
	assert.Equal(t, models.StatePendingCreation, f.db.cart("fresh").TransactionState)
	assert.Equal(t, models.StateExpired, f.db.cart("old").TransactionState)
	assert.Equal(t, models.StatePaid, f.db.cart("paid").TransactionState)

	expired := f.db.transitionsOf("old")
	require.Len(t, expired, 1)
	assert.Equal(t, models.SourceJanitor, expired[0].Source)
	assert.Equal(t, ExpiryEventID("old"), *expired[0].EventID)

	// a second pass finds nothing left to do
	report, err = janitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{}, report)
	assert.Empty(t, fulfiller.paid)
	f.gateway.AssertExpectations(t)
}

func TestJanitor_ExpiredCartIsCanceledAtProvider(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	fulfiller := &MockFulfiller{}
	machine := f.newMachine(fulfiller)
	f.seedCart("slow", models.StatePending, 2000, ticketLine(f.owner.ID))
	f.db.mu.Lock()
	f.db.carts["slow"].CreatedAt = f.now.Add(-25 * time.Hour)
	f.db.mu.Unlock()
	f.gateway.On("Cancel", mock.Anything, "pi_slow").Return(nil)

	janitor := NewJanitor(f.carts, machine, 5*time.Minute, 24*time.Hour)
	janitor.now = func() time.Time { return f.now }

	report, err := janitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	f.gateway.AssertCalled(t, "Cancel", mock.Anything, "pi_slow")

	// the provider voided the intent before the cart expired, so a late
	// success cannot reopen it
	outcome, err := machine.HandleEvent(ctx, succeeded("evt_pay", "pi_slow", 2000))
	require.NoError(t, err)
	assert.Equal(t, ResultConflict, outcome.Result)
	assert.Equal(t, models.StateExpired, f.db.cart("slow").TransactionState)
	assert.Zero(t, fulfiller.paidCount())
}

func TestJanitor_PaidAfterRefusedCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	fulfiller := &MockFulfiller{}
	machine := f.newMachine(fulfiller)
	f.seedCart("slow", models.StatePending, 2000, ticketLine(f.owner.ID))
	f.db.mu.Lock()
	f.db.carts["slow"].CreatedAt = f.now.Add(-25 * time.Hour)
	f.db.mu.Unlock()
	f.gateway.On("Cancel", mock.Anything, "pi_slow").Return(errors.New("intent already succeeded"))

	janitor := NewJanitor(f.carts, machine, 5*time.Minute, 24*time.Hour)
	janitor.now = func() time.Time { return f.now }

	report, err := janitor.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Failed: 1}, report)
	assert.Equal(t, models.StatePending, f.db.cart("slow").TransactionState)

	outcome, err := machine.HandleEvent(ctx, succeeded("evt_pay", "pi_slow", 2000))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, outcome.Result)
	assert.Equal(t, 1, fulfiller.paidCount())
}

func TestJanitor_SkipsProvidersWithoutCancel(t *testing.T) {
	f := newFixture()
	machine := f.newMachine(&MockFulfiller{})
	f.seedCart("old", models.StatePending, 1000, ticketLine(f.coach.ID))
	f.gateway.On("Cancel", mock.Anything, "pi_old").Return(ErrCancelUnsupported)

	janitor := NewJanitor(f.carts, machine, 5*time.Minute, time.Minute)
	janitor.now = func() time.Time { return f.now }

	report, err := janitor.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepReport{Skipped: 1}, report)
	assert.Equal(t, models.StatePending, f.db.cart("old").TransactionState)
}

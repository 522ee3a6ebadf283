package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lan-registration-platform/internal/models"
)

// SweepReport counts what a janitor pass did
type SweepReport struct {
	Errored int
	Expired int
	// Skipped counts pending carts whose provider cannot cancel them
	Skipped int
	Failed  int
}

// Janitor settles carts whose payment outcome never arrived. Carts stuck
// in pending-creation crashed between commit and the gateway call and are
// errored. Carts pending for too long are canceled at their provider and
// then expired.
type Janitor struct {
	carts                  CartStore
	machine                *TransactionStateMachine
	pendingCreationTimeout time.Duration
	pendingTimeout         time.Duration
	now                    func() time.Time
}

// NewJanitor creates a new janitor
func NewJanitor(carts CartStore, machine *TransactionStateMachine, pendingCreationTimeout, pendingTimeout time.Duration) *Janitor {
	return &Janitor{
		carts:                  carts,
		machine:                machine,
		pendingCreationTimeout: pendingCreationTimeout,
		pendingTimeout:         pendingTimeout,
		now:                    time.Now,
	}
}

// ExpiryEventID is the event id recorded when the janitor expires a cart
func ExpiryEventID(cartID string) string {
	return fmt.Sprintf("%s:%s", ProviderJanitor, cartID)
}

// Sweep runs one pass. A failure on one cart does not stop the pass.
func (j *Janitor) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{}
	now := j.now()

	stuck, err := j.carts.ListStale(ctx, models.StatePendingCreation, now.Add(-j.pendingCreationTimeout))
	if err != nil {
		return nil, fmt.Errorf("failed to list stale carts: %w", err)
	}
	for _, cart := range stuck {
		changed, err := j.machine.FailCreation(ctx, cart.ID, "no transaction attached before timeout")
		switch {
		case err != nil:
			log.Printf("Janitor: failed to error cart %s: %v", cart.ID, err)
			report.Failed++
		case changed:
			report.Errored++
		}
	}

	if j.pendingTimeout > 0 {
		pending, err := j.carts.ListStale(ctx, models.StatePending, now.Add(-j.pendingTimeout))
		if err != nil {
			return report, fmt.Errorf("failed to list stale carts: %w", err)
		}
		for _, cart := range pending {
			changed, err := j.machine.Expire(ctx, cart.ID)
			switch {
			case errors.Is(err, ErrCancelUnsupported):
				report.Skipped++
			case err != nil:
				log.Printf("Janitor: failed to expire cart %s: %v", cart.ID, err)
				report.Failed++
			case changed:
				report.Expired++
			}
		}
	}

	if report.Errored+report.Expired+report.Failed+report.Skipped > 0 {
		log.Printf("Janitor: %d errored, %d expired, %d failed, %d skipped",
			report.Errored, report.Expired, report.Failed, report.Skipped)
	}
	return report, nil
}

// Run sweeps every interval until ctx is canceled
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				log.Printf("Janitor: %v", err)
			}
		}
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/repositories"
)

// EventResult tells what a payment event did to its cart
type EventResult string

const (
	ResultApplied   EventResult = "applied"
	ResultDuplicate EventResult = "duplicate"
	ResultIgnored   EventResult = "ignored"
	ResultConflict  EventResult = "conflict"
	// ResultMismatch means the received amount differed and the cart errored
	ResultMismatch EventResult = "amount_mismatch"
)

// Decision is the outcome of an event against a cart state
type Decision struct {
	Result EventResult
	To     models.TransactionState
	Reason string
}

// Changes reports whether the decision moves the cart
func (d Decision) Changes() bool {
	return d.Result == ResultApplied || d.Result == ResultMismatch
}

// Decide applies an event to a cart without side effects. fresh is false
// when the event id was already recorded. Terminal state conflicts are
// resolved before the amount is looked at.
func Decide(cart *models.Cart, event *models.WebhookEvent, fresh bool) Decision {
	if !fresh {
		return Decision{Result: ResultDuplicate}
	}

	current := cart.TransactionState
	target := event.Kind.TargetState()
	if target == "" {
		return Decision{Result: ResultIgnored, Reason: fmt.Sprintf("unknown event kind %q", event.Kind)}
	}

	if current.IsTerminal() {
		switch {
		case target == current:
			return Decision{Result: ResultDuplicate}
		case target.IsTerminal():
			return Decision{Result: ResultConflict, Reason: fmt.Sprintf("cart is %s, event asks for %s", current, target)}
		default:
			return Decision{Result: ResultIgnored, Reason: fmt.Sprintf("cart is already %s", current)}
		}
	}

	if event.Kind == models.EventSucceeded && event.Amount != nil && *event.Amount != cart.TotalPrice &&
		current.CanTransitionTo(models.StateErrored) {
		return Decision{
			Result: ResultMismatch,
			To:     models.StateErrored,
			Reason: fmt.Sprintf("received %d, expected %d", *event.Amount, cart.TotalPrice),
		}
	}

	if !current.CanTransitionTo(target) {
		return Decision{Result: ResultIgnored, Reason: fmt.Sprintf("%s cannot move to %s", current, target)}
	}
	return Decision{Result: ResultApplied, To: target}
}

// Outcome is what HandleEvent reports back to the webhook caller
type Outcome struct {
	CartID string
	Result EventResult
	From   models.TransactionState
	To     models.TransactionState
}

// TransactionStateMachine advances carts from verified payment events and
// administrative overrides. Every change happens under the cart row lock,
// together with the event record and the audit row.
type TransactionStateMachine struct {
	carts        CartStore
	users        UserStore
	gateways     *GatewaySet
	fulfillment  Fulfiller
	reservations ReservationCounter
	publisher    EventPublisher
	metrics      *metrics.CartMetrics
	now          func() time.Time
}

// NewTransactionStateMachine creates a new state machine
func NewTransactionStateMachine(
	carts CartStore,
	users UserStore,
	gateways *GatewaySet,
	fulfillment Fulfiller,
	reservations ReservationCounter,
	publisher EventPublisher,
	m *metrics.CartMetrics,
) *TransactionStateMachine {
	return &TransactionStateMachine{
		carts:        carts,
		users:        users,
		gateways:     gateways,
		fulfillment:  fulfillment,
		reservations: reservations,
		publisher:    publisher,
		metrics:      m,
		now:          time.Now,
	}
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func snapshot(cart *models.Cart) *models.Cart {
	c := *cart
	c.Lines = append([]models.CartLine(nil), cart.Lines...)
	return &c
}

// HandleEvent applies a verified event. Unknown transactions return
// ErrCartNotFound; every other outcome is reported in the Outcome.
func (m *TransactionStateMachine) HandleEvent(ctx context.Context, event *models.WebhookEvent) (*Outcome, error) {
	source := models.SourceWebhook
	outcome := &Outcome{}
	var changed *models.Cart

	err := m.carts.LockByTransaction(ctx, event.TransactionID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		outcome.CartID = cart.ID
		outcome.From = cart.TransactionState

		fresh, err := tx.RecordEvent(ctx, event.Provider, event.EventID)
		if err != nil {
			return err
		}

		decision := Decide(cart, event, fresh)
		outcome.Result = decision.Result
		outcome.To = cart.TransactionState
		if !decision.Changes() {
			if decision.Reason != "" {
				log.Printf("State machine: %s event %s on cart %s %s: %s", event.Provider, event.EventID, cart.ID, decision.Result, decision.Reason)
			}
			return nil
		}

		if err := tx.SetState(ctx, decision.To, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: outcome.From,
			ToState:   decision.To,
			Source:    source,
			Provider:  stringPtr(event.Provider),
			EventID:   stringPtr(event.EventID),
			Reason:    stringPtr(decision.Reason),
		}); err != nil {
			return err
		}

		outcome.To = decision.To
		changed = snapshot(cart)
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrCartNotFound) {
			m.metrics.WebhookEvents.WithLabelValues(event.Provider, "not_found").Inc()
		}
		return nil, err
	}

	m.metrics.WebhookEvents.WithLabelValues(event.Provider, string(outcome.Result)).Inc()
	if changed != nil {
		m.afterTransition(ctx, changed, outcome.From, source)
	}
	return outcome, nil
}

// ForcePay marks a cart paid on behalf of an administrator and runs the
// paid fulfillment once. Paid and refunded carts are refused.
func (m *TransactionStateMachine) ForcePay(ctx context.Context, cartID, actor, reason string) (*models.Cart, error) {
	var from models.TransactionState
	var changed *models.Cart

	err := m.carts.LockByID(ctx, cartID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		from = cart.TransactionState
		switch from {
		case models.StatePaid:
			return models.ErrCartAlreadyPaid
		case models.StateRefunded:
			return models.ErrInvalidTransition.WithDetail("cart %s was refunded", cartID)
		}

		if err := tx.SetState(ctx, models.StatePaid, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: from,
			ToState:   models.StatePaid,
			Source:    models.SourceAdmin,
			Actor:     stringPtr(actor),
			Reason:    stringPtr(reason),
		}); err != nil {
			return err
		}
		changed = snapshot(cart)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("State machine: cart %s force-paid by %s (was %s)", cartID, actor, from)
	m.afterTransition(ctx, changed, from, models.SourceAdmin)
	return changed, nil
}

// Refund refunds a paid cart with its provider and marks it refunded. The
// provider call happens under the lock so a failed refund changes nothing.
func (m *TransactionStateMachine) Refund(ctx context.Context, cartID, actor, reason string) (*models.Cart, error) {
	var changed *models.Cart

	err := m.carts.LockByID(ctx, cartID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		if cart.TransactionState != models.StatePaid {
			return models.ErrInvalidTransition.WithDetail("cart %s is %s", cartID, cart.TransactionState)
		}

		if cart.HasTransaction() && cart.TotalPrice > 0 {
			gateway, ok := m.gateways.Get(cart.TransactionProvider)
			if !ok {
				return fmt.Errorf("%w: provider %s is not configured", models.ErrGatewayFailure, cart.TransactionProvider)
			}
			start := time.Now()
			err := gateway.Refund(ctx, *cart.TransactionID, cart.TotalPrice)
			m.metrics.ObserveGateway(gateway.Name(), "refund", start)
			if err != nil {
				return fmt.Errorf("%w: %v", models.ErrGatewayFailure, err)
			}
		}

		if err := tx.SetState(ctx, models.StateRefunded, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: models.StatePaid,
			ToState:   models.StateRefunded,
			Source:    models.SourceAdmin,
			Actor:     stringPtr(actor),
			Reason:    stringPtr(reason),
		}); err != nil {
			return err
		}
		changed = snapshot(cart)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("State machine: cart %s refunded by %s", cartID, actor)
	m.afterTransition(ctx, changed, models.StatePaid, models.SourceAdmin)
	return changed, nil
}

// FailCreation moves a cart stuck before its gateway call to errored and
// releases the attendant it registered. It returns false when the cart had
// already moved on.
func (m *TransactionStateMachine) FailCreation(ctx context.Context, cartID, reason string) (bool, error) {
	var changed *models.Cart

	err := m.carts.LockByID(ctx, cartID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		if cart.TransactionState != models.StatePendingCreation {
			return nil
		}
		if err := tx.SetState(ctx, models.StateErrored, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: models.StatePendingCreation,
			ToState:   models.StateErrored,
			Source:    models.SourceJanitor,
			Reason:    stringPtr(reason),
		}); err != nil {
			return err
		}
		changed = snapshot(cart)
		return nil
	})
	if err != nil || changed == nil {
		return false, err
	}

	m.releaseAttendant(ctx, changed)
	m.afterTransition(ctx, changed, models.StatePendingCreation, models.SourceJanitor)
	return true, nil
}

// releaseAttendant frees the minor of a cart that will never be paid so a
// new attendant can be registered
func (m *TransactionStateMachine) releaseAttendant(ctx context.Context, cart *models.Cart) {
	attendantID := cart.AttendantID()
	if attendantID == "" {
		return
	}
	if err := m.users.DeleteAttendant(ctx, cart.UserID, attendantID); err != nil {
		log.Printf("State machine: failed to release attendant %s of cart %s: %v", attendantID, cart.ID, err)
	}
}

// Expire cancels the provider transaction of a cart left pending and marks
// it expired. The cart only moves when the provider confirmed the
// cancellation, so a payment can never land on an expired cart. It returns
// false when the cart was no longer pending.
func (m *TransactionStateMachine) Expire(ctx context.Context, cartID string) (bool, error) {
	var changed *models.Cart

	err := m.carts.LockByID(ctx, cartID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		if cart.TransactionState != models.StatePending || !cart.HasTransaction() {
			return nil
		}

		gateway, ok := m.gateways.Get(cart.TransactionProvider)
		if !ok {
			return fmt.Errorf("%w: provider %s is not configured", models.ErrGatewayFailure, cart.TransactionProvider)
		}
		start := time.Now()
		err := gateway.Cancel(ctx, *cart.TransactionID)
		m.metrics.ObserveGateway(gateway.Name(), "cancel", start)
		if err != nil {
			return err
		}

		eventID := ExpiryEventID(cart.ID)
		fresh, err := tx.RecordEvent(ctx, ProviderJanitor, eventID)
		if err != nil || !fresh {
			return err
		}
		if err := tx.SetState(ctx, models.StateExpired, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: models.StatePending,
			ToState:   models.StateExpired,
			Source:    models.SourceJanitor,
			Provider:  stringPtr(ProviderJanitor),
			EventID:   stringPtr(eventID),
			Reason:    stringPtr("payment not completed before timeout"),
		}); err != nil {
			return err
		}
		changed = snapshot(cart)
		return nil
	})
	if err != nil || changed == nil {
		return false, err
	}

	m.afterTransition(ctx, changed, models.StatePending, models.SourceJanitor)
	return true, nil
}

// SettleFree marks a freshly committed zero-total cart paid without a
// provider. Fulfillment runs once, like for any other payment.
func (m *TransactionStateMachine) SettleFree(ctx context.Context, cartID string) (*models.Cart, error) {
	var changed *models.Cart

	err := m.carts.LockByID(ctx, cartID, func(tx repositories.CartTx) error {
		cart := tx.Cart()
		if cart.TransactionState != models.StatePendingCreation {
			return models.ErrInvalidTransition.WithDetail("cart %s is %s", cartID, cart.TransactionState)
		}
		if cart.TotalPrice != 0 {
			return models.ErrInvalidTransition.WithDetail("cart %s has a total of %d", cartID, cart.TotalPrice)
		}
		if err := tx.SetState(ctx, models.StatePaid, m.now()); err != nil {
			return err
		}
		if err := tx.LogTransition(ctx, &models.CartTransition{
			CartID:    cart.ID,
			FromState: models.StatePendingCreation,
			ToState:   models.StatePaid,
			Source:    models.SourceAssembler,
			Provider:  stringPtr(ProviderFree),
			Reason:    stringPtr("zero total"),
		}); err != nil {
			return err
		}
		changed = snapshot(cart)
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("State machine: cart %s settled without payment", cartID)
	m.afterTransition(ctx, changed, models.StatePendingCreation, models.SourceAssembler)
	return changed, nil
}

// afterTransition runs once per performed transition, after commit.
// Fulfillment errors are logged and never change the cart state.
func (m *TransactionStateMachine) afterTransition(ctx context.Context, cart *models.Cart, from models.TransactionState, source models.TransitionSource) {
	m.metrics.Transitions.WithLabelValues(string(from), string(cart.TransactionState), string(source)).Inc()

	if !cart.TransactionState.IsReserving() {
		m.reservations.Invalidate(ctx, cart.ItemIDs())
	}

	if err := m.publisher.Publish(ctx, &CartEvent{
		CartID:     cart.ID,
		UserID:     cart.UserID,
		From:       from,
		To:         cart.TransactionState,
		Source:     source,
		TotalPrice: cart.TotalPrice,
		At:         m.now(),
	}); err != nil {
		log.Printf("State machine: failed to publish event for cart %s: %v", cart.ID, err)
	}

	var err error
	switch cart.TransactionState {
	case models.StatePaid:
		err = m.fulfillment.OnPaid(ctx, cart)
	case models.StateCanceled:
		err = m.fulfillment.OnCanceled(ctx, cart)
	case models.StateRefunded:
		err = m.fulfillment.OnRefunded(ctx, cart)
	}
	if err != nil {
		log.Printf("State machine: fulfillment of cart %s (%s) failed: %v", cart.ID, cart.TransactionState, err)
	}
}

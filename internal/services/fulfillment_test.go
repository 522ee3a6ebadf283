package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lan-registration-platform/internal/models"
)

type fulfillmentFixture struct {
	*fixture
	mailer     *MockMailer
	dir        string
	dispatcher *FulfillmentDispatcher
}

func newFulfillmentFixture(t *testing.T, archive bool) *fulfillmentFixture {
	f := newFixture()
	ff := &fulfillmentFixture{fixture: f, mailer: &MockMailer{}, dir: t.TempDir()}

	var storage StorageService
	if archive {
		storage = NewFallbackStorageService(ff.dir, "http://localhost/tickets")
	}
	ff.dispatcher = NewFulfillmentDispatcher(f.carts, f.users, f.items, NewPDFService(), storage, ff.mailer, f.metrics, "UTT Arena", "eur")
	return ff
}

func TestFulfillmentDispatcher_OnPaid(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, true)
	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)

	cart := ff.seedCart("c1", models.StatePaid, 3800,
		models.CartLine{ID: "l1", ItemID: models.ItemTicketPlayer, ForUserID: ff.owner.ID, Quantity: 1, Price: 2000, ReducedPrice: intPtr(1500), Reduced: true, IsTicket: true},
		models.CartLine{ID: "l2", ItemID: models.ItemTicketPlayer, ForUserID: ff.teammate.ID, Quantity: 1, Price: 2000, IsTicket: true},
		models.CartLine{ID: "l3", ItemID: "ethernet-7", ForUserID: ff.owner.ID, Quantity: 1, Price: 500},
	)

	require.NoError(t, ff.dispatcher.OnPaid(ctx, cart))

	sent := ff.mailer.Sent()
	require.Len(t, sent, 1)
	mail := sent[0]
	assert.Equal(t, "alice@utt.fr", mail.To)
	assert.Equal(t, "[UTT Arena] Payment confirmed", mail.Subject)
	assert.Equal(t, "order_confirmation", mail.Category)
	assert.Contains(t, mail.Text, "38.00 EUR")
	assert.Contains(t, mail.HTML, "Bob Durand")

	require.Len(t, mail.Attachments, 2)
	assert.Equal(t, "ticket-1-alice-martin.pdf", mail.Attachments[0].Filename)
	assert.Equal(t, "ticket-2-bob-durand.pdf", mail.Attachments[1].Filename)
	for _, a := range mail.Attachments {
		assert.Equal(t, "application/pdf", a.ContentType)
		assert.True(t, bytes.HasPrefix(a.Content, []byte("%PDF-")))
	}

	for _, line := range []string{"l1", "l2"} {
		_, err := os.Stat(filepath.Join(ff.dir, "tickets", "c1", line+".pdf"))
		assert.NoError(t, err, line)
	}
	_, err := os.Stat(filepath.Join(ff.dir, "tickets", "c1", "l3.pdf"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.Fulfillments.WithLabelValues("tickets", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.Fulfillments.WithLabelValues("archive", "ok")))
}

func TestFulfillmentDispatcher_HTMLIsEscaped(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, false)
	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)
	ff.db.users[ff.owner.ID].Firstname = "<script>"

	cart := ff.seedCart("c1", models.StatePaid, 1500, ticketLine(ff.owner.ID))
	require.NoError(t, ff.dispatcher.OnPaid(ctx, cart))

	mail := ff.mailer.Sent()[0]
	assert.NotContains(t, mail.HTML, "<script>")
	assert.Contains(t, mail.HTML, "&lt;script&gt;")
	assert.Contains(t, mail.HTML, "<li>&lt;script&gt; Martin</li>")

	require.NoError(t, ff.dispatcher.OnCanceled(ctx, cart))
	notice := ff.mailer.Sent()[1]
	assert.Contains(t, notice.HTML, "<p>Hello &lt;script&gt;,</p>")
}

func TestFulfillmentDispatcher_MailFailure(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, false)
	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("resend: 500"))

	cart := ff.seedCart("c1", models.StatePaid, 2000, ticketLine(ff.owner.ID))
	err := ff.dispatcher.OnPaid(ctx, cart)

	assert.Error(t, err)
	assert.Equal(t, models.StatePaid, ff.db.cart("c1").TransactionState)
	assert.Equal(t, 1.0, testutil.ToFloat64(ff.metrics.Fulfillments.WithLabelValues("tickets", "failed")))
}

func TestFulfillmentDispatcher_OwnerWithoutEmail(t *testing.T) {
	ff := newFulfillmentFixture(t, false)
	ff.db.users[ff.owner.ID].Email = nil

	cart := ff.seedCart("c1", models.StatePaid, 2000, ticketLine(ff.owner.ID))
	err := ff.dispatcher.OnPaid(context.Background(), cart)

	assert.ErrorContains(t, err, "has no email")
	ff.mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestFulfillmentDispatcher_Notices(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, false)
	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)
	cart := ff.seedCart("c1", models.StateCanceled, 2000, ticketLine(ff.owner.ID))

	require.NoError(t, ff.dispatcher.OnCanceled(ctx, cart))
	require.NoError(t, ff.dispatcher.OnRefunded(ctx, cart))

	sent := ff.mailer.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "payment_canceled", sent[0].Category)
	assert.Equal(t, "[UTT Arena] Payment canceled", sent[0].Subject)
	assert.Equal(t, "refund", sent[1].Category)
	assert.Contains(t, sent[1].Text, "20.00 EUR")
	for _, mail := range sent {
		assert.Empty(t, mail.Attachments)
	}
}

func TestFulfillmentDispatcher_Resend(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, false)
	ff.seedCart("paid", models.StatePaid, 2000, ticketLine(ff.owner.ID))
	ff.seedCart("pending", models.StatePending, 2000, ticketLine(ff.teammate.ID))

	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, ff.dispatcher.Resend(ctx, "paid"))
	assert.Len(t, ff.mailer.Sent(), 1)

	assert.ErrorIs(t, ff.dispatcher.Resend(ctx, "pending"), models.ErrInvalidTransition)
	assert.ErrorIs(t, ff.dispatcher.Resend(ctx, "missing"), models.ErrCartNotFound)

	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(errors.New("down"))
	assert.ErrorIs(t, ff.dispatcher.Resend(ctx, "paid"), models.ErrFulfillmentFailed)
}

func TestStateMachine_WithDispatcherSendsTicketsOnce(t *testing.T) {
	ctx := context.Background()
	ff := newFulfillmentFixture(t, false)
	ff.mailer.On("Send", mock.Anything, mock.Anything).Return(nil)
	machine := ff.newMachine(ff.dispatcher)
	ff.seedCart("c1", models.StatePending, 2000, ticketLine(ff.teammate.ID))

	for _, id := range []string{"evt_1", "evt_1", "evt_2"} {
		_, err := machine.HandleEvent(ctx, succeeded(id, "pi_c1", 2000))
		require.NoError(t, err)
	}

	sent := ff.mailer.Sent()
	require.Len(t, sent, 1)
	assert.Len(t, sent[0].Attachments, 1)
}

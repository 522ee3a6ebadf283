package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log"
	"strings"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/models"
)

// FulfillmentDispatcher delivers tickets and notices for settled carts.
// It never changes cart state; Resend is the recovery path after a failure.
type FulfillmentDispatcher struct {
	carts     CartStore
	users     UserStore
	items     ItemStore
	renderer  TicketRenderer
	archive   StorageService
	mailer    Mailer
	metrics   *metrics.CartMetrics
	eventName string
	currency  string
}

// NewFulfillmentDispatcher creates a new fulfillment dispatcher. archive may
// be nil, in which case tickets are only mailed.
func NewFulfillmentDispatcher(
	carts CartStore,
	users UserStore,
	items ItemStore,
	renderer TicketRenderer,
	archive StorageService,
	mailer Mailer,
	m *metrics.CartMetrics,
	eventName, currency string,
) *FulfillmentDispatcher {
	return &FulfillmentDispatcher{
		carts:     carts,
		users:     users,
		items:     items,
		renderer:  renderer,
		archive:   archive,
		mailer:    mailer,
		metrics:   m,
		eventName: eventName,
		currency:  strings.ToUpper(currency),
	}
}

func (d *FulfillmentDispatcher) count(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "failed"
	}
	d.metrics.Fulfillments.WithLabelValues(kind, result).Inc()
}

// OnPaid renders one ticket per ticket line and mails them to the owner
func (d *FulfillmentDispatcher) OnPaid(ctx context.Context, cart *models.Cart) error {
	err := d.deliverTickets(ctx, cart)
	d.count("tickets", err)
	return err
}

func (d *FulfillmentDispatcher) deliverTickets(ctx context.Context, cart *models.Cart) error {
	owner, err := d.users.GetByID(ctx, cart.UserID)
	if err != nil {
		return fmt.Errorf("failed to load cart owner: %w", err)
	}
	if owner.Email == nil {
		return fmt.Errorf("owner %s of cart %s has no email", owner.ID, cart.ID)
	}

	tickets := cart.TicketLines()
	holderIDs := make([]string, 0, len(tickets))
	itemIDs := make([]string, 0, len(tickets))
	for _, line := range tickets {
		holderIDs = append(holderIDs, line.ForUserID)
		itemIDs = append(itemIDs, line.ItemID)
	}

	holders, err := d.users.GetByIDs(ctx, holderIDs)
	if err != nil {
		return fmt.Errorf("failed to load ticket holders: %w", err)
	}
	itemList, err := d.items.GetByIDs(ctx, itemIDs)
	if err != nil {
		return fmt.Errorf("failed to load ticket items: %w", err)
	}
	names := make(map[string]string, len(itemList))
	for _, item := range itemList {
		names[item.ID] = item.Name
	}

	purchasedAt := cart.UpdatedAt
	if cart.PaidAt != nil {
		purchasedAt = *cart.PaidAt
	}

	var attachments []Attachment
	var holderNames []string
	var archiveErrs []error
	for _, line := range tickets {
		holder := line.ForUserID
		if h, ok := holders[line.ForUserID]; ok {
			holder = h.DisplayName()
		}
		itemName := names[line.ItemID]
		if itemName == "" {
			itemName = line.ItemID
		}

		pdf, err := d.renderer.RenderTicket(&TicketData{
			EventName:   d.eventName,
			CartID:      cart.ID,
			LineID:      line.ID,
			ItemName:    itemName,
			HolderName:  holder,
			OwnerName:   owner.DisplayName(),
			Price:       line.UnitPrice(),
			Currency:    d.currency,
			PurchasedAt: purchasedAt,
		})
		if err != nil {
			return fmt.Errorf("failed to render ticket %s: %w", line.ID, err)
		}

		filename := fmt.Sprintf("ticket-%d-%s.pdf", len(attachments)+1, strings.ToLower(strings.ReplaceAll(holder, " ", "-")))
		if d.archive != nil {
			key := fmt.Sprintf("tickets/%s/%s.pdf", cart.ID, line.ID)
			if _, err := d.archive.Upload(ctx, key, bytes.NewReader(pdf), "application/pdf", int64(len(pdf))); err != nil {
				// the mail still carries the ticket
				log.Printf("Fulfillment: failed to archive ticket %s: %v", key, err)
				archiveErrs = append(archiveErrs, err)
			}
		}

		attachments = append(attachments, Attachment{Filename: filename, ContentType: "application/pdf", Content: pdf})
		holderNames = append(holderNames, holder)
	}
	if d.archive != nil && len(tickets) > 0 {
		d.count("archive", errors.Join(archiveErrs...))
	}

	mail := &Mail{
		To:          *owner.Email,
		Subject:     fmt.Sprintf("[%s] Payment confirmed", d.eventName),
		Category:    "order_confirmation",
		Attachments: attachments,
	}
	if mail.Text, mail.HTML, err = d.confirmationBody(owner, cart, holderNames); err != nil {
		return err
	}

	if err := d.mailer.Send(ctx, mail); err != nil {
		return fmt.Errorf("failed to send confirmation for cart %s: %w", cart.ID, err)
	}

	log.Printf("Fulfillment: sent %d tickets for cart %s to %s", len(attachments), cart.ID, *owner.Email)
	return nil
}

var (
	confirmationTemplate = template.Must(template.New("order_confirmation").Parse(
		`<p>Hello {{.Firstname}},</p>` +
			`<p>Your payment of <strong>{{.Total}}</strong> for {{.EventName}} is confirmed.</p>` +
			`{{if .Holders}}<p>Tickets attached for:</p><ul>{{range .Holders}}<li>{{.}}</li>{{end}}</ul>{{end}}` +
			`<p>Order reference: <code>{{.CartID}}</code></p>`))

	noticeTemplate = template.Must(template.New("notice").Parse(
		`<p>Hello {{.Firstname}},</p><p>{{.Message}}</p>`))
)

// mailData feeds the HTML mail templates
type mailData struct {
	Firstname string
	EventName string
	Total     string
	CartID    string
	Holders   []string
	Message   string
}

func renderHTML(tmpl *template.Template, data mailData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s mail: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func (d *FulfillmentDispatcher) confirmationBody(owner *models.User, cart *models.Cart, holders []string) (string, string, error) {
	total := formatAmount(cart.TotalPrice, d.currency)

	var text strings.Builder
	fmt.Fprintf(&text, "Hello %s,\n\n", owner.Firstname)
	fmt.Fprintf(&text, "Your payment of %s for %s is confirmed.\n", total, d.eventName)
	if len(holders) > 0 {
		fmt.Fprintf(&text, "Tickets attached for: %s\n", strings.Join(holders, ", "))
	}
	fmt.Fprintf(&text, "\nOrder reference: %s\n", cart.ID)

	body, err := renderHTML(confirmationTemplate, mailData{
		Firstname: owner.Firstname,
		EventName: d.eventName,
		Total:     total,
		CartID:    cart.ID,
		Holders:   holders,
	})
	if err != nil {
		return "", "", err
	}
	return text.String(), body, nil
}

// OnCanceled notifies the owner that the payment was canceled
func (d *FulfillmentDispatcher) OnCanceled(ctx context.Context, cart *models.Cart) error {
	err := d.notify(ctx, cart, "payment_canceled",
		fmt.Sprintf("[%s] Payment canceled", d.eventName),
		fmt.Sprintf("Your payment for %s was canceled. No ticket was issued; you can start a new order at any time.", d.eventName))
	d.count("canceled_notice", err)
	return err
}

// OnRefunded notifies the owner of a refund
func (d *FulfillmentDispatcher) OnRefunded(ctx context.Context, cart *models.Cart) error {
	err := d.notify(ctx, cart, "refund",
		fmt.Sprintf("[%s] Refund issued", d.eventName),
		fmt.Sprintf("Your order %s was refunded (%s). The tickets it contained are no longer valid.",
			cart.ID, formatAmount(cart.TotalPrice, d.currency)))
	d.count("refund_notice", err)
	return err
}

func (d *FulfillmentDispatcher) notify(ctx context.Context, cart *models.Cart, category, subject, message string) error {
	owner, err := d.users.GetByID(ctx, cart.UserID)
	if err != nil {
		return fmt.Errorf("failed to load cart owner: %w", err)
	}
	if owner.Email == nil {
		return fmt.Errorf("owner %s of cart %s has no email", owner.ID, cart.ID)
	}

	body, err := renderHTML(noticeTemplate, mailData{Firstname: owner.Firstname, Message: message})
	if err != nil {
		return err
	}

	return d.mailer.Send(ctx, &Mail{
		To:       *owner.Email,
		Subject:  subject,
		Category: category,
		Text:     fmt.Sprintf("Hello %s,\n\n%s\n", owner.Firstname, message),
		HTML:     body,
	})
}

// Resend delivers the tickets of a paid cart again
func (d *FulfillmentDispatcher) Resend(ctx context.Context, cartID string) error {
	cart, err := d.carts.GetByID(ctx, cartID)
	if err != nil {
		return err
	}
	if !cart.IsPaid() {
		return models.ErrInvalidTransition.WithDetail("cart %s is %s, only paid carts have tickets", cartID, cart.TransactionState)
	}

	if err := d.OnPaid(ctx, cart); err != nil {
		return fmt.Errorf("%w: %v", models.ErrFulfillmentFailed, err)
	}
	return nil
}

func formatAmount(cents int, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}

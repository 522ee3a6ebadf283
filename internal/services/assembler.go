package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/models"

	"github.com/google/uuid"
)

// SupplementRequest asks for quantity units of a non-ticket item
type SupplementRequest struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

// AssembleRequest is a purchase request made by a cart owner
type AssembleRequest struct {
	TicketUserIDs []string
	Attendant     *models.AttendantRequest
	Supplements   []SupplementRequest
}

// AssembledCart is a committed cart with its open payment
type AssembledCart struct {
	Cart           *models.Cart
	CheckoutSecret string
}

// AssemblerConfig holds the settings of cart assembly
type AssemblerConfig struct {
	Currency       string
	GatewayTimeout time.Duration
	PartnerDomains []string
	EventName      string
}

// CartAssembler validates purchase requests and turns them into carts
type CartAssembler struct {
	catalog      *CatalogService
	items        ItemStore
	reservations ReservationCounter
	users        UserStore
	carts        CartStore
	gateway      PaymentGateway
	settler      FreeCartSettler
	publisher    EventPublisher
	metrics      *metrics.CartMetrics
	config       AssemblerConfig
	now          func() time.Time
}

// FreeCartSettler pays zero-total carts without a provider
type FreeCartSettler interface {
	SettleFree(ctx context.Context, cartID string) (*models.Cart, error)
}

// NewCartAssembler creates a new cart assembler
func NewCartAssembler(
	catalog *CatalogService,
	items ItemStore,
	reservations ReservationCounter,
	users UserStore,
	carts CartStore,
	gateway PaymentGateway,
	publisher EventPublisher,
	m *metrics.CartMetrics,
	config AssemblerConfig,
) *CartAssembler {
	return &CartAssembler{
		catalog:      catalog,
		items:        items,
		reservations: reservations,
		users:        users,
		carts:        carts,
		gateway:      gateway,
		publisher:    publisher,
		metrics:      m,
		config:       config,
		now:          time.Now,
	}
}

// SetSettler routes zero-total carts to s instead of the gateway
func (a *CartAssembler) SetSettler(s FreeCartSettler) {
	a.settler = s
}

type ticketRequest struct {
	user   *models.User
	itemID string
}

// Assemble validates req for owner, commits the cart and opens its payment.
// The first failing rule determines the returned error.
func (a *CartAssembler) Assemble(ctx context.Context, owner *models.User, req *AssembleRequest) (*AssembledCart, error) {
	assembled, err := a.assemble(ctx, owner, req)
	result := "ok"
	if err != nil {
		result = models.CodeOf(err)
		if result == "" {
			result = "error"
		}
	}
	a.metrics.Assemblies.WithLabelValues(result).Inc()
	return assembled, err
}

func (a *CartAssembler) assemble(ctx context.Context, owner *models.User, req *AssembleRequest) (*AssembledCart, error) {
	var team *models.Team
	if owner.TeamID != nil {
		var err error
		if team, err = a.users.GetTeam(ctx, *owner.TeamID); err != nil {
			return nil, err
		}
	}

	tickets, err := a.checkBeneficiaries(ctx, owner, team, req.TicketUserIDs)
	if err != nil {
		return nil, err
	}

	if err := a.checkCapacity(ctx, team, tickets); err != nil {
		return nil, err
	}

	if req.Attendant != nil {
		if err := req.Attendant.Validate(); err != nil {
			return nil, err
		}
		if !owner.IsChild() {
			return nil, models.ErrAttendantNotAllowed
		}
		if owner.HasAttendant() {
			return nil, models.ErrAttendantAlreadyRegistered
		}
	}

	supplements, err := a.checkSupplements(ctx, owner, team, req.Supplements)
	if err != nil {
		return nil, err
	}

	if len(tickets) == 0 && len(supplements) == 0 && req.Attendant == nil {
		return nil, models.ErrEmptyBasket
	}

	items, err := a.loadItems(ctx, tickets, supplements, req.Attendant != nil)
	if err != nil {
		return nil, err
	}

	domains, err := a.users.PartnerDomains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load partner domains: %w", err)
	}
	prices := NewPriceEngine(domains, a.config.PartnerDomains)

	var lines []models.CartLine
	for _, t := range tickets {
		lines = append(lines, prices.Line(items[t.itemID], 1, t.user))
	}
	attendantLine := -1
	if req.Attendant != nil {
		attendantLine = len(lines)
		lines = append(lines, prices.Line(items[models.ItemTicketAttendant], 1, nil))
	}
	for _, s := range supplements {
		lines = append(lines, prices.Line(items[s.ItemID], s.Quantity, owner))
	}
	for i := range lines {
		if lines[i].ForUserID == "" {
			lines[i].ForUserID = owner.ID
		}
	}

	now := a.now()
	cart := &models.Cart{
		ID:                  uuid.NewString(),
		UserID:              owner.ID,
		TransactionProvider: a.gateway.Name(),
		TransactionState:    models.StatePendingCreation,
		CreatedAt:           now,
		UpdatedAt:           now,
		Lines:               lines,
	}
	for i := range cart.Lines {
		cart.Lines[i].ID = uuid.NewString()
		cart.Lines[i].CartID = cart.ID
	}

	if err := a.checkStock(ctx, items, cart); err != nil {
		return nil, err
	}

	for _, id := range cart.ItemIDs() {
		if err := items[id].CheckAvailability(now); err != nil {
			return nil, err
		}
	}

	if cart.TotalPrice, err = prices.Total(cart.Lines); err != nil {
		return nil, err
	}
	free := cart.TotalPrice == 0 && a.settler != nil
	if free {
		cart.TransactionProvider = ProviderFree
	}

	var attendant *models.User
	if req.Attendant != nil {
		if attendant, err = a.users.CreateAttendant(ctx, owner.ID, req.Attendant); err != nil {
			return nil, err
		}
		cart.Lines[attendantLine].ForUserID = attendant.ID
	}

	if err := a.carts.Commit(ctx, cart); err != nil {
		a.removeAttendant(ctx, owner, attendant)
		return nil, err
	}
	a.reservations.Invalidate(ctx, cart.ItemIDs())

	if free {
		settled, err := a.settler.SettleFree(ctx, cart.ID)
		if err != nil {
			a.compensate(ctx, owner, cart, attendant, "settlement failure")
			return nil, fmt.Errorf("failed to settle cart %s: %w", cart.ID, err)
		}
		log.Printf("Cart assembler: cart %s for user %s is free and settled", cart.ID, owner.ID)
		return &AssembledCart{Cart: settled}, nil
	}

	transaction, err := a.openTransaction(ctx, owner, cart)
	if err != nil {
		a.compensate(ctx, owner, cart, attendant, "gateway failure")
		return nil, err
	}

	if err := a.carts.AttachTransaction(ctx, cart.ID, transaction.ExternalID); err != nil {
		a.cancelTransaction(ctx, cart, transaction.ExternalID)
		a.compensate(ctx, owner, cart, attendant, "attach failure")
		return nil, fmt.Errorf("failed to attach transaction to cart %s: %w", cart.ID, err)
	}
	cart.TransactionID = &transaction.ExternalID
	cart.TransactionState = models.StatePending

	a.publish(ctx, cart, models.StatePendingCreation)
	log.Printf("Cart assembler: cart %s opened for user %s (%d lines, total %d)", cart.ID, owner.ID, len(cart.Lines), cart.TotalPrice)

	return &AssembledCart{Cart: cart, CheckoutSecret: transaction.CheckoutSecret}, nil
}

func (a *CartAssembler) checkBeneficiaries(ctx context.Context, owner *models.User, team *models.Team, ids []string) ([]ticketRequest, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, models.ErrDuplicateBeneficiary.WithDetail("%s", id)
		}
		seen[id] = true
	}

	users, err := a.users.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	tickets := make([]ticketRequest, 0, len(ids))
	for _, id := range ids {
		user, ok := users[id]
		if !ok {
			return nil, models.ErrUserNotFound.WithDetail("%s", id)
		}

		paid, err := a.users.HasPaidTicket(ctx, id)
		if err != nil {
			return nil, err
		}
		if paid {
			return nil, models.ErrBeneficiaryAlreadyPaid.WithDetail("%s", id)
		}

		if id != owner.ID && (team == nil || !user.InTeam(team.ID)) {
			return nil, models.ErrBeneficiaryNotInTeam.WithDetail("%s", id)
		}

		itemID, err := models.TicketItemFor(user.Type)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticketRequest{user: user, itemID: itemID})
	}
	return tickets, nil
}

// checkCapacity rejects players and coaches joining a full tournament
// through a team that is not locked yet. Locked teams already hold a place.
func (a *CartAssembler) checkCapacity(ctx context.Context, team *models.Team, tickets []ticketRequest) error {
	if team == nil || team.IsLocked() {
		return nil
	}

	var tournament *models.Tournament
	for _, t := range tickets {
		if t.user.Type != models.UserTypePlayer && t.user.Type != models.UserTypeCoach {
			continue
		}
		if tournament == nil {
			var err error
			if tournament, err = a.users.GetTournament(ctx, team.TournamentID); err != nil {
				return err
			}
		}
		if tournament.PlacesLeft() <= 0 {
			return models.ErrTournamentFull.WithDetail("%s", tournament.Name)
		}
	}
	return nil
}

func (a *CartAssembler) checkSupplements(ctx context.Context, owner *models.User, team *models.Team, requests []SupplementRequest) ([]SupplementRequest, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	catalog, err := a.catalog.ItemsAvailableTo(ctx, team, owner)
	if err != nil {
		return nil, err
	}
	available := make(map[string]*models.Item, len(catalog))
	for _, item := range catalog {
		available[item.ID] = item
	}

	// lines are unique per (item, beneficiary), so repeated ids are merged
	var merged []SupplementRequest
	index := make(map[string]int)
	for _, r := range requests {
		if r.Quantity < 1 || r.Quantity > models.MaxLineQuantity {
			return nil, models.ErrInvalidInput.WithDetail("quantity of %s must be between 1 and %d", r.ItemID, models.MaxLineQuantity)
		}
		item, ok := available[r.ItemID]
		if !ok || item.IsTicket() {
			return nil, models.ErrItemNotAvailable.WithDetail("%s", r.ItemID)
		}
		if i, ok := index[r.ItemID]; ok {
			merged[i].Quantity += r.Quantity
			if merged[i].Quantity > models.MaxLineQuantity {
				return nil, models.ErrInvalidInput.WithDetail("quantity of %s must be between 1 and %d", r.ItemID, models.MaxLineQuantity)
			}
			continue
		}
		index[r.ItemID] = len(merged)
		merged = append(merged, r)
	}

	if i, ok := index[models.ItemDiscountSwitchSSBU]; ok {
		if merged[i].Quantity != 1 {
			return nil, models.ErrDiscountQuantity
		}
		discount := available[models.ItemDiscountSwitchSSBU]
		if discount.Remaining != nil && *discount.Remaining == models.RemainingHeldByUser {
			return nil, models.ErrDiscountAlreadyHeld
		}
	}

	return merged, nil
}

func (a *CartAssembler) loadItems(ctx context.Context, tickets []ticketRequest, supplements []SupplementRequest, attendant bool) (map[string]*models.Item, error) {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, t := range tickets {
		add(t.itemID)
	}
	if attendant {
		add(models.ItemTicketAttendant)
	}
	for _, s := range supplements {
		add(s.ItemID)
	}

	list, err := a.items.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make(map[string]*models.Item, len(list))
	for _, item := range list {
		items[item.ID] = item
	}
	for _, id := range ids {
		if _, ok := items[id]; !ok {
			return nil, models.ErrItemNotFound.WithDetail("%s", id)
		}
	}
	return items, nil
}

// checkStock is the advisory pre-check; Commit repeats it under lock
func (a *CartAssembler) checkStock(ctx context.Context, items map[string]*models.Item, cart *models.Cart) error {
	stock := make(map[string]*int, len(items))
	var bounded []string
	for id, item := range items {
		stock[id] = item.Stock
		if item.HasBoundedStock() {
			bounded = append(bounded, id)
		}
	}
	if len(bounded) == 0 {
		return nil
	}

	reserved, err := a.reservations.Reserved(ctx, bounded)
	if err != nil {
		return fmt.Errorf("failed to count reservations: %w", err)
	}
	return models.CheckStock(stock, reserved, cart.QuantitiesByItem())
}

func (a *CartAssembler) openTransaction(ctx context.Context, owner *models.User, cart *models.Cart) (*GatewayTransaction, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.GatewayTimeout)
	defer cancel()

	req := &TransactionRequest{
		CartID:      cart.ID,
		Amount:      cart.TotalPrice,
		Currency:    a.config.Currency,
		Description: a.config.EventName,
	}
	if owner.Email != nil {
		req.Email = *owner.Email
	}

	start := time.Now()
	transaction, err := a.gateway.OpenTransaction(ctx, req)
	a.metrics.ObserveGateway(a.gateway.Name(), "open", start)
	if err == nil && transaction.ExternalID == "" {
		err = errors.New("provider returned an empty transaction id")
	}
	if err != nil {
		log.Printf("Cart assembler: %s failed to open transaction for cart %s: %v", a.gateway.Name(), cart.ID, err)
		return nil, fmt.Errorf("%w: %v", models.ErrGatewayFailure, err)
	}
	return transaction, nil
}

// compensate undoes a committed cart whose payment could not be opened.
// A cart that cannot be deleted stays in pending-creation, where the
// janitor errors it and releases its attendant.
func (a *CartAssembler) compensate(ctx context.Context, owner *models.User, cart *models.Cart, attendant *models.User, cause string) {
	cleanup := context.WithoutCancel(ctx)
	if err := a.carts.Delete(cleanup, cart.ID); err != nil {
		log.Printf("Cart assembler: failed to delete cart %s after %s: %v", cart.ID, cause, err)
		return
	}
	a.reservations.Invalidate(cleanup, cart.ItemIDs())
	a.removeAttendant(cleanup, owner, attendant)
}

// cancelTransaction voids a provider transaction the cart could not keep
func (a *CartAssembler) cancelTransaction(ctx context.Context, cart *models.Cart, externalID string) {
	err := a.gateway.Cancel(context.WithoutCancel(ctx), externalID)
	if err != nil && !errors.Is(err, ErrCancelUnsupported) {
		log.Printf("Cart assembler: failed to cancel %s transaction %s of cart %s: %v", a.gateway.Name(), externalID, cart.ID, err)
	}
}

func (a *CartAssembler) removeAttendant(ctx context.Context, owner *models.User, attendant *models.User) {
	if attendant == nil {
		return
	}
	if err := a.users.DeleteAttendant(context.WithoutCancel(ctx), owner.ID, attendant.ID); err != nil {
		log.Printf("Cart assembler: failed to delete attendant %s of %s: %v", attendant.ID, owner.ID, err)
	}
}

func (a *CartAssembler) publish(ctx context.Context, cart *models.Cart, from models.TransactionState) {
	err := a.publisher.Publish(ctx, &CartEvent{
		CartID:     cart.ID,
		UserID:     cart.UserID,
		From:       from,
		To:         cart.TransactionState,
		Source:     models.SourceAssembler,
		TotalPrice: cart.TotalPrice,
		At:         a.now(),
	})
	if err != nil {
		log.Printf("Cart assembler: failed to publish event for cart %s: %v", cart.ID, err)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/mock"

	"lan-registration-platform/internal/metrics"
	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/repositories"
)

// memDB is the shared state behind the in-memory repositories
type memDB struct {
	mu          sync.Mutex
	items       map[string]*models.Item
	users       map[string]*models.User
	teams       map[string]*models.Team
	tournaments map[string]*models.Tournament
	partners    []string
	carts       map[string]*models.Cart
	events      map[string]bool
	transitions []*models.CartTransition

	commitErr    error
	attachErr    error
	deleteErr    error
	reservedErr  error
	reservedHits int
	invalidated  [][]string
	seq          int
}

func newMemDB() *memDB {
	return &memDB{
		items:       make(map[string]*models.Item),
		users:       make(map[string]*models.User),
		teams:       make(map[string]*models.Team),
		tournaments: make(map[string]*models.Tournament),
		carts:       make(map[string]*models.Cart),
		events:      make(map[string]bool),
	}
}

func copyItem(i *models.Item) *models.Item {
	c := *i
	c.Remaining = nil
	return &c
}

func copyCart(c *models.Cart) *models.Cart {
	cc := *c
	cc.Lines = append([]models.CartLine(nil), c.Lines...)
	return &cc
}

func (db *memDB) addItem(item *models.Item) {
	db.items[item.ID] = item
}

func (db *memDB) addUser(user *models.User) {
	db.users[user.ID] = user
}

// reservedLocked sums line quantities of reserving carts. db.mu must be held.
func (db *memDB) reservedLocked(ids []string) map[string]int {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	reserved := make(map[string]int)
	for _, cart := range db.carts {
		if !cart.TransactionState.IsReserving() {
			continue
		}
		for _, line := range cart.Lines {
			if want[line.ItemID] {
				reserved[line.ItemID] += line.Quantity
			}
		}
	}
	return reserved
}

// MockItemRepository is an in-memory ItemStore and ReservationCounter
type MockItemRepository struct {
	db *memDB
}

func (r *MockItemRepository) List(ctx context.Context) ([]*models.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var list []*models.Item
	for _, item := range r.db.items {
		list = append(list, copyItem(item))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Position != list[j].Position {
			return list[i].Position < list[j].Position
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (r *MockItemRepository) GetByIDs(ctx context.Context, ids []string) ([]*models.Item, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var list []*models.Item
	for _, id := range ids {
		if item, ok := r.db.items[id]; ok {
			list = append(list, copyItem(item))
		}
	}
	return list, nil
}

func (r *MockItemRepository) Reserved(ctx context.Context, ids []string) (map[string]int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	r.db.reservedHits++
	if r.db.reservedErr != nil {
		return nil, r.db.reservedErr
	}
	return r.db.reservedLocked(ids), nil
}

func (r *MockItemRepository) Invalidate(ctx context.Context, ids []string) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.invalidated = append(r.db.invalidated, append([]string(nil), ids...))
}

// MockUserRepository is an in-memory UserStore
type MockUserRepository struct {
	db *memDB
}

func (r *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	user, ok := r.db.users[id]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	c := *user
	return &c, nil
}

func (r *MockUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	users := make(map[string]*models.User)
	for _, id := range ids {
		if user, ok := r.db.users[id]; ok {
			c := *user
			users[id] = &c
		}
	}
	return users, nil
}

func (r *MockUserRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	team, ok := r.db.teams[id]
	if !ok {
		return nil, models.ErrTeamNotFound
	}
	c := *team
	return &c, nil
}

func (r *MockUserRepository) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	tournament, ok := r.db.tournaments[id]
	if !ok {
		return nil, fmt.Errorf("tournament %s not found", id)
	}
	c := *tournament
	return &c, nil
}

func (r *MockUserRepository) HasPaidTicket(ctx context.Context, userID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, cart := range r.db.carts {
		if cart.TransactionState != models.StatePaid {
			continue
		}
		for _, line := range cart.Lines {
			if line.IsTicket && line.ForUserID == userID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *MockUserRepository) CreateAttendant(ctx context.Context, ownerID string, req *models.AttendantRequest) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	owner, ok := r.db.users[ownerID]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	r.db.seq++
	attendant := &models.User{
		ID:        fmt.Sprintf("attendant-%d", r.db.seq),
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Type:      models.UserTypeAttendant,
		Age:       models.UserAgeAdult,
	}
	r.db.users[attendant.ID] = attendant
	owner.AttendantID = &attendant.ID
	c := *attendant
	return &c, nil
}

func (r *MockUserRepository) DeleteAttendant(ctx context.Context, ownerID, attendantID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	delete(r.db.users, attendantID)
	if owner, ok := r.db.users[ownerID]; ok {
		owner.AttendantID = nil
	}
	return nil
}

func (r *MockUserRepository) PartnerDomains(ctx context.Context) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return append([]string(nil), r.db.partners...), nil
}

// MockCartRepository is an in-memory CartStore. Its lock holds the whole
// database, which serializes transitions like the row lock does.
type MockCartRepository struct {
	db *memDB
}

func (r *MockCartRepository) Commit(ctx context.Context, cart *models.Cart) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.db.commitErr != nil {
		return r.db.commitErr
	}

	stock := make(map[string]*int)
	for _, id := range cart.ItemIDs() {
		item, ok := r.db.items[id]
		if !ok {
			return models.ErrItemNotFound.WithDetail("%s", id)
		}
		stock[id] = item.Stock
	}
	if err := models.CheckStock(stock, r.db.reservedLocked(cart.ItemIDs()), cart.QuantitiesByItem()); err != nil {
		return err
	}

	for _, line := range cart.TicketLines() {
		for _, other := range r.db.carts {
			if !other.TransactionState.IsReserving() {
				continue
			}
			for _, held := range other.TicketLines() {
				if held.ForUserID != line.ForUserID {
					continue
				}
				if other.IsPaid() {
					return models.ErrBeneficiaryAlreadyPaid.WithDetail("%s", line.ForUserID)
				}
				return models.ErrBeneficiaryTicketPending.WithDetail("%s", line.ForUserID)
			}
		}
	}

	r.db.carts[cart.ID] = copyCart(cart)
	return nil
}

func (r *MockCartRepository) AttachTransaction(ctx context.Context, cartID, transactionID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if r.db.attachErr != nil {
		return r.db.attachErr
	}
	cart, ok := r.db.carts[cartID]
	if !ok || cart.TransactionState != models.StatePendingCreation {
		return models.ErrInvalidTransition.WithDetail("cart %s is not awaiting a transaction", cartID)
	}
	cart.TransactionID = &transactionID
	cart.TransactionState = models.StatePending
	r.db.transitions = append(r.db.transitions, &models.CartTransition{
		CartID:    cartID,
		FromState: models.StatePendingCreation,
		ToState:   models.StatePending,
		Source:    models.SourceAssembler,
	})
	return nil
}

func (r *MockCartRepository) Delete(ctx context.Context, cartID string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.deleteErr != nil {
		return r.db.deleteErr
	}
	delete(r.db.carts, cartID)
	return nil
}

func (r *MockCartRepository) GetByID(ctx context.Context, id string) (*models.Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cart, ok := r.db.carts[id]
	if !ok {
		return nil, models.ErrCartNotFound
	}
	return copyCart(cart), nil
}

func (r *MockCartRepository) UserHoldsItem(ctx context.Context, userID, itemID string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, cart := range r.db.carts {
		if !cart.TransactionState.IsReserving() {
			continue
		}
		for _, line := range cart.Lines {
			if line.ForUserID == userID && line.ItemID == itemID {
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *MockCartRepository) ListStale(ctx context.Context, state models.TransactionState, olderThan time.Time) ([]*models.Cart, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	var stale []*models.Cart
	for _, cart := range r.db.carts {
		if cart.TransactionState == state && cart.CreatedAt.Before(olderThan) {
			stale = append(stale, copyCart(cart))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].CreatedAt.Before(stale[j].CreatedAt) })
	return stale, nil
}

func (r *MockCartRepository) LockByTransaction(ctx context.Context, transactionID string, fn func(tx repositories.CartTx) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	for _, cart := range r.db.carts {
		if cart.TransactionID != nil && *cart.TransactionID == transactionID {
			return r.run(cart, fn)
		}
	}
	return models.ErrCartNotFound.WithDetail("transaction %s", transactionID)
}

func (r *MockCartRepository) LockByID(ctx context.Context, cartID string, fn func(tx repositories.CartTx) error) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	cart, ok := r.db.carts[cartID]
	if !ok {
		return models.ErrCartNotFound.WithDetail("%s", cartID)
	}
	return r.run(cart, fn)
}

// run stages writes and applies them only when fn succeeds
func (r *MockCartRepository) run(cart *models.Cart, fn func(tx repositories.CartTx) error) error {
	tx := &memCartTx{db: r.db, cart: copyCart(cart)}
	if err := fn(tx); err != nil {
		return err
	}
	for _, key := range tx.events {
		r.db.events[key] = true
	}
	r.db.transitions = append(r.db.transitions, tx.transitions...)
	if tx.state != "" {
		cart.TransactionState = tx.state
		cart.UpdatedAt = tx.at
		if tx.state == models.StatePaid && cart.PaidAt == nil {
			at := tx.at
			cart.PaidAt = &at
		}
	}
	return nil
}

type memCartTx struct {
	db          *memDB
	cart        *models.Cart
	events      []string
	transitions []*models.CartTransition
	state       models.TransactionState
	at          time.Time
}

func (t *memCartTx) Cart() *models.Cart {
	return t.cart
}

func (t *memCartTx) RecordEvent(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + "|" + eventID
	if t.db.events[key] {
		return false, nil
	}
	for _, k := range t.events {
		if k == key {
			return false, nil
		}
	}
	t.events = append(t.events, key)
	return true, nil
}

func (t *memCartTx) SetState(ctx context.Context, state models.TransactionState, at time.Time) error {
	t.state = state
	t.at = at
	t.cart.TransactionState = state
	t.cart.UpdatedAt = at
	if state == models.StatePaid && t.cart.PaidAt == nil {
		t.cart.PaidAt = &at
	}
	return nil
}

func (t *memCartTx) LogTransition(ctx context.Context, transition *models.CartTransition) error {
	c := *transition
	t.transitions = append(t.transitions, &c)
	return nil
}

// transitionsOf returns the audit rows of a cart, oldest first
func (db *memDB) transitionsOf(cartID string) []*models.CartTransition {
	db.mu.Lock()
	defer db.mu.Unlock()

	var out []*models.CartTransition
	for _, t := range db.transitions {
		if t.CartID == cartID {
			out = append(out, t)
		}
	}
	return out
}

func (db *memDB) cart(id string) *models.Cart {
	db.mu.Lock()
	defer db.mu.Unlock()
	if c, ok := db.carts[id]; ok {
		return copyCart(c)
	}
	return nil
}

// MockGateway is a testify mock PaymentGateway
type MockGateway struct {
	mock.Mock
	name string
}

func (g *MockGateway) Name() string {
	return g.name
}

func (g *MockGateway) OpenTransaction(ctx context.Context, req *TransactionRequest) (*GatewayTransaction, error) {
	args := g.Called(ctx, req)
	switch v := args.Get(0).(type) {
	case func(context.Context, *TransactionRequest) *GatewayTransaction:
		return v(ctx, req), args.Error(1)
	case *GatewayTransaction:
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

func (g *MockGateway) Cancel(ctx context.Context, externalID string) error {
	args := g.Called(ctx, externalID)
	return args.Error(0)
}

func (g *MockGateway) Refund(ctx context.Context, externalID string, amount int) error {
	args := g.Called(ctx, externalID, amount)
	return args.Error(0)
}

func (g *MockGateway) ParseWebhook(payload []byte, header http.Header) (*models.WebhookEvent, error) {
	return nil, errors.New("not used")
}

// MockMailer is a testify mock Mailer that keeps what it was given
type MockMailer struct {
	mock.Mock
	mu   sync.Mutex
	sent []*Mail
}

func (m *MockMailer) Send(ctx context.Context, mail *Mail) error {
	m.mu.Lock()
	m.sent = append(m.sent, mail)
	m.mu.Unlock()
	args := m.Called(ctx, mail)
	return args.Error(0)
}

func (m *MockMailer) Sent() []*Mail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Mail(nil), m.sent...)
}

// MockFulfiller counts fulfillment calls
type MockFulfiller struct {
	mu       sync.Mutex
	paid     []string
	canceled []string
	refunded []string
	err      error
}

func (f *MockFulfiller) OnPaid(ctx context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = append(f.paid, cart.ID)
	return f.err
}

func (f *MockFulfiller) OnCanceled(ctx context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, cart.ID)
	return f.err
}

func (f *MockFulfiller) OnRefunded(ctx context.Context, cart *models.Cart) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunded = append(f.refunded, cart.ID)
	return f.err
}

func (f *MockFulfiller) paidCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.paid)
}

// recordingPublisher keeps published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []*CartEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event *CartEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []*CartEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*CartEvent(nil), p.events...)
}

func newTestMetrics() *metrics.CartMetrics {
	return metrics.NewCartMetrics(prometheus.NewRegistry())
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

// fixture is the event used across the service tests: an ssbu team with
// an owner, a teammate and a coach, a spectator and a child.
type fixture struct {
	db          *memDB
	items       *MockItemRepository
	users       *MockUserRepository
	carts       *MockCartRepository
	catalog     *CatalogService
	gateway     *MockGateway
	publisher   *recordingPublisher
	metrics     *metrics.CartMetrics
	assembler   *CartAssembler
	now         time.Time
	owner       *models.User
	teammate    *models.User
	coach       *models.User
	spectator   *models.User
	child       *models.User
	outsider    *models.User
	team        *models.Team
	tournament  *models.Tournament
	partnerMail string
}

func newFixture() *fixture {
	db := newMemDB()
	now := time.Date(2026, 11, 1, 12, 0, 0, 0, time.UTC)

	for i, item := range []*models.Item{
		{ID: models.ItemTicketPlayer, Name: "Player ticket", Category: models.ItemCategoryTicket, Price: 2000, ReducedPrice: intPtr(1500), Stock: intPtr(3)},
		{ID: models.ItemTicketCoach, Name: "Coach ticket", Category: models.ItemCategoryTicket, Price: 1200, ReducedPrice: intPtr(1000)},
		{ID: models.ItemTicketSpectator, Name: "Spectator ticket", Category: models.ItemCategoryTicket, Price: 1000},
		{ID: models.ItemTicketAttendant, Name: "Attendant ticket", Category: models.ItemCategoryTicket, Price: 1200},
		{ID: "pizza", Name: "Pizza", Category: models.ItemCategorySupplement, Price: 800, Stock: intPtr(5), Display: true},
		{ID: "ethernet-7", Name: "Ethernet cable", Category: models.ItemCategoryRent, Price: 500, Display: true},
		{ID: "hidden", Name: "Hidden", Category: models.ItemCategorySupplement, Price: 100, Display: false},
		{ID: models.ItemDiscountSwitchSSBU, Name: "Switch discount", Category: models.ItemCategorySupplement, Price: -300, Display: false},
		{ID: "discount-staff", Name: "Staff discount", Category: models.ItemCategorySupplement, Price: -5000, Display: true},
		{ID: "tshirt", Name: "T-shirt", Category: models.ItemCategorySupplement, Price: 1500, Display: true, AvailableUntil: timePtr(now.Add(-time.Hour))},
		{ID: "breakfast", Name: "Breakfast", Category: models.ItemCategorySupplement, Price: 300, Display: true, AvailableFrom: timePtr(now.Add(time.Hour))},
	} {
		item.Position = i
		db.addItem(item)
	}

	tournament := &models.Tournament{ID: models.TournamentSSBU, Name: "Super Smash Bros", MaxTeams: 4, LockedTeams: 1}
	db.tournaments[tournament.ID] = tournament
	team := &models.Team{ID: "team-1", Name: "Les Smasheurs", TournamentID: tournament.ID}
	db.teams[team.ID] = team

	f := &fixture{
		db:          db,
		items:       &MockItemRepository{db: db},
		users:       &MockUserRepository{db: db},
		carts:       &MockCartRepository{db: db},
		gateway:     &MockGateway{name: ProviderStripe},
		publisher:   &recordingPublisher{},
		metrics:     newTestMetrics(),
		now:         now,
		team:        team,
		tournament:  tournament,
		partnerMail: "utt.fr",
	}

	f.owner = &models.User{ID: "u-owner", Firstname: "Alice", Lastname: "Martin", Email: strPtr("alice@utt.fr"), Type: models.UserTypePlayer, Age: models.UserAgeAdult, TeamID: strPtr(team.ID)}
	f.teammate = &models.User{ID: "u-mate", Firstname: "Bob", Lastname: "Durand", Email: strPtr("bob@gmail.com"), Type: models.UserTypePlayer, Age: models.UserAgeAdult, TeamID: strPtr(team.ID)}
	f.coach = &models.User{ID: "u-coach", Firstname: "Chloe", Lastname: "Petit", Email: strPtr("chloe@utt.fr"), Type: models.UserTypeCoach, Age: models.UserAgeAdult, TeamID: strPtr(team.ID)}
	f.spectator = &models.User{ID: "u-spec", Firstname: "Dan", Lastname: "Roux", Email: strPtr("dan@example.org"), Type: models.UserTypeSpectator, Age: models.UserAgeAdult}
	f.child = &models.User{ID: "u-child", Firstname: "Eve", Lastname: "Moreau", Email: strPtr("eve@example.org"), Type: models.UserTypeSpectator, Age: models.UserAgeChild}
	f.outsider = &models.User{ID: "u-out", Firstname: "Fred", Lastname: "Blanc", Email: strPtr("fred@example.org"), Type: models.UserTypePlayer, Age: models.UserAgeAdult, TeamID: strPtr("team-2")}
	for _, u := range []*models.User{f.owner, f.teammate, f.coach, f.spectator, f.child, f.outsider} {
		db.addUser(u)
	}

	f.catalog = NewCatalogService(f.items, f.items, f.users, f.carts)
	f.assembler = NewCartAssembler(f.catalog, f.items, f.items, f.users, f.carts, f.gateway, f.publisher, f.metrics, AssemblerConfig{
		Currency:       "eur",
		GatewayTimeout: time.Second,
		PartnerDomains: []string{f.partnerMail},
		EventName:      "UTT Arena",
	})
	f.assembler.now = func() time.Time { return now }
	return f
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// userCopy returns the stored version of a user, which tracks attendants
func (f *fixture) userCopy(id string) *models.User {
	f.db.mu.Lock()
	defer f.db.mu.Unlock()
	c := *f.db.users[id]
	return &c
}

// openOK makes the gateway accept any transaction
func (f *fixture) openOK() {
	f.gateway.On("OpenTransaction", mock.Anything, mock.AnythingOfType("*services.TransactionRequest")).
		Return(func(ctx context.Context, req *TransactionRequest) *GatewayTransaction {
			return &GatewayTransaction{ExternalID: "pi_" + req.CartID, CheckoutSecret: "secret_" + req.CartID}
		}, nil)
}

// newMachine builds a state machine over the fixture's stores
func (f *fixture) newMachine(fulfiller Fulfiller) *TransactionStateMachine {
	m := NewTransactionStateMachine(f.carts, f.users, NewGatewaySetOf(f.gateway, NewMockPaymentService()), fulfiller, f.items, f.publisher, f.metrics)
	m.now = func() time.Time { return f.now }
	return m
}

// seedCart stores a cart directly, bypassing assembly
func (f *fixture) seedCart(id string, state models.TransactionState, total int, lines ...models.CartLine) *models.Cart {
	cart := &models.Cart{
		ID:                  id,
		UserID:              f.owner.ID,
		TransactionProvider: f.gateway.name,
		TransactionState:    state,
		TotalPrice:          total,
		CreatedAt:           f.now.Add(-time.Hour),
		UpdatedAt:           f.now.Add(-time.Hour),
		Lines:               lines,
	}
	if state != models.StatePendingCreation {
		cart.TransactionID = strPtr("pi_" + id)
	}
	for i := range cart.Lines {
		cart.Lines[i].CartID = id
		if cart.Lines[i].ID == "" {
			cart.Lines[i].ID = fmt.Sprintf("%s-line-%d", id, i)
		}
	}
	f.db.mu.Lock()
	f.db.carts[id] = copyCart(cart)
	f.db.mu.Unlock()
	return cart
}

package services

import (
	"context"
	"io"
	"time"

	"lan-registration-platform/internal/models"
	"lan-registration-platform/internal/repositories"
)

// ItemStore reads the catalog
type ItemStore interface {
	List(ctx context.Context) ([]*models.Item, error)
	GetByIDs(ctx context.Context, ids []string) ([]*models.Item, error)
}

// ReservationSource counts units held by reserving carts
type ReservationSource interface {
	Reserved(ctx context.Context, ids []string) (map[string]int, error)
}

// ReservationCounter is a ReservationSource whose answers may be cached
type ReservationCounter interface {
	ReservationSource
	Invalidate(ctx context.Context, ids []string)
}

// UserStore reads participants and manages attendant records
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.User, error)
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	HasPaidTicket(ctx context.Context, userID string) (bool, error)
	CreateAttendant(ctx context.Context, ownerID string, req *models.AttendantRequest) (*models.User, error)
	DeleteAttendant(ctx context.Context, ownerID, attendantID string) error
	PartnerDomains(ctx context.Context) ([]string, error)
}

// CartStore persists carts. Lock* run fn while the cart row is locked and
// commit everything written through the CartTx when fn returns nil.
type CartStore interface {
	Commit(ctx context.Context, cart *models.Cart) error
	AttachTransaction(ctx context.Context, cartID, transactionID string) error
	Delete(ctx context.Context, cartID string) error
	GetByID(ctx context.Context, id string) (*models.Cart, error)
	UserHoldsItem(ctx context.Context, userID, itemID string) (bool, error)
	ListStale(ctx context.Context, state models.TransactionState, olderThan time.Time) ([]*models.Cart, error)
	LockByTransaction(ctx context.Context, transactionID string, fn func(tx repositories.CartTx) error) error
	LockByID(ctx context.Context, cartID string, fn func(tx repositories.CartTx) error) error
}

// StorageService stores ticket artifacts
type StorageService interface {
	// Upload stores the content and returns its public URL
	Upload(ctx context.Context, key string, reader io.Reader, contentType string, size int64) (string, error)
	Delete(ctx context.Context, key string) error
	GetURL(key string) string
	Exists(ctx context.Context, key string) (bool, error)
}

// Attachment is a file sent along with a mail
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Mail is a rendered message ready to be sent
type Mail struct {
	To          string
	Subject     string
	HTML        string
	Text        string
	Category    string
	Attachments []Attachment
}

// Mailer sends rendered mails
type Mailer interface {
	Send(ctx context.Context, mail *Mail) error
}

// TicketData is everything printed on a ticket
type TicketData struct {
	EventName   string
	CartID      string
	LineID      string
	ItemName    string
	HolderName  string
	OwnerName   string
	Price       int
	Currency    string
	PurchasedAt time.Time
}

// TicketRenderer turns a ticket line into a printable document
type TicketRenderer interface {
	RenderTicket(ticket *TicketData) ([]byte, error)
}

// CartEvent is published whenever a cart changes state
type CartEvent struct {
	CartID     string                  `json:"cartId"`
	UserID     string                  `json:"userId"`
	From       models.TransactionState `json:"from"`
	To         models.TransactionState `json:"to"`
	Source     models.TransitionSource `json:"source"`
	TotalPrice int                     `json:"totalPrice"`
	At         time.Time               `json:"at"`
}

// EventPublisher broadcasts cart lifecycle events
type EventPublisher interface {
	Publish(ctx context.Context, event *CartEvent) error
}

// Fulfiller runs the side effects of terminal transitions
type Fulfiller interface {
	OnPaid(ctx context.Context, cart *models.Cart) error
	OnCanceled(ctx context.Context, cart *models.Cart) error
	OnRefunded(ctx context.Context, cart *models.Cart) error
}

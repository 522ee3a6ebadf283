package services

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"
	"github.com/skip2/go-qrcode"
)

// PDFService renders printable tickets with a scannable code
type PDFService struct{}

// NewPDFService creates a new PDF service
func NewPDFService() *PDFService {
	return &PDFService{}
}

// TicketCode is the value encoded in a ticket's QR code
func TicketCode(ticket *TicketData) string {
	return fmt.Sprintf("%s:%s", ticket.CartID, ticket.LineID)
}

// RenderTicket renders a single A4 ticket
func (s *PDFService) RenderTicket(ticket *TicketData) ([]byte, error) {
	code, err := qrcode.Encode(TicketCode(ticket), qrcode.Medium, 512)
	if err != nil {
		return nil, fmt.Errorf("failed to encode ticket code: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("%s - %s", ticket.EventName, ticket.HolderName), true)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// header band
	pdf.SetFillColor(30, 30, 46)
	pdf.Rect(0, 0, 210, 40, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetXY(15, 12)
	pdf.CellFormat(180, 16, tr(ticket.EventName), "", 1, "L", false, 0, "")

	pdf.SetTextColor(0, 0, 0)
	pdf.SetXY(15, 55)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(110, 10, tr(ticket.ItemName), "", 2, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	rows := [][2]string{
		{"Holder", ticket.HolderName},
		{"Purchased by", ticket.OwnerName},
		{"Price", formatAmount(ticket.Price, ticket.Currency)},
		{"Date", ticket.PurchasedAt.Format("02/01/2006 15:04")},
		{"Order", ticket.CartID},
	}
	for _, row := range rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(32, 8, tr(row[0]), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(80, 8, tr(row[1]), "", 2, "L", false, 0, "")
		pdf.SetX(15)
	}

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(code))
	pdf.ImageOptions("qr", 135, 50, 60, 60, false, opts, 0, "")

	pdf.SetFont("Helvetica", "I", 9)
	pdf.SetXY(15, 270)
	pdf.MultiCell(180, 5, tr("This ticket is personal. Present it with an ID at the entrance."), "", "C", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render ticket PDF: %w", err)
	}
	return buf.Bytes(), nil
}

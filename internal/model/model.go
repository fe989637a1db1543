package model

import (
	"fmt"
	"strings"
	"time"
)

// Bogota is the reporting timezone. Invoice dates and report timestamps are
// rendered in UTC-5 regardless of what the mail provider returns.
var Bogota = time.FixedZone("America/Bogota", -5*60*60)

// Report statuses as they appear in the CONTROL worksheet.
const (
	StatusUploaded = "Cargado en Mutual Ser"
	StatusFailed   = "Factura NO CARGADA en Mutual Ser"
)

// InboxMessage is one unread invoice notification pulled from the mailbox.
// Identity is the provider message id; the attachment is the vendor-bound ZIP.
type InboxMessage struct {
	ID             string    `json:"id"`
	Subject        string    `json:"subject"`
	BodyHTML       string    `json:"body_html"`
	ReceivedAt     time.Time `json:"received_at"`
	AttachmentName string    `json:"attachment_name"`
	Attachment     []byte    `json:"-"`
}

// InvoiceRecord holds the fields extracted from a single message. It is
// immutable once extracted; Valid reports whether both mandatory fields
// could be located.
type InvoiceRecord struct {
	Number string    `json:"number"`
	Amount string    `json:"amount"` // canonical decimal, e.g. "5455.40"
	Date   time.Time `json:"date"`
}

// Valid reports whether the record carries both an invoice number and a total.
func (r InvoiceRecord) Valid() bool {
	return r.Number != "" && r.Amount != ""
}

// AmountDigits returns the total with the decimal separator stripped, the way
// the vendor expects it in filenames: 5455.40 -> "545540".
func (r InvoiceRecord) AmountDigits() string {
	return strings.ReplaceAll(r.Amount, ".", "")
}

// DateString renders the invoice date as dd/mm/yyyy in UTC-5.
func (r InvoiceRecord) DateString() string {
	if r.Date.IsZero() {
		return ""
	}
	return r.Date.In(Bogota).Format("02/01/2006")
}

// ZipName is the vendor-side name of the compressed package.
func (r InvoiceRecord) ZipName(nit string) string {
	return fmt.Sprintf("%s_%s.zip", r.Number, nit)
}

// PDFName is the publish name of the extracted document.
func (r InvoiceRecord) PDFName() string {
	return fmt.Sprintf("%s_%s.pdf", r.Number, r.AmountDigits())
}

// UploadOutcome is the vendor client's verdict for one message. Transport
// errors and vendor-side rejections both land here; nothing is raised past
// the client boundary.
type UploadOutcome struct {
	Succeeded   bool   `json:"succeeded"`
	LoadID      string `json:"load_id"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// ProcessedDocument is the renamed PDF extracted from the ZIP, ready for
// publishing. It only exists for messages whose vendor upload succeeded.
type ProcessedDocument struct {
	OriginalName string
	Name         string
	Content      []byte
}

// ReportRow is the audit record for one processed message. Every message that
// enters the pipeline produces exactly one row, success or failure.
type ReportRow struct {
	Subject       string    `json:"subject"`
	InvoiceNumber string    `json:"invoice_number"`
	LoadID        string    `json:"load_id"`
	TotalAmount   string    `json:"total_amount"`
	Status        string    `json:"status"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Succeeded reports whether the row records a completed vendor upload.
func (r ReportRow) Succeeded() bool {
	return r.Status == StatusUploaded
}

// Values renders the row as one spreadsheet line:
// Asunto, Factura, ID de cargue, Total, Status, Errores, Día, Mes, Año, Momento.
func (r ReportRow) Values() []interface{} {
	at := r.FinishedAt.In(Bogota)
	return []interface{}{
		r.Subject,
		r.InvoiceNumber,
		r.LoadID,
		r.TotalAmount,
		r.Status,
		r.ErrorDetail,
		at.Format("02"),
		at.Format("01"),
		at.Format("2006"),
		at.Format("15:04:05"),
	}
}

// ReportHeader matches Values column for column.
func ReportHeader() []interface{} {
	return []interface{}{"Asunto", "Factura", "ID de cargue", "Total", "Status", "Errores", "Día", "Mes", "Año", "Momento"}
}

// RunReport collects the rows of one batch in message-processing order.
type RunReport struct {
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Rows       []ReportRow `json:"rows"`
}

// Successes counts rows that recorded a completed upload.
func (r *RunReport) Successes() int {
	n := 0
	for _, row := range r.Rows {
		if row.Succeeded() {
			n++
		}
	}
	return n
}

// Failures counts rows that recorded a failed upload.
func (r *RunReport) Failures() int {
	return len(r.Rows) - r.Successes()
}

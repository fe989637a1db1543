package invoice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"invoice-relay-go/internal/model"
)

// ParseError signals that a mandatory invoice field could not be located in
// the message. The orchestrator records the message as failed; it is never
// retried.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invoice %s not found: %s", e.Field, e.Reason)
}

// totalExpr is the plain-text fallback when the body carries no usable HTML
// table, e.g. "Total: $ 5,455.40".
var totalExpr = regexp.MustCompile(`Total:\s*\$?\s*([\d.,]+)`)

// Parser extracts invoice fields from inbox messages. The extraction is
// deliberately loose pattern matching over a semi-structured body, isolated
// here so the strategy can change without touching the orchestrator.
type Parser struct{}

// NewParser creates a new invoice parser
func NewParser() *Parser {
	return &Parser{}
}

// Extract derives the InvoiceRecord for a message: the invoice number from
// the subject, the total amount from the body, and the invoice date from the
// message timestamp.
func (p *Parser) Extract(msg model.InboxMessage) (model.InvoiceRecord, error) {
	number := NumberFromSubject(msg.Subject)
	if number == "" {
		return model.InvoiceRecord{}, &ParseError{Field: "number", Reason: fmt.Sprintf("subject %q has no third field", msg.Subject)}
	}

	amount, err := p.totalFromBody(msg.BodyHTML)
	if err != nil {
		return model.InvoiceRecord{}, err
	}

	return model.InvoiceRecord{
		Number: number,
		Amount: amount,
		Date:   msg.ReceivedAt,
	}, nil
}

// NumberFromSubject returns the third semicolon-delimited subject field,
// e.g. "900073223;LOGIFARMA SAS;LGFM1574823;..." -> "LGFM1574823".
func NumberFromSubject(subject string) string {
	parts := strings.Split(subject, ";")
	if len(parts) < 3 {
		return ""
	}
	return strings.TrimSpace(parts[2])
}

// totalFromBody locates the invoice total. The notification emails carry a
// table row whose <b>Total:</b> label sits two cells to the left of the
// value; a regexp over the flattened text covers plain-text bodies.
func (p *Parser) totalFromBody(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", &ParseError{Field: "total", Reason: "empty body"}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", &ParseError{Field: "total", Reason: fmt.Sprintf("unparseable body: %v", err)}
	}

	var raw string
	doc.Find("b").EachWithBreak(func(_ int, b *goquery.Selection) bool {
		if strings.TrimSpace(b.Text()) != "Total:" {
			return true
		}
		cell := b.Closest("td")
		if cell.Length() == 0 {
			return true
		}
		value := cell.NextAllFiltered("td").Eq(1)
		if value.Length() == 0 {
			return true
		}
		raw = strings.TrimSpace(value.Text())
		return false
	})

	if raw == "" {
		if m := totalExpr.FindStringSubmatch(doc.Text()); len(m) == 2 {
			raw = m[1]
		}
	}

	if raw == "" {
		return "", &ParseError{Field: "total", Reason: "no Total: token in body"}
	}

	amount, err := NormalizeAmount(raw)
	if err != nil {
		return "", &ParseError{Field: "total", Reason: err.Error()}
	}
	return amount, nil
}

// NormalizeAmount converts a locale-formatted total into a canonical decimal
// with '.' as the separator and no grouping: "5,455.40" and "5.455,40" both
// become "5455.40".
func NormalizeAmount(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "$")

	if s == "" {
		return "", fmt.Errorf("empty amount")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the rightmost one is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// Comma only: decimal when it leaves at most two trailing digits and
		// appears once, grouping otherwise.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return "", fmt.Errorf("invalid amount %q", raw)
	}
	return s, nil
}

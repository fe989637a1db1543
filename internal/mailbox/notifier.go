package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/googleauth"
)

// Notification subject lines. The reason text decides which one applies.
const (
	subjectBasic         = "%s - Error cargando factura en Mutual Ser"
	subjectInconsistency = "%s - Inconsistencia en valor total de la factura"
	subjectRetryFailed   = "%s - No se pudo cargar la factura después de varios intentos"
)

// errorBodyTemplate is the HTML sent to the admin address for one failed
// invoice. Placeholders are ${var} substitutions like the templates the
// operations team maintains.
const errorBodyTemplate = `<html>
<body>
<p>Hola,</p>
<p>La factura <b>${nro_factura}</b> no pudo ser cargada en Mutual Ser.</p>
<p>Motivo: ${reason}</p>
<p>Este es un mensaje autom&aacute;tico del proceso de facturaci&oacute;n.</p>
</body>
</html>`

// Notifier sends error notification emails through the Gmail API.
type Notifier struct {
	service    *gmail.Service
	userEmail  string
	adminEmail string
	devEmail   string
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *config.GmailConfig, notify config.NotifyConfig) (*Notifier, error) {
	ctx := context.Background()

	tokenSource := googleauth.TokenSource(ctx, cfg, gmail.GmailSendScope)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &Notifier{
		service:    service,
		userEmail:  cfg.UserEmail,
		adminEmail: notify.AdminEmail,
		devEmail:   notify.DevEmail,
	}, nil
}

// NotifyInvoiceError tells the admin that one invoice failed. The dev address
// is BCC'd. Errors here are logged, never propagated: a broken notification
// must not change the outcome of the message that triggered it.
func (n *Notifier) NotifyInvoiceError(ctx context.Context, invoiceNumber, reason string) {
	subject := SubjectForReason(invoiceNumber, reason)
	body := strings.NewReplacer(
		"${nro_factura}", invoiceNumber,
		"${reason}", reason,
	).Replace(errorBodyTemplate)

	if err := n.send(ctx, n.adminEmail, subject, body); err != nil {
		logrus.Errorf("Failed to send error notification for invoice %s: %v", invoiceNumber, err)
	}
}

// NotifyBatchFailure reports that a whole run aborted, with the captured
// error text.
func (n *Notifier) NotifyBatchFailure(ctx context.Context, detail string) {
	subject := "Error en el proceso de carga de facturas"
	body := strings.NewReplacer(
		"${nro_factura}", "proceso completo",
		"${reason}", detail,
	).Replace(errorBodyTemplate)

	if err := n.send(ctx, n.adminEmail, subject, body); err != nil {
		logrus.Errorf("Failed to send batch failure notification: %v", err)
	}
}

// SubjectForReason picks the notification subject the way the operations
// templates expect: value inconsistencies and exhausted retries have their
// own lines, everything else gets the generic one.
func SubjectForReason(invoiceNumber, reason string) string {
	lower := strings.ToLower(reason)
	if strings.Contains(lower, "corresponde al valor total del servicio") {
		return fmt.Sprintf(subjectInconsistency, invoiceNumber)
	}
	if strings.Contains(lower, "intentos, no se cargó la factura") {
		return fmt.Sprintf(subjectRetryFailed, invoiceNumber)
	}
	return fmt.Sprintf(subjectBasic, invoiceNumber)
}

// send builds an RFC 2822 message and submits it through the Gmail API.
func (n *Notifier) send(ctx context.Context, to, subject, htmlBody string) error {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", n.userEmail))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	if n.devEmail != "" {
		b.WriteString(fmt.Sprintf("Bcc: %s\r\n", n.devEmail))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)

	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString([]byte(b.String())),
	}

	if _, err := n.service.Users.Messages.Send(n.userEmail, message).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

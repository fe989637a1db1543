package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"invoice-relay-go/internal/archive"
	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/invoice"
	"invoice-relay-go/internal/mailbox"
	"invoice-relay-go/internal/metrics"
	"invoice-relay-go/internal/model"
)

// Uploader is the vendor API boundary.
type Uploader interface {
	Upload(ctx context.Context, zipName string, blob []byte) model.UploadOutcome
}

// Publisher is the document storage boundary.
type Publisher interface {
	Publish(ctx context.Context, doc model.ProcessedDocument) (string, error)
}

// Reporter is the spreadsheet boundary.
type Reporter interface {
	PublishReport(ctx context.Context, report *model.RunReport) error
}

// Notifier sends error emails.
type Notifier interface {
	NotifyInvoiceError(ctx context.Context, invoiceNumber, reason string)
	NotifyBatchFailure(ctx context.Context, detail string)
}

// Archiver optionally mirrors report rows into a database.
type Archiver interface {
	ArchiveReport(report *model.RunReport) error
}

// Orchestrator drives one batch: it pulls up to the configured cap of unread
// matching messages and walks each through
// Fetched -> Parsed -> Uploaded -> Repackaged -> Published -> MarkedRead,
// or into Failed. Every message yields exactly one report row; messages are
// processed strictly one at a time.
type Orchestrator struct {
	cap       int
	nit       string
	source    mailbox.Source
	parser    *invoice.Parser
	uploader  Uploader
	publisher Publisher
	reporter  Reporter
	notifier  Notifier
	archiver  Archiver
	metrics   *metrics.Metrics
}

// NewOrchestrator wires the pipeline. archiver may be nil when the report
// archive is disabled.
func NewOrchestrator(cfg config.BatchConfig, nit string, source mailbox.Source, parser *invoice.Parser,
	uploader Uploader, publisher Publisher, reporter Reporter, notifier Notifier,
	archiver Archiver, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cap:       cfg.Cap,
		nit:       nit,
		source:    source,
		parser:    parser,
		uploader:  uploader,
		publisher: publisher,
		reporter:  reporter,
		notifier:  notifier,
		archiver:  archiver,
		metrics:   m,
	}
}

// Run executes one batch. It returns an error only when the inbox cannot be
// enumerated at all or the run aborted; per-message failures surface as
// failed report rows, never as an error.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunReport, error) {
	o.metrics.BatchRuns.Inc()
	report := &model.RunReport{StartedAt: time.Now()}

	logrus.Info("Starting invoice batch run")

	messages, err := o.source.ListUnread(ctx, o.cap)
	if err != nil {
		detail := fmt.Sprintf("cannot enumerate unread messages: %v", err)
		logrus.Error(detail)
		o.notifier.NotifyBatchFailure(ctx, detail)
		o.metrics.BatchAborts.Inc()
		return nil, fmt.Errorf("batch aborted: %s", detail)
	}

	o.metrics.MessagesFetched.Add(float64(len(messages)))
	logrus.Infof("Fetched %d matching unread messages", len(messages))

	consecutiveFaults := 0
	aborted := false
	var lastFault string

	for idx, msg := range messages {
		logrus.Infof("%s INICIANDO (%d/%d), subject %q", msg.ID, idx+1, len(messages), msg.Subject)

		row, fault := o.processMessage(ctx, msg)
		report.Rows = append(report.Rows, row)

		if fault {
			consecutiveFaults++
			lastFault = row.ErrorDetail
			if consecutiveFaults >= 2 {
				aborted = true
				break
			}
		} else {
			consecutiveFaults = 0
		}
	}

	report.FinishedAt = time.Now()
	o.metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	if aborted {
		detail := fmt.Sprintf("batch aborted after two consecutive unrecoverable faults; last: %s", lastFault)
		logrus.Error(detail)
		o.notifier.NotifyBatchFailure(ctx, detail)
		o.metrics.BatchAborts.Inc()
		return report, fmt.Errorf("batch aborted: %s", lastFault)
	}

	if err := o.reporter.PublishReport(ctx, report); err != nil {
		logrus.Errorf("Failed to publish run report: %v", err)
	}

	if o.archiver != nil {
		if err := o.archiver.ArchiveReport(report); err != nil {
			logrus.Errorf("Failed to archive run report: %v", err)
		}
	}

	logrus.Infof("Batch run finished: %d messages, %d uploaded, %d failed",
		len(report.Rows), report.Successes(), report.Failures())
	return report, nil
}

// processMessage runs the state machine for one message. fault is true only
// when the failure was a recovered panic, i.e. outside the normal error
// taxonomy; those count towards the batch abort threshold.
func (o *Orchestrator) processMessage(ctx context.Context, msg model.InboxMessage) (row model.ReportRow, fault bool) {
	row = model.ReportRow{
		Subject:       msg.Subject,
		InvoiceNumber: invoice.NumberFromSubject(msg.Subject),
	}

	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("%s panic while processing: %v", msg.ID, r)
			o.failRow(ctx, &row, fmt.Sprintf("unexpected error: %v", r))
			fault = true
		}
	}()

	// Fetched -> Parsed
	record, err := o.parser.Extract(msg)
	if err != nil {
		logrus.Warnf("%s parse failed: %v", msg.ID, err)
		o.failRow(ctx, &row, err.Error())
		return row, false
	}
	row.InvoiceNumber = record.Number
	row.TotalAmount = record.Amount

	if len(msg.Attachment) == 0 {
		o.failRow(ctx, &row, "Archivo no encontrado al intentar ser enviado a Mutualser")
		return row, false
	}

	// Parsed -> Uploaded
	logrus.Infof("%s %s Enviando a Mutual Ser", msg.ID, record.Number)
	outcome := o.uploader.Upload(ctx, record.ZipName(o.nit), msg.Attachment)
	row.LoadID = outcome.LoadID
	if !outcome.Succeeded {
		logrus.Warnf("%s %s upload failed: %s", msg.ID, record.Number, outcome.ErrorDetail)
		o.failRow(ctx, &row, outcome.ErrorDetail)
		return row, false
	}
	o.metrics.UploadSuccesses.Inc()

	// Uploaded -> Repackaged. A bad archive leaves the message unread and the
	// row failed even though the vendor accepted the package.
	doc, err := archive.Repackage(msg.Attachment, record)
	if err != nil {
		logrus.Errorf("%s %s repackage failed: %v", msg.ID, record.Number, err)
		o.failRow(ctx, &row, err.Error())
		return row, false
	}

	row.Status = model.StatusUploaded

	// Repackaged -> Published. A publish failure after a successful vendor
	// upload is a known inconsistency window: the row stays successful and the
	// message is still marked read; there is no compensating rollback.
	logrus.Infof("%s %s siendo cargado en Drive", msg.ID, doc.Name)
	if _, err := o.publisher.Publish(ctx, doc); err != nil {
		logrus.Errorf("%s publish failed after successful upload: %v", msg.ID, err)
		o.metrics.PublishFailures.Inc()
		row.ErrorDetail = fmt.Sprintf("factura cargada; error publicando PDF: %v", err)
	}

	// Published -> MarkedRead. A mark-read failure is logged only; the invoice
	// was already correctly processed downstream.
	if err := o.source.MarkRead(ctx, msg.ID); err != nil {
		logrus.Errorf("%s failed to mark read: %v", msg.ID, err)
	}

	row.FinishedAt = time.Now()
	logrus.Infof("%s %s FINALIZADO", msg.ID, record.Number)
	return row, false
}

// failRow finalizes a failed row and fans the reason out to the admin.
func (o *Orchestrator) failRow(ctx context.Context, row *model.ReportRow, reason string) {
	row.Status = model.StatusFailed
	row.ErrorDetail = reason
	row.FinishedAt = time.Now()
	o.metrics.UploadFailures.Inc()

	number := row.InvoiceNumber
	if number == "" {
		number = "desconocida"
	}
	o.notifier.NotifyInvoiceError(ctx, number, reason)
}

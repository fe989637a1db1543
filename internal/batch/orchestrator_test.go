package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/invoice"
	"invoice-relay-go/internal/metrics"
	"invoice-relay-go/internal/model"
)

// One metrics set for the whole test binary; promauto registers globally.
var testMetrics = metrics.NewMetrics()

type fakeSource struct {
	messages []model.InboxMessage
	listErr  error
	gotLimit int
	read     []string
	readErr  error
}

func (s *fakeSource) ListUnread(_ context.Context, limit int) ([]model.InboxMessage, error) {
	s.gotLimit = limit
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.messages, nil
}

func (s *fakeSource) MarkRead(_ context.Context, id string) error {
	s.read = append(s.read, id)
	return s.readErr
}

func (s *fakeSource) Close() error { return nil }

type fakeUploader struct {
	fn    func(zipName string) model.UploadOutcome
	calls []string
}

func (u *fakeUploader) Upload(_ context.Context, zipName string, _ []byte) model.UploadOutcome {
	u.calls = append(u.calls, zipName)
	if u.fn != nil {
		return u.fn(zipName)
	}
	return model.UploadOutcome{Succeeded: true, LoadID: "load-" + zipName}
}

type fakePublisher struct {
	err       error
	published []model.ProcessedDocument
}

func (p *fakePublisher) Publish(_ context.Context, doc model.ProcessedDocument) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.published = append(p.published, doc)
	return "file-id", nil
}

type fakeReporter struct {
	err     error
	reports []*model.RunReport
}

func (r *fakeReporter) PublishReport(_ context.Context, report *model.RunReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

type fakeNotifier struct {
	invoiceErrors []string
	batchFailures []string
}

func (n *fakeNotifier) NotifyInvoiceError(_ context.Context, number, reason string) {
	n.invoiceErrors = append(n.invoiceErrors, number+": "+reason)
}

func (n *fakeNotifier) NotifyBatchFailure(_ context.Context, detail string) {
	n.batchFailures = append(n.batchFailures, detail)
}

type fakeArchiver struct {
	archived []*model.RunReport
}

func (a *fakeArchiver) ArchiveReport(report *model.RunReport) error {
	a.archived = append(a.archived, report)
	return nil
}

func zipWithPDF(t *testing.T, pdfName string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(pdfName)
	require.NoError(t, err)
	_, err = f.Write([]byte("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func invoiceMessage(t *testing.T, id, number string) model.InboxMessage {
	t.Helper()
	return model.InboxMessage{
		ID:         id,
		Subject:    fmt.Sprintf("900073223;LOGIFARMA SAS;%s;FACTURA ELECTRONICA", number),
		BodyHTML:   "Total: $ 5,455.40",
		Attachment: zipWithPDF(t, "fv-"+number+".pdf"),
	}
}

type deps struct {
	source    *fakeSource
	uploader  *fakeUploader
	publisher *fakePublisher
	reporter  *fakeReporter
	notifier  *fakeNotifier
	archiver  *fakeArchiver
}

func newOrchestrator(d *deps) *Orchestrator {
	var archiver Archiver
	if d.archiver != nil {
		archiver = d.archiver
	}
	return NewOrchestrator(config.BatchConfig{Cap: 200}, "900073223", d.source, invoice.NewParser(),
		d.uploader, d.publisher, d.reporter, d.notifier, archiver, testMetrics)
}

func TestRunHappyPath(t *testing.T) {
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{
			invoiceMessage(t, "m1", "LGFM1574823"),
			invoiceMessage(t, "m2", "LGFM1574824"),
		}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
		archiver:  &fakeArchiver{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 200, d.source.gotLimit)
	require.Len(t, report.Rows, 2)
	assert.Equal(t, "LGFM1574823", report.Rows[0].InvoiceNumber)
	assert.Equal(t, "LGFM1574824", report.Rows[1].InvoiceNumber)
	assert.Equal(t, model.StatusUploaded, report.Rows[0].Status)
	assert.Equal(t, 2, report.Successes())
	assert.Equal(t, 0, report.Failures())

	assert.Equal(t, []string{"LGFM1574823_900073223.zip", "LGFM1574824_900073223.zip"}, d.uploader.calls)
	assert.Equal(t, []string{"m1", "m2"}, d.source.read)
	require.Len(t, d.publisher.published, 2)
	assert.Equal(t, "LGFM1574823_545540.pdf", d.publisher.published[0].Name)

	require.Len(t, d.reporter.reports, 1)
	assert.Same(t, report, d.reporter.reports[0])
	assert.Len(t, d.archiver.archived, 1)
	assert.Empty(t, d.notifier.invoiceErrors)
}

func TestRunUploadFailureLeavesUnread(t *testing.T) {
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{
			invoiceMessage(t, "m1", "LGFM1574823"),
		}},
		uploader: &fakeUploader{fn: func(string) model.UploadOutcome {
			return model.UploadOutcome{Succeeded: false, LoadID: "load-1", ErrorDetail: "E001. Factura duplicada"}
		}},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, model.StatusFailed, row.Status)
	assert.Equal(t, "load-1", row.LoadID)
	assert.Equal(t, "E001. Factura duplicada", row.ErrorDetail)

	assert.Empty(t, d.source.read, "failed messages must stay unread")
	assert.Empty(t, d.publisher.published)
	require.Len(t, d.notifier.invoiceErrors, 1)
	assert.Contains(t, d.notifier.invoiceErrors[0], "LGFM1574823")
}

func TestRunPublishFailureStillMarksRead(t *testing.T) {
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{
			invoiceMessage(t, "m1", "LGFM1574823"),
		}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{err: errors.New("drive quota exceeded")},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	row := report.Rows[0]
	assert.Equal(t, model.StatusUploaded, row.Status, "vendor accepted the invoice, the row stays successful")
	assert.Contains(t, row.ErrorDetail, "error publicando PDF")
	assert.Equal(t, []string{"m1"}, d.source.read)
	assert.Empty(t, d.notifier.invoiceErrors)
}

func TestRunRepackageFailureLeavesUnread(t *testing.T) {
	msg := invoiceMessage(t, "m1", "LGFM1574823")
	msg.Attachment = []byte("not a zip") // vendor accepts it, local repackaging cannot

	d := &deps{
		source:    &fakeSource{messages: []model.InboxMessage{msg}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, model.StatusFailed, report.Rows[0].Status)
	assert.Empty(t, d.source.read)
	assert.Empty(t, d.publisher.published)
}

func TestRunParseFailure(t *testing.T) {
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{{
			ID:      "m1",
			Subject: "otra cosa sin formato",
		}}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, model.StatusFailed, report.Rows[0].Status)
	assert.Empty(t, d.uploader.calls)
	require.Len(t, d.notifier.invoiceErrors, 1)
	assert.Contains(t, d.notifier.invoiceErrors[0], "desconocida")
}

func TestRunMissingAttachment(t *testing.T) {
	msg := invoiceMessage(t, "m1", "LGFM1574823")
	msg.Attachment = nil

	d := &deps{
		source:    &fakeSource{messages: []model.InboxMessage{msg}},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, "Archivo no encontrado al intentar ser enviado a Mutualser", report.Rows[0].ErrorDetail)
	assert.Empty(t, d.uploader.calls)
}

func TestRunAbortsAfterTwoConsecutivePanics(t *testing.T) {
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{
			invoiceMessage(t, "m1", "LGFM1574823"),
			invoiceMessage(t, "m2", "LGFM1574824"),
			invoiceMessage(t, "m3", "LGFM1574825"),
		}},
		uploader: &fakeUploader{fn: func(string) model.UploadOutcome {
			panic("vendor client corrupted")
		}},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch aborted")

	require.NotNil(t, report)
	assert.Len(t, report.Rows, 2, "third message is never attempted")
	assert.Empty(t, d.reporter.reports, "aborted runs publish no report")
	require.Len(t, d.notifier.batchFailures, 1)
	assert.Contains(t, d.notifier.batchFailures[0], "unexpected error")
}

func TestRunRecoversFromSinglePanic(t *testing.T) {
	var calls int
	d := &deps{
		source: &fakeSource{messages: []model.InboxMessage{
			invoiceMessage(t, "m1", "LGFM1574823"),
			invoiceMessage(t, "m2", "LGFM1574824"),
			invoiceMessage(t, "m3", "LGFM1574825"),
		}},
		uploader: &fakeUploader{fn: func(zipName string) model.UploadOutcome {
			calls++
			if calls == 1 {
				panic("transient")
			}
			return model.UploadOutcome{Succeeded: true, LoadID: "load-" + zipName}
		}},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, report.Rows, 3)
	assert.Equal(t, 2, report.Successes())
	assert.Equal(t, 1, report.Failures())
	assert.Empty(t, d.notifier.batchFailures)
	assert.Len(t, d.reporter.reports, 1)
}

func TestRunListError(t *testing.T) {
	d := &deps{
		source:    &fakeSource{listErr: errors.New("gmail unavailable")},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	require.Len(t, d.notifier.batchFailures, 1)
	assert.Contains(t, d.notifier.batchFailures[0], "gmail unavailable")
	assert.Empty(t, d.reporter.reports)
}

func TestRunEmptyInbox(t *testing.T) {
	d := &deps{
		source:    &fakeSource{},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Rows)
	require.Len(t, d.reporter.reports, 1, "the reporter decides what an empty report means")
}

func TestRunMarkReadFailureIsTolerated(t *testing.T) {
	d := &deps{
		source: &fakeSource{
			messages: []model.InboxMessage{invoiceMessage(t, "m1", "LGFM1574823")},
			readErr:  errors.New("message gone"),
		},
		uploader:  &fakeUploader{},
		publisher: &fakePublisher{},
		reporter:  &fakeReporter{},
		notifier:  &fakeNotifier{},
	}

	report, err := newOrchestrator(d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StatusUploaded, report.Rows[0].Status)
	assert.Empty(t, d.notifier.invoiceErrors)
}

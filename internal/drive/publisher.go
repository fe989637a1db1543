package drive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/googleauth"
	"invoice-relay-go/internal/model"
)

// Publisher uploads processed invoice documents to the FacturasPDF folder in
// Google Drive. One network call per document; failures are reported to the
// caller but never roll back anything upstream.
type Publisher struct {
	service  *drive.Service
	folderID string
}

// NewPublisher creates a new Drive publisher
func NewPublisher(cfg *config.GmailConfig, driveCfg config.DriveConfig) (*Publisher, error) {
	ctx := context.Background()

	tokenSource := googleauth.TokenSource(ctx, cfg, drive.DriveFileScope)

	service, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Drive service: %w", err)
	}

	return &Publisher{
		service:  service,
		folderID: driveCfg.FacturasPDFFolderID,
	}, nil
}

// Publish uploads the document into the destination folder and returns the
// created file id.
func (p *Publisher) Publish(ctx context.Context, doc model.ProcessedDocument) (string, error) {
	meta := &drive.File{
		Name:    doc.Name,
		Parents: []string{p.folderID},
	}

	file, err := p.service.Files.Create(meta).
		Media(bytes.NewReader(doc.Content)).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("failed to publish %s to Drive: %w", doc.Name, err)
	}

	logrus.Infof("Published %s to Drive as %s", doc.Name, file.Id)
	return file.Id, nil
}

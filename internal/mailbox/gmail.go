package mailbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/googleauth"
	"invoice-relay-go/internal/model"
)

// GmailSource implements Source against the Gmail API.
type GmailSource struct {
	service       *gmail.Service
	userEmail     string
	subjectPrefix string
}

// NewGmailSource creates a new Gmail-backed message source.
func NewGmailSource(cfg *config.GmailConfig, filter config.FilterConfig) (*GmailSource, error) {
	ctx := context.Background()

	tokenSource := googleauth.TokenSource(ctx, cfg, gmail.GmailModifyScope)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSource{
		service:       service,
		userEmail:     cfg.UserEmail,
		subjectPrefix: filter.SubjectPrefix(),
	}, nil
}

// ListUnread pages through unread messages matching the subject filter and
// returns at most limit of them, with body and ZIP attachment loaded.
func (s *GmailSource) ListUnread(ctx context.Context, limit int) ([]model.InboxMessage, error) {
	query := fmt.Sprintf(`is:unread subject:"%s;"`, s.subjectPrefix)

	var ids []string
	pageToken := ""
	for len(ids) < limit {
		call := s.service.Users.Messages.List(s.userEmail).Q(query).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list messages: %w", err)
		}
		for _, m := range response.Messages {
			ids = append(ids, m.Id)
		}
		pageToken = response.NextPageToken
		if pageToken == "" {
			break
		}
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	var messages []model.InboxMessage
	for _, id := range ids {
		msg, err := s.fetchMessage(ctx, id)
		if err != nil {
			logrus.Warnf("Failed to fetch message %s: %v", id, err)
			continue
		}
		if !MatchesFilter(msg.Subject, s.subjectPrefix) {
			logrus.Debugf("Message %s subject %q does not match filter, skipping", id, msg.Subject)
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// fetchMessage loads subject, date, HTML body and the ZIP attachment for one id.
func (s *GmailSource) fetchMessage(ctx context.Context, id string) (model.InboxMessage, error) {
	full, err := s.service.Users.Messages.Get(s.userEmail, id).Format("full").Context(ctx).Do()
	if err != nil {
		return model.InboxMessage{}, fmt.Errorf("failed to get message: %w", err)
	}

	msg := model.InboxMessage{
		ID:         id,
		ReceivedAt: time.UnixMilli(full.InternalDate).UTC(),
	}

	for _, header := range full.Payload.Headers {
		if header.Name == "Subject" {
			msg.Subject = header.Value
		}
	}

	if err := s.collectParts(ctx, id, full.Payload, &msg); err != nil {
		return model.InboxMessage{}, err
	}

	return msg, nil
}

// collectParts walks the MIME tree picking up the HTML body and the first ZIP
// attachment.
func (s *GmailSource) collectParts(ctx context.Context, id string, part *gmail.MessagePart, msg *model.InboxMessage) error {
	if part.Body != nil && part.Body.AttachmentId != "" && msg.Attachment == nil {
		if strings.HasSuffix(strings.ToLower(part.Filename), ".zip") {
			att, err := s.service.Users.Messages.Attachments.Get(s.userEmail, id, part.Body.AttachmentId).Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to get attachment: %w", err)
			}
			data, err := base64.URLEncoding.DecodeString(att.Data)
			if err != nil {
				return fmt.Errorf("failed to decode attachment data: %w", err)
			}
			msg.AttachmentName = part.Filename
			msg.Attachment = data
		}
	} else if part.MimeType == "text/html" && part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}
		msg.BodyHTML = string(data)
	}

	for _, sub := range part.Parts {
		if err := s.collectParts(ctx, id, sub, msg); err != nil {
			return err
		}
	}

	return nil
}

// MarkRead removes the UNREAD label. Idempotent; ErrMessageGone when the
// message has vanished.
func (s *GmailSource) MarkRead(ctx context.Context, messageID string) error {
	_, err := s.service.Users.Messages.Modify(s.userEmail, messageID, &gmail.ModifyMessageRequest{
		RemoveLabelIds: []string{"UNREAD"},
	}).Context(ctx).Do()
	if err != nil {
		if gerr, ok := err.(*googleapi.Error); ok && gerr.Code == 404 {
			return fmt.Errorf("%w: %s", ErrMessageGone, messageID)
		}
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// Close closes the Gmail source (no-op for the Gmail API).
func (s *GmailSource) Close() error {
	return nil
}

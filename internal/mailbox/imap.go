package mailbox

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"invoice-relay-go/internal/config"
	"invoice-relay-go/internal/model"
)

// IMAPSource implements Source over IMAP for mailboxes without Gmail API
// access. Message identity is the IMAP UID rendered as a string.
type IMAPSource struct {
	client        *client.Client
	subjectPrefix string
}

// NewIMAPSource connects and logs in to the IMAP server.
func NewIMAPSource(cfg *config.GmailConfig, filter config.FilterConfig) (*IMAPSource, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	return &IMAPSource{
		client:        c,
		subjectPrefix: filter.SubjectPrefix(),
	}, nil
}

// ListUnread searches INBOX for unseen messages with a matching subject and
// loads body plus ZIP attachment for at most limit of them.
func (s *IMAPSource) ListUnread(ctx context.Context, limit int) ([]model.InboxMessage, error) {
	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Header.Add("Subject", s.subjectPrefix+";")

	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		return nil, nil
	}
	if len(uids) > limit {
		uids = uids[:limit]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- s.client.UidFetch(seqset, items, messages)
	}()

	var result []model.InboxMessage
	for raw := range messages {
		msg, err := s.parseMessage(raw, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		if !MatchesFilter(msg.Subject, s.subjectPrefix) {
			continue
		}
		result = append(result, msg)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// parseMessage converts one fetched message into an InboxMessage.
func (s *IMAPSource) parseMessage(raw *imap.Message, section *imap.BodySectionName) (model.InboxMessage, error) {
	msg := model.InboxMessage{
		ID: strconv.FormatUint(uint64(raw.Uid), 10),
	}

	if raw.Envelope != nil {
		msg.Subject = raw.Envelope.Subject
		msg.ReceivedAt = raw.Envelope.Date.UTC()
	}

	r := raw.GetBody(section)
	if r == nil {
		return msg, fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil {
		return msg, fmt.Errorf("failed to read message: %w", err)
	}

	if err := s.collectParts(entity, &msg); err != nil {
		return msg, err
	}

	return msg, nil
}

// collectParts walks the MIME tree picking up the HTML body and the first ZIP
// attachment.
func (s *IMAPSource) collectParts(entity *message.Entity, msg *model.InboxMessage) error {
	mr := entity.MultipartReader()
	if mr == nil {
		return s.collectPart(entity, msg)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}
		if err := s.collectParts(p, msg); err != nil {
			return err
		}
	}
	return nil
}

func (s *IMAPSource) collectPart(entity *message.Entity, msg *model.InboxMessage) error {
	if disp, params, err := mime.ParseMediaType(entity.Header.Get("Content-Disposition")); err == nil && disp == "attachment" {
		filename := params["filename"]
		if msg.Attachment == nil && strings.HasSuffix(strings.ToLower(filename), ".zip") {
			content, err := io.ReadAll(entity.Body)
			if err != nil {
				return fmt.Errorf("failed to read attachment: %w", err)
			}
			msg.AttachmentName = filename
			msg.Attachment = content
		}
		return nil
	}

	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		msg.BodyHTML = string(content)
	}
	return nil
}

// MarkRead sets the \Seen flag on the message.
func (s *IMAPSource) MarkRead(ctx context.Context, messageID string) error {
	uid, err := strconv.ParseUint(messageID, 10, 32)
	if err != nil {
		return fmt.Errorf("invalid IMAP message id %q: %w", messageID, err)
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uint32(uid))

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil); err != nil {
		return fmt.Errorf("failed to mark message %s read: %w", messageID, err)
	}
	return nil
}

// Close logs out from the IMAP server.
func (s *IMAPSource) Close() error {
	return s.client.Logout()
}

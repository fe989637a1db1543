package mailbox

import (
	"context"
	"errors"
	"strings"

	"invoice-relay-go/internal/model"
)

// ErrMessageGone is returned by MarkRead when the message no longer exists at
// the provider.
var ErrMessageGone = errors.New("mailbox: message no longer exists")

// Source lists unread invoice notifications and can flip their read state.
// Implementations filter by subject before handing messages to the
// orchestrator and never return more than the requested limit.
type Source interface {
	ListUnread(ctx context.Context, limit int) ([]model.InboxMessage, error)
	MarkRead(ctx context.Context, messageID string) error
	Close() error
}

// MatchesFilter reports whether the part of the subject before the second
// semicolon equals the configured prefix. Subjects look like
// "<NIT>;<Company>;<invoice>;...".
func MatchesFilter(subject, prefix string) bool {
	parts := strings.SplitN(subject, ";", 3)
	if len(parts) < 3 {
		return false
	}
	return parts[0]+";"+parts[1] == prefix
}

package googleauth

import (
	"context"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"invoice-relay-go/internal/config"
)

// TokenSource builds an OAuth2 token source from the configured refresh
// token. All Google services (Gmail, Drive, Sheets) share the same offline
// credentials.
func TokenSource(ctx context.Context, cfg *config.GmailConfig, scopes ...string) oauth2.TokenSource {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       scopes,
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{
		RefreshToken: cfg.RefreshToken,
	}

	return oauth2Config.TokenSource(ctx, token)
}

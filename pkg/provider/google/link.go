package google

import (
	"context"
	"fmt"

	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/pkg/account"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Linker runs the offline-consent flow that turns an authorization code into a GoogleCalendar account.
type Linker struct {
	oauthConfig *oauth2.Config
	calendarId  string
	endpoint    string
}

func NewLinker(cfg config.Google, opts ...Option) *Linker {
	client := NewClient(cfg, opts...)
	return &Linker{oauthConfig: client.oauthConfig, calendarId: client.calendarId, endpoint: client.endpoint}
}

// AuthCodeURL is the consent page the user has to visit. Consent is forced so Google returns a refresh token.
func (l *Linker) AuthCodeURL(state string) string {
	return l.oauthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades code for tokens and describes the linked account. The account email is the id of the
// configured calendar, which for "primary" is the user's address.
func (l *Linker) Exchange(ctx context.Context, code string) (account.Account, error) {
	token, err := l.oauthConfig.Exchange(ctx, code)
	if err != nil {
		err := fmt.Errorf("unable to exchange code for token: %w", err)
		log.Error(err)
		return account.Account{}, err
	}
	if token.RefreshToken == "" {
		return account.Account{}, fmt.Errorf("google did not return a refresh token")
	}

	opts := []option.ClientOption{option.WithHTTPClient(l.oauthConfig.Client(ctx, token))}
	if l.endpoint != "" {
		opts = append(opts, option.WithEndpoint(l.endpoint))
	}
	service, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return account.Account{}, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	entry, err := service.CalendarList.Get(l.calendarId).Context(ctx).Do()
	if err != nil {
		err := fmt.Errorf("unable to read calendar %s: %w", l.calendarId, err)
		log.Error(err)
		return account.Account{}, err
	}

	return account.Account{
		Email:        entry.Id,
		Type:         account.GoogleCalendar,
		RefreshToken: token.RefreshToken,
		UserInfo:     account.UserInfo{Email: entry.Id, DisplayName: entry.Summary},
	}, nil
}

// Package auth provides OAuth2 credentials for the Google Calendar API and
// keeps the token in the database between runs.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/00083ns/mtgnotif/internal/model"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAuthRequired is matched by every error that needs an operator to
// (re)authorize calendar access.
var ErrAuthRequired = errors.New("auth: authorization required")

// RequiredError carries the URL an operator must visit to grant access.
type RequiredError struct {
	AuthURL string
	Err     error
}

func (e *RequiredError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization required: %v", e.Err)
	}
	return "authorization required"
}

func (e *RequiredError) Unwrap() error { return e.Err }

func (e *RequiredError) Is(target error) bool { return target == ErrAuthRequired }

// Provider hands out authorized HTTP clients for a single calendar account.
type Provider struct {
	oauth     *oauth2.Config
	db        *gorm.DB
	account   string
	tokenPath string
	logger    *zap.Logger
}

// NewProvider reads the OAuth client definition (credentials.json) and
// returns a Provider storing tokens in db.
func NewProvider(credentialsPath, tokenPath, account string, db *gorm.DB, logger *zap.Logger) (*Provider, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("auth: read credentials %s: %w", credentialsPath, err)
	}
	cfg, err := google.ConfigFromJSON(data, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("auth: parse credentials %s: %w", credentialsPath, err)
	}
	return NewProviderWithConfig(cfg, tokenPath, account, db, logger), nil
}

// NewProviderWithConfig returns a Provider for an already built OAuth config.
func NewProviderWithConfig(cfg *oauth2.Config, tokenPath, account string, db *gorm.DB, logger *zap.Logger) *Provider {
	return &Provider{
		oauth:     cfg,
		db:        db,
		account:   account,
		tokenPath: tokenPath,
		logger:    logger,
	}
}

// AuthURL returns the consent page URL for offline access.
func (p *Provider) AuthURL() string {
	return p.oauth.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and stores it.
func (p *Provider) Exchange(ctx context.Context, code string) error {
	tok, err := p.oauth.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("auth: exchange code: %w", err)
	}
	if err := p.saveToken(ctx, tok); err != nil {
		return err
	}
	p.logger.Info("auth: stored token from authorization code", zap.String("account", p.account))
	return nil
}

// Client returns an HTTP client authorized for the calendar API. Refreshed
// tokens are written back to storage. A missing, expired-beyond-refresh or
// revoked token yields a *RequiredError.
func (p *Provider) Client(ctx context.Context) (*http.Client, error) {
	tok, err := p.loadToken(ctx)
	if err != nil {
		if errors.Is(err, ErrAuthRequired) {
			return nil, p.required(err)
		}
		return nil, err
	}

	src := &storingTokenSource{
		base:     p.oauth.TokenSource(ctx, tok),
		provider: p,
		ctx:      ctx,
		last:     tok.AccessToken,
	}
	if _, err := src.Token(); err != nil {
		if isRevoked(err) {
			return nil, p.required(err)
		}
		return nil, fmt.Errorf("auth: refresh token: %w", err)
	}
	return oauth2.NewClient(ctx, src), nil
}

func (p *Provider) required(err error) error {
	return &RequiredError{AuthURL: p.AuthURL(), Err: err}
}

func (p *Provider) loadToken(ctx context.Context) (*oauth2.Token, error) {
	var row model.Token
	err := p.db.WithContext(ctx).First(&row, "account = ?", p.account).Error
	if err == nil {
		return row.OAuth2(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("auth: load token: %w", err)
	}

	tok, ierr := p.importTokenFile()
	if ierr != nil {
		p.logger.Warn("auth: no stored token", zap.String("account", p.account), zap.Error(ierr))
		return nil, fmt.Errorf("%w: no token for account %q", ErrAuthRequired, p.account)
	}
	if err := p.saveToken(ctx, tok); err != nil {
		return nil, err
	}
	p.logger.Info("auth: imported token file", zap.String("path", p.tokenPath))
	return tok, nil
}

// authorizedUser is the token.json layout written by Google's quickstart tools.
type authorizedUser struct {
	Type         string `json:"type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

func (p *Provider) importTokenFile() (*oauth2.Token, error) {
	if p.tokenPath == "" {
		return nil, errors.New("token path not configured")
	}
	data, err := os.ReadFile(p.tokenPath)
	if err != nil {
		return nil, err
	}
	var au authorizedUser
	if err := json.Unmarshal(data, &au); err != nil {
		return nil, fmt.Errorf("parse %s: %w", p.tokenPath, err)
	}
	if au.RefreshToken == "" {
		return nil, fmt.Errorf("%s has no refresh_token", p.tokenPath)
	}
	return &oauth2.Token{RefreshToken: au.RefreshToken}, nil
}

func (p *Provider) saveToken(ctx context.Context, tok *oauth2.Token) error {
	row := model.NewToken(p.account, tok)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("auth: save token: %w", err)
	}
	return nil
}

// storingTokenSource persists every new access token issued by base.
type storingTokenSource struct {
	base     oauth2.TokenSource
	provider *Provider
	ctx      context.Context

	mu   sync.Mutex
	last string
}

func (s *storingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken == s.last {
		return tok, nil
	}
	if err := s.provider.saveToken(context.WithoutCancel(s.ctx), tok); err != nil {
		s.provider.logger.Error("auth: persist refreshed token", zap.Error(err))
	} else {
		s.provider.logger.Debug("auth: token refreshed", zap.String("account", s.provider.account))
	}
	s.last = tok.AccessToken
	return tok, nil
}

func isRevoked(err error) bool {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.ErrorCode == "invalid_grant" || strings.Contains(string(rerr.Body), "invalid_grant")
}

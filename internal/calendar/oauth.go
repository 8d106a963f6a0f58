package calendar

import (
	"context"
	"crypto/rand"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/sync/singleflight"
	gcal "google.golang.org/api/calendar/v3"
	"gwi.com/calendar-assistant/internal/apperr"
	"gwi.com/calendar-assistant/internal/logger"
	"gwi.com/calendar-assistant/internal/store"
)

// defaultTokenLifetime applies when the provider omits an expiry.
const defaultTokenLifetime = time.Hour

const (
	stateTTL      = 10 * time.Minute
	stateAudience = "calendar-oauth"
)

type State int

const (
	Disconnected State = iota
	PendingAuthorization
	Connected
	Expired
	Refreshing
	RefreshFailed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case PendingAuthorization:
		return "pending_authorization"
	case Connected:
		return "connected"
	case Expired:
		return "expired"
	case Refreshing:
		return "refreshing"
	case RefreshFailed:
		return "refresh_failed"
	default:
		return "unknown"
	}
}

// TokenStore persists one token row per user.
type TokenStore interface {
	GetCalendarToken(ctx context.Context, userID int64) (*store.CalendarToken, error)
	UpsertCalendarToken(ctx context.Context, tok store.CalendarToken) (*store.CalendarToken, error)
	DeleteCalendarToken(ctx context.Context, userID int64) error
}

// TokenProvider is the OAuth authorization server.
type TokenProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type GoogleProvider struct {
	config *oauth2.Config
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string) *GoogleProvider {
	return &GoogleProvider{config: &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gcal.CalendarScope},
	}}
}

// AuthCodeURL asks for offline access and forces the consent screen so
// Google returns a refresh token on every connect.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	return p.config.Exchange(ctx, code)
}

func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}

type Status struct {
	Connected   bool       `json:"connected"`
	LastUpdated *time.Time `json:"lastUpdated"`
}

// Manager owns per-user calendar credentials. Refreshes for the same user
// are collapsed into one provider call.
type Manager struct {
	provider TokenProvider
	tokens   TokenStore
	cache    TokenCache
	log      *logger.Logger
	timeout  time.Duration
	now      func() time.Time

	stateKey []byte

	group singleflight.Group

	mu         sync.Mutex
	pending    map[int64]time.Time
	refreshing map[int64]bool
	failed     map[int64]bool
}

type ManagerOption func(*Manager)

// WithStateKey sets the HMAC key that signs the OAuth state. Without it a
// random per-process key is used, so callbacks do not survive a restart.
func WithStateKey(key string) ManagerOption {
	return func(m *Manager) {
		if key != "" {
			m.stateKey = []byte(key)
		}
	}
}

func NewManager(provider TokenProvider, tokens TokenStore, cache TokenCache, log *logger.Logger, timeout time.Duration, opts ...ManagerOption) *Manager {
	if cache == nil {
		cache = NewMemoryCache()
	}
	m := &Manager{
		provider:   provider,
		tokens:     tokens,
		cache:      cache,
		log:        log,
		timeout:    timeout,
		now:        time.Now,
		pending:    make(map[int64]time.Time),
		refreshing: make(map[int64]bool),
		failed:     make(map[int64]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.stateKey == nil {
		m.stateKey = make([]byte, 32)
		_, _ = rand.Read(m.stateKey)
	}
	return m
}

// AuthURL returns the consent URL. The OAuth state is a signed, short-lived
// token naming the user.
func (m *Manager) AuthURL(userID int64) (string, error) {
	state, err := m.signState(userID)
	if err != nil {
		return "", fmt.Errorf("sign oauth state: %w", err)
	}
	m.mu.Lock()
	m.pending[userID] = m.now()
	m.mu.Unlock()
	return m.provider.AuthCodeURL(state), nil
}

// HandleCallback exchanges the authorization code and stores the token for
// the user named by state.
func (m *Manager) HandleCallback(ctx context.Context, code, state string) (int64, error) {
	if code == "" || state == "" {
		return 0, apperr.Validation("calendar.callback", "authorization code and state are required")
	}
	userID, err := m.parseState(state)
	if err != nil {
		m.log.Warn("rejected oauth state", "error", err)
		return 0, apperr.Validation("calendar.callback", "invalid state parameter")
	}
	m.mu.Lock()
	_, pending := m.pending[userID]
	m.mu.Unlock()
	if !pending {
		m.log.Warn("oauth callback without pending authorization", "user_id", userID)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	tok, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return 0, apperr.Authentication("calendar.callback", "authorization code exchange failed", err)
	}

	saved, err := m.persist(ctx, userID, tok)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	delete(m.pending, userID)
	delete(m.failed, userID)
	m.mu.Unlock()

	m.cacheToken(ctx, userID, saved, 0)
	m.log.Info("calendar connected", "user_id", userID, "expiry", saved.Expiry)
	return userID, nil
}

// ValidAccessToken returns an unexpired access token, refreshing it first
// when needed.
func (m *Manager) ValidAccessToken(ctx context.Context, userID int64) (string, error) {
	cached, err := m.cache.Get(ctx, userID)
	if err != nil {
		m.log.Warn("token cache read failed", "user_id", userID, "error", err)
	}
	if cached != nil && m.now().Before(cached.Expiry) {
		return cached.AccessToken, nil
	}

	tok, err := m.tokens.GetCalendarToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", apperr.CalendarNotConnected("calendar.token")
	}
	if m.now().Before(tok.Expiry) {
		m.cacheToken(ctx, userID, tok, generationOf(cached))
		return tok.AccessToken, nil
	}

	v, err, shared := m.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return m.refresh(ctx, userID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.log.Debug("joined in-flight token refresh", "user_id", userID)
	}
	return v.(string), nil
}

// refresh runs at most once per user at a time. It is detached from the
// caller's cancellation because other callers may be waiting on it.
func (m *Manager) refresh(parent context.Context, userID int64) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.timeout)
	defer cancel()

	m.setRefreshing(userID, true)
	defer m.setRefreshing(userID, false)

	// Another caller may have finished a refresh between our read and
	// entering the flight.
	tok, err := m.tokens.GetCalendarToken(ctx, userID)
	if err != nil {
		return "", err
	}
	if tok == nil {
		return "", apperr.CalendarNotConnected("calendar.refresh")
	}
	if m.now().Before(tok.Expiry) {
		return tok.AccessToken, nil
	}
	if tok.RefreshToken == nil || *tok.RefreshToken == "" {
		m.markFailed(userID, true)
		return "", apperr.TokenRefresh("calendar.refresh", "No refresh token available. Please reconnect your calendar.", nil)
	}

	fresh, err := m.provider.Refresh(ctx, *tok.RefreshToken)
	if err != nil {
		m.markFailed(userID, true)
		m.log.Warn("calendar token refresh failed", "user_id", userID, "error", err)
		return "", apperr.TokenRefresh("calendar.refresh", "Could not refresh calendar access. Please reconnect your calendar.", err)
	}

	saved, err := m.persist(ctx, userID, fresh)
	if err != nil {
		return "", err
	}
	m.markFailed(userID, false)

	prev, _ := m.cache.Get(ctx, userID)
	m.cacheToken(ctx, userID, saved, generationOf(prev)+1)
	m.log.Info("calendar token refreshed", "user_id", userID, "expiry", saved.Expiry)
	return saved.AccessToken, nil
}

func (m *Manager) persist(ctx context.Context, userID int64, tok *oauth2.Token) (*store.CalendarToken, error) {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = m.now().Add(defaultTokenLifetime)
	}
	row := store.CalendarToken{UserID: userID, AccessToken: tok.AccessToken, Expiry: expiry}
	if tok.RefreshToken != "" {
		rt := tok.RefreshToken
		row.RefreshToken = &rt
	}
	return m.tokens.UpsertCalendarToken(ctx, row)
}

func (m *Manager) cacheToken(ctx context.Context, userID int64, tok *store.CalendarToken, generation uint64) {
	err := m.cache.Set(ctx, userID, CachedToken{AccessToken: tok.AccessToken, Expiry: tok.Expiry, Generation: generation})
	if err != nil {
		m.log.Warn("token cache write failed", "user_id", userID, "error", err)
	}
}

func generationOf(c *CachedToken) uint64 {
	if c == nil {
		return 0
	}
	return c.Generation
}

func (m *Manager) signState(userID int64) (string, error) {
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{stateAudience},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.stateKey)
}

func (m *Manager) parseState(state string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(token *jwt.Token) (interface{}, error) {
		return m.stateKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(claims.Subject, 10, 64)
}

// State reports where the user is in the connection lifecycle.
func (m *Manager) State(ctx context.Context, userID int64) (State, error) {
	m.mu.Lock()
	refreshing, failed := m.refreshing[userID], m.failed[userID]
	_, pending := m.pending[userID]
	m.mu.Unlock()

	if refreshing {
		return Refreshing, nil
	}
	tok, err := m.tokens.GetCalendarToken(ctx, userID)
	if err != nil {
		return Disconnected, err
	}
	switch {
	case tok == nil && pending:
		return PendingAuthorization, nil
	case tok == nil:
		return Disconnected, nil
	case failed:
		return RefreshFailed, nil
	case !m.now().Before(tok.Expiry):
		return Expired, nil
	default:
		return Connected, nil
	}
}

// IsConnected is true when a token is stored, even an expired one.
func (m *Manager) IsConnected(ctx context.Context, userID int64) (bool, error) {
	tok, err := m.tokens.GetCalendarToken(ctx, userID)
	if err != nil {
		return false, err
	}
	return tok != nil, nil
}

func (m *Manager) Status(ctx context.Context, userID int64) (Status, error) {
	tok, err := m.tokens.GetCalendarToken(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if tok == nil {
		return Status{}, nil
	}
	updated := tok.UpdatedAt
	return Status{Connected: true, LastUpdated: &updated}, nil
}

func (m *Manager) Disconnect(ctx context.Context, userID int64) error {
	if err := m.tokens.DeleteCalendarToken(ctx, userID); err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, userID); err != nil {
		m.log.Warn("token cache delete failed", "user_id", userID, "error", err)
	}
	m.mu.Lock()
	delete(m.pending, userID)
	delete(m.failed, userID)
	m.mu.Unlock()
	m.log.Info("calendar disconnected", "user_id", userID)
	return nil
}

func (m *Manager) setRefreshing(userID int64, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if on {
		m.refreshing[userID] = true
	} else {
		delete(m.refreshing, userID)
	}
}

func (m *Manager) markFailed(userID int64, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.failed[userID] = true
	} else {
		delete(m.failed, userID)
	}
}

package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kirogate/kirogate/internal/metrics"
	"github.com/kirogate/kirogate/pkg/model"
)

// Provider is the OAuth2 identity provider the login flow runs against.
type Provider interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchUser(ctx context.Context, accessToken string) (*LinuxDoUser, error)
}

// StateStore issues and consumes single-use login states and holds the
// resulting sessions and user records.
type StateStore interface {
	PutOAuthState(ctx context.Context, state string, ttl time.Duration) error
	ConsumeOAuthState(ctx context.Context, state string) (bool, error)
	PutSession(ctx context.Context, s model.Session, ttl time.Duration) error
	UpsertUser(ctx context.Context, u model.User) (*model.User, error)
}

// Service runs the LinuxDo login flow: state issuance, callback validation,
// user upsert and session creation.
type Service struct {
	logger     *zap.Logger
	provider   Provider
	store      StateStore
	stateTTL   time.Duration
	sessionTTL time.Duration
}

func NewService(logger *zap.Logger, provider Provider, store StateStore, stateTTL, sessionTTL time.Duration) *Service {
	return &Service{
		logger:     logger,
		provider:   provider,
		store:      store,
		stateTTL:   stateTTL,
		sessionTTL: sessionTTL,
	}
}

// BeginLogin mints a single-use state and returns the authorize redirect URL.
func (s *Service) BeginLogin(ctx context.Context) (string, error) {
	state := uuid.NewString()
	if err := s.store.PutOAuthState(ctx, state, s.stateTTL); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return s.provider.AuthorizeURL(state), nil
}

// CompleteLogin validates the callback, loads the LinuxDo profile, upserts
// the user and opens a session. Banned and silenced accounts are rejected
// after the upsert so the login attempt still refreshes their profile row.
func (s *Service) CompleteLogin(ctx context.Context, state, code string) (*model.User, *model.Session, error) {
	if state == "" || code == "" {
		return nil, nil, fmt.Errorf("missing state or code")
	}

	ok, err := s.store.ConsumeOAuthState(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("consume oauth state: %w", err)
	}
	if !ok {
		metrics.IncError("oauth", "invalid_state")
		s.logger.Warn("oauth.invalid_state")
		return nil, nil, fmt.Errorf("invalid or expired oauth state")
	}

	accessToken, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, nil, err
	}

	profile, err := s.provider.FetchUser(ctx, accessToken)
	if err != nil {
		return nil, nil, err
	}
	if profile.Silenced {
		metrics.IncError("oauth", "silenced_account")
		return nil, nil, fmt.Errorf("account is silenced")
	}

	user, err := s.store.UpsertUser(ctx, model.User{
		LinuxDoID:  profile.ID,
		Username:   profile.Username,
		Name:       profile.Name,
		TrustLevel: profile.TrustLevel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("upsert user: %w", err)
	}
	if user.Banned {
		metrics.IncError("oauth", "banned_account")
		s.logger.Warn("oauth.banned_login_rejected",
			zap.Int64("user_id", user.ID),
			zap.String("username", user.Username))
		return nil, nil, fmt.Errorf("account is banned")
	}

	now := time.Now().UTC()
	sess := model.Session{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      model.SessionKindUser,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.store.PutSession(ctx, sess, s.sessionTTL); err != nil {
		return nil, nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.Info("oauth.login_success",
		zap.Int64("user_id", user.ID),
		zap.String("username", user.Username),
		zap.Int("trust_level", user.TrustLevel))
	return user, &sess, nil
}

package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/smallbiznis/atrium/internal/clock"
	"github.com/smallbiznis/atrium/internal/identity/domain"
	"github.com/smallbiznis/atrium/internal/identity/password"
)

const (
	sessionTokenBytes = 32
	sessionTTL        = 7 * 24 * time.Hour
)

type Service struct {
	log         *zap.Logger
	repo        domain.Repository
	sessionRepo domain.SessionRepository
	genID       *snowflake.Node
	clock       clock.Clock
}

func New(log *zap.Logger, repo domain.Repository, sessionRepo domain.SessionRepository, genID *snowflake.Node, clk clock.Clock) domain.Service {
	return &Service{
		log:         log.Named("identity.service"),
		repo:        repo,
		sessionRepo: sessionRepo,
		genID:       genID,
		clock:       clk,
	}
}

func (s *Service) Register(ctx context.Context, in domain.RegisterInput) (*domain.Account, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}
	if len(strings.TrimSpace(in.Password)) < password.MinLength {
		return nil, domain.ErrWeakPassword
	}

	hashed, err := password.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = defaultDisplayName(email)
	}
	account := &domain.Account{
		ID:                  s.genID.Generate(),
		ExternalID:          uuid.NewString(),
		Email:               email,
		DisplayName:         displayName,
		PasswordHash:        &hashed,
		LastPasswordChanged: &now,
		Metadata:            datatypes.JSONMap{},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

func (s *Service) Provision(ctx context.Context, email, displayName string) (*domain.Account, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrInvalidEmail
	}

	if existing, err := s.repo.FindByEmail(ctx, normalized); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrAccountNotFound) {
		return nil, err
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultDisplayName(normalized)
	}
	now := s.clock.Now().UTC()
	account := &domain.Account{
		ID:          s.genID.Generate(),
		ExternalID:  uuid.NewString(),
		Email:       normalized,
		DisplayName: name,
		Metadata:    datatypes.JSONMap{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, account); err != nil {
		// Lost a race to a concurrent provision; re-read the winner.
		if errors.Is(err, domain.ErrEmailAlreadyExists) {
			return s.repo.FindByEmail(ctx, normalized)
		}
		return nil, err
	}

	s.log.Info("account provisioned", zap.String("account_id", account.ID.String()))
	return account, nil
}

func (s *Service) Login(ctx context.Context, in domain.LoginInput) (*domain.LoginResult, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, domain.ErrInvalidCredentials
	}
	if strings.TrimSpace(in.Password) == "" {
		return nil, domain.ErrInvalidCredentials
	}

	account, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if account.PasswordHash == nil || !password.Verify(in.Password, *account.PasswordHash) {
		return nil, domain.ErrInvalidCredentials
	}

	rawToken, err := newSessionToken()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	session := &domain.Session{
		ID:        s.genID.Generate(),
		AccountID: account.ID,
		TokenHash: hashToken(rawToken),
		UserAgent: strings.TrimSpace(in.UserAgent),
		IPAddress: strings.TrimSpace(in.IPAddress),
		ExpiresAt: now.Add(sessionTTL),
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, err
	}

	return &domain.LoginResult{
		Account: account,
		Session: session,
		Token:   rawToken,
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return domain.ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, hashToken(raw))
	if err != nil {
		return err
	}
	return s.sessionRepo.Revoke(ctx, session.ID)
}

func (s *Service) Authenticate(ctx context.Context, token string) (*domain.Account, *domain.Session, error) {
	raw := strings.TrimSpace(token)
	if raw == "" {
		return nil, nil, domain.ErrSessionNotFound
	}

	session, err := s.sessionRepo.FindByTokenHash(ctx, hashToken(raw))
	if err != nil {
		return nil, nil, err
	}
	if session.RevokedAt != nil {
		return nil, nil, domain.ErrSessionRevoked
	}
	if s.clock.Now().UTC().After(session.ExpiresAt) {
		return nil, nil, domain.ErrSessionExpired
	}

	account, err := s.repo.FindByID(ctx, session.AccountID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.sessionRepo.Touch(ctx, session.ID); err != nil {
		return nil, nil, err
	}
	return account, session, nil
}

func (s *Service) GetAccount(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*domain.Account, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return nil, domain.ErrAccountNotFound
	}
	return s.repo.FindByEmail(ctx, normalized)
}

func (s *Service) SetPassword(ctx context.Context, accountID snowflake.ID, pw string) error {
	if len(strings.TrimSpace(pw)) < password.MinLength {
		return domain.ErrWeakPassword
	}

	hashed, err := password.Hash(pw)
	if err != nil {
		return err
	}

	now := s.clock.Now().UTC()
	if err := s.repo.UpdateFields(ctx, accountID, map[string]any{
		"password_hash":         hashed,
		"last_password_changed": &now,
		"updated_at":            now,
	}); err != nil {
		return err
	}
	// A password change invalidates every outstanding session.
	return s.sessionRepo.RevokeAllForAccount(ctx, accountID)
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(addr.Address)), nil
}

func defaultDisplayName(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) != "" {
		return strings.TrimSpace(parts[0])
	}
	return email
}

func newSessionToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/storage"
)

// Service handles account lifecycle: registration, login, password change and
// deactivation. It owns credential hashing and token issuance; everything it
// persists goes through the user store's transactional paths.
type Service struct {
	store  *storage.Storage
	hasher *Hasher
	tokens *TokenManager
	logger *log.Logger
}

func NewService(store *storage.Storage, hasher *Hasher, tokens *TokenManager, logger *log.Logger) *Service {
	return &Service{store: store, hasher: hasher, tokens: tokens, logger: logger}
}

// Register creates an account. Username and email must be free among active
// users; the check and the insert run in one transaction.
func (s *Service) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	u := &domain.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		// Backdated so a token issued in the same instant as registration
		// is already valid.
		CredentialChangedAt: now.Add(-storage.CredentialChangeBackdate),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	u.PasswordHash = ""
	return u, nil
}

// Login verifies the credential and issues a token. Absent, deactivated and
// wrong-password accounts all fail identically.
func (s *Service) Login(ctx context.Context, email, password string) (string, *domain.User, error) {
	u, err := s.store.UserByEmailWithCredential(ctx, email)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return "", nil, domain.ErrInvalidCredential()
		}
		return "", nil, err
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return "", nil, domain.ErrInvalidCredential()
	}
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		return "", nil, err
	}
	if err := s.store.UpdateLastLogin(ctx, u.ID, time.Now()); err != nil {
		s.logger.WithError(err).WithField("user", u.ID).Warn("last login stamp failed")
	}
	u.PasswordHash = ""
	return token, u, nil
}

// ChangePassword swaps the credential after verifying the current one. The
// store backdates the credential-change watermark, so every previously issued
// token is dead once this returns.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) error {
	u, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return err
	}
	withHash, err := s.store.UserByEmailWithCredential(ctx, u.Email)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(current, withHash.PasswordHash) {
		return domain.ErrInvalidCredential()
	}
	hash, err := s.hasher.Hash(next)
	if err != nil {
		return err
	}
	return s.store.UpdatePassword(ctx, userID, hash)
}

// Deactivate retires the account. Tasks stay owned by the id; no session can
// authenticate as it anymore.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	return s.store.DeactivateUser(ctx, userID)
}

// Tokens exposes the manager for transports that verify bearer tokens.
func (s *Service) Tokens() *TokenManager {
	return s.tokens
}

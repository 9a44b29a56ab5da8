package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"taskhub/domain"
)

// CredentialChangeBackdate is subtracted from the clock whenever credentials
// change, so a token issued in the same instant as the change is still
// rejected.
const CredentialChangeBackdate = time.Second

// activeUsers is the single scope through which every user read runs, so the
// deactivated state can never leak in through an ad hoc predicate.
func activeUsers(tx *gorm.DB) *gorm.DB {
	return tx.Model(&domain.User{}).Where("active = ?", true)
}

// UserByID fetches an active user.
func (s *Storage) UserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := activeUsers(s.db.WithContext(ctx)).First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound("user")
		}
		return nil, err
	}
	u.PasswordHash = ""
	return &u, nil
}

// UserByEmailWithCredential fetches an active user for authentication,
// keeping the credential hash on the returned record.
func (s *Storage) UserByEmailWithCredential(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := activeUsers(s.db.WithContext(ctx)).First(&u, "email = ?", email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound("user")
		}
		return nil, err
	}
	return &u, nil
}

// CreateUser registers a new user. The duplicate checks and the insert share
// one transaction; uniqueness is enforced among active users only, so a
// deactivated account frees its username and email.
func (s *Storage) CreateUser(ctx context.Context, u *domain.User) error {
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := activeUsers(tx).Where("username = ?", u.Username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicate("username")
		}
		if err := activeUsers(tx).Where("email = ?", u.Email).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return domain.ErrDuplicate("email")
		}
		return tx.Create(u).Error
	})
	return err
}

// UsernameTaken reports whether an active user holds the username.
func (s *Storage) UsernameTaken(ctx context.Context, username string) (bool, error) {
	var n int64
	err := activeUsers(s.db.WithContext(ctx)).Where("username = ?", username).Count(&n).Error
	return n > 0, err
}

// EmailTaken reports whether an active user holds the email.
func (s *Storage) EmailTaken(ctx context.Context, email string) (bool, error) {
	var n int64
	err := activeUsers(s.db.WithContext(ctx)).Where("email = ?", email).Count(&n).Error
	return n > 0, err
}

// UpdateLastLogin stamps a successful login. Safe to retry with identical
// arguments.
func (s *Storage) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		res := activeUsers(tx).Where("id = ?", id).Update("last_login_at", at.UTC())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound("user")
		}
		return nil
	})
	return err
}

// UpdatePassword stores a new credential hash and moves the credential-change
// watermark to one second before now, invalidating every token issued before
// the change. The watermark never moves backwards.
func (s *Storage) UpdatePassword(ctx context.Context, id, hash string) error {
	changedAt := time.Now().UTC().Add(-CredentialChangeBackdate)
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		var u domain.User
		if err := activeUsers(tx).First(&u, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound("user")
			}
			return err
		}
		cca := changedAt
		if cca.Before(u.CredentialChangedAt) {
			cca = u.CredentialChangedAt
		}
		return tx.Model(&domain.User{}).Where("id = ?", id).Updates(map[string]any{
			"password_hash":         hash,
			"credential_changed_at": cca,
		}).Error
	})
	return err
}

// DeactivateUser flips the account into the deactivated state. The record is
// kept; every read path excludes it from now on.
func (s *Storage) DeactivateUser(ctx context.Context, id string) error {
	_, err := s.Execute(ctx, func(tx *gorm.DB) error {
		res := activeUsers(tx).Where("id = ?", id).Update("active", false)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrNotFound("user")
		}
		return nil
	})
	return err
}

// CredentialChangedAt returns the session-invalidation watermark for an
// active user. Deactivated or absent users report ok=false.
func (s *Storage) CredentialChangedAt(ctx context.Context, id string) (time.Time, bool, error) {
	var u domain.User
	err := activeUsers(s.db.WithContext(ctx)).First(&u, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return u.CredentialChangedAt, true, nil
}

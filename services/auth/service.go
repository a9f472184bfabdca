package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/tech-arch1tect/authkit/config"
	"github.com/tech-arch1tect/authkit/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrPasswordHashingFailed   = errors.New("failed to hash password")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrUserNotFound            = errors.New("user not found")
	ErrEmailTaken              = errors.New("email is already registered")
	ErrIdentityNotFound        = errors.New("identity not found")
	ErrIdentityLinkedElsewhere = errors.New("identity is linked to another user")
)

type Service struct {
	config *config.Config
	db     *gorm.DB
	logger *logging.Service

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		config: cfg,
		db:     db,
		logger: logger.Named("auth"),
	}
}

func (s *Service) ValidatePassword(password string) error {
	if len(password) < s.config.Auth.MinLength {
		return fmt.Errorf("password must be at least %d characters", s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	var missing []string

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		s.logger.Error("password hashing failed", zap.Error(err))
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

func (s *Service) VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Authenticate spends one bcrypt comparison whether or not the email exists so
// response timing does not reveal registered addresses.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if user == nil || user.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(password))
		s.logger.Info("login rejected", zap.String("reason", "unknown account or no password"))
		return nil, ErrInvalidCredentials
	}

	if err := s.VerifyPassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login rejected", zap.Uint("user_id", user.ID), zap.String("reason", "password mismatch"))
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		b := make([]byte, 16)
		_, _ = rand.Read(b)
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(b)), s.config.Auth.BcryptCost)
	})
	return s.dummyHash
}

func (s *Service) CreateUser(ctx context.Context, email, password string, roles ...string) (*User, error) {
	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.createUser(ctx, User{
		Email:        normalizeEmail(email),
		PasswordHash: hash,
		Roles:        s.roles(roles),
	})
}

// ProvisionUser creates a password-less user for an external identity.
func (s *Service) ProvisionUser(ctx context.Context, email, name string, emailVerified bool) (*User, error) {
	return s.createUser(ctx, User{
		Email:         normalizeEmail(email),
		Name:          name,
		Roles:         s.config.Auth.DefaultRole,
		EmailVerified: emailVerified,
	})
}

func (s *Service) createUser(ctx context.Context, u User) (*User, error) {
	if u.Email == "" {
		return nil, errors.New("email is required")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("email = ?", u.Email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if count > 0 {
		return nil, ErrEmailTaken
	}

	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("user created", zap.Uint("user_id", u.ID))
	return &u, nil
}

func (s *Service) roles(roles []string) string {
	if len(roles) == 0 {
		return s.config.Auth.DefaultRole
	}
	return strings.Join(roles, ",")
}

func (s *Service) FindByID(ctx context.Context, id uint) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Service) FindByIdentity(ctx context.Context, provider, subject string) (*User, error) {
	var ident Identity
	err := s.db.WithContext(ctx).Where("provider = ? AND subject = ?", provider, subject).First(&ident).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdentityNotFound
		}
		return nil, err
	}
	return s.FindByID(ctx, ident.UserID)
}

// LinkIdentity binds provider/subject to userID. Linking the same pair to the
// same user again is a no-op.
func (s *Service) LinkIdentity(ctx context.Context, userID uint, provider, subject, email string) (*Identity, error) {
	var existing Identity
	err := s.db.WithContext(ctx).Where("provider = ? AND subject = ?", provider, subject).First(&existing).Error
	switch {
	case err == nil:
		if existing.UserID != userID {
			return nil, ErrIdentityLinkedElsewhere
		}
		return &existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	ident := Identity{UserID: userID, Provider: provider, Subject: subject, Email: normalizeEmail(email)}
	if err := s.db.WithContext(ctx).Create(&ident).Error; err != nil {
		return nil, fmt.Errorf("failed to link identity: %w", err)
	}

	s.logger.Info("identity linked",
		zap.Uint("user_id", userID),
		zap.String("provider", provider))
	return &ident, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

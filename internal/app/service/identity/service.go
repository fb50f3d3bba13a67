package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/fatflowers/saasbill/internal/app/service/notification"
	"github.com/fatflowers/saasbill/internal/models"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/tool"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidToken       = errors.New("invalid or expired verification token")
)

var validate = validator.New()

// SubscriptionAttacher links guest subscriptions to a newly registered account.
type SubscriptionAttacher interface {
	AttachUnclaimed(ctx context.Context, email, userID string) (int64, error)
}

type SignUpParams struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=8"`
	Name     string
	// Provisioned marks accounts created on behalf of a guest buyer.
	Provisioned bool
}

// Service is the identity provider: users, password sign-in, sessions and
// email verification.
type Service struct {
	db       *gorm.DB
	log      *zap.SugaredLogger
	mailer   *notification.Mailer
	attacher SubscriptionAttacher
	sessions *SessionIssuer
}

func NewService(db *gorm.DB, log *zap.SugaredLogger, mailer *notification.Mailer, attacher SubscriptionAttacher, sessions *SessionIssuer) *Service {
	return &Service{db: db, log: log, mailer: mailer, attacher: attacher, sessions: sessions}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate checks the normalized email and the password length. Guest
// provisioning goes through the same rules as the sign-up endpoint.
func (p *SignUpParams) Validate() error {
	normalized := *p
	normalized.Email = NormalizeEmail(p.Email)
	if err := validate.Struct(normalized); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// SignUp creates a user with a bcrypt password hash and links unclaimed
// guest subscriptions paid with the same email.
func (s *Service) SignUp(ctx context.Context, p SignUpParams) (*models.User, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	email := NormalizeEmail(p.Email)

	existing, err := s.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &models.User{
		ID:           tool.GenerateUUIDV7(),
		Email:        email,
		Name:         strings.TrimSpace(p.Name),
		PasswordHash: string(hash),
		Provisioned:  p.Provisioned,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logctx.FromCtx(ctx, s.log).Infow("user_created", "user_id", user.ID, "provisioned", user.Provisioned)

	if s.attacher != nil {
		if _, err := s.attacher.AttachUnclaimed(ctx, email, user.ID); err != nil {
			logctx.FromCtx(ctx, s.log).Warnw("attach_unclaimed_failed", "user_id", user.ID, "err", err)
		}
	}
	return user, nil
}

// FindByEmail returns nil, nil when no user matches.
func (s *Service) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	var u models.User
	err := s.db.WithContext(ctx).Where("lower(email) = ?", email).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &u, nil
}

// SignIn checks the password and issues a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, *models.User, error) {
	u, err := s.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, _, err := s.sessions.Issue(u.ID, u.Email)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// GetSession resolves a session token.
func (s *Service) GetSession(_ context.Context, token string) (*Session, error) {
	return s.sessions.Parse(token)
}

// SendVerificationEmail stores a fresh verification token and mails the link.
// Failures are reported in the result.
func (s *Service) SendVerificationEmail(ctx context.Context, u *models.User) notification.Result {
	if u == nil {
		return notification.Failed(fmt.Errorf("nil user"))
	}
	token, err := tool.GenerateToken(32)
	if err != nil {
		return notification.Failed(err)
	}
	if err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", u.ID).
		Update("verification_token", token).Error; err != nil {
		return notification.Failed(fmt.Errorf("failed to store verification token: %w", err))
	}
	u.VerificationToken = &token
	return s.mailer.SendVerification(ctx, notification.VerificationData{
		To:      u.Email,
		Name:    u.Name,
		Token:   token,
		Welcome: u.Provisioned,
	})
}

// VerifyEmail marks the owner of token verified and consumes the token.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var u models.User
	err := s.db.WithContext(ctx).Where("verification_token = ?", token).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find verification token: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(&u).Updates(map[string]any{
		"email_verified":     true,
		"verification_token": nil,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to verify email: %w", err)
	}
	u.EmailVerified = true
	u.VerificationToken = nil
	return &u, nil
}

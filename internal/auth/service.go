// Package auth signs up and logs in operators and guards routes with
// bearer tokens and role checks.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Claims are the bearer token claims
type Claims struct {
	ID    string      `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Service implements signup, login and token verification
type Service struct {
	users       domain.UserStore
	secret      []byte
	ttl         time.Duration
	cost        int
	defaultRole domain.Role
	log         *logrus.Logger
	now         func() time.Time

	// dummyHash is compared against on unknown emails so both login
	// failures cost one bcrypt comparison.
	dummyHash []byte
}

// NewService creates an auth service from configuration
func NewService(users domain.UserStore, config domain.AuthConfig, logger *logrus.Logger) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	role, ok := domain.ParseRole(config.DefaultRole)
	if !ok {
		role = domain.RoleClinician
	}
	cost := config.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("dili-login-placeholder"), cost)
	if err != nil {
		return nil, fmt.Errorf("preparing password hasher: %w", err)
	}

	return &Service{
		users:       users,
		secret:      []byte(config.JWTSecret),
		ttl:         config.TokenTTL,
		cost:        cost,
		defaultRole: role,
		log:         logger,
		now:         time.Now,
		dummyHash:   dummy,
	}, nil
}

// Signup creates a user with the default role and returns it with a token
func (s *Service) Signup(ctx context.Context, fullname, email, password string) (*domain.User, string, error) {
	fullname = strings.TrimSpace(fullname)
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateSignup(fullname, email, password); err != nil {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, "", domain.Wrap(domain.ErrInternalServer, "Server error during signup.", err)
	}

	user := &domain.User{
		Fullname: fullname,
		Email:    email,
		Password: string(hash),
		Role:     s.defaultRole,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, domain.ErrEmailExists) {
			return nil, "", err
		}
		return nil, "", domain.StorageError("creating user", err)
	}

	token, err := s.Issue(user)
	if err != nil {
		return nil, "", err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "role": user.Role}).Info("User signed up")
	return user, token, nil
}

// Login checks credentials. Unknown email and wrong password both return
// domain.ErrInvalidLogin.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	email = domain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, "", domain.NewValidationError("email", "Email and password required.", nil)
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, "", domain.StorageError("loading user", err)
		}
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		s.log.Debug("Login rejected")
		return nil, "", domain.ErrInvalidLogin
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		s.log.Debug("Login rejected")
		return nil, "", domain.ErrInvalidLogin
	}

	token, err := s.Issue(user)
	if err != nil {
		return nil, "", err
	}
	s.log.WithField("user_id", user.ID).Info("User logged in")
	return user, token, nil
}

// Issue signs a token for user
func (s *Service) Issue(user *domain.User) (string, error) {
	now := s.now()
	claims := Claims{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", domain.Wrap(domain.ErrInternalServer, "failed to sign token", err)
	}
	return signed, nil
}

// Verify parses and validates a signed token
func (s *Service) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.ID == "" {
		return nil, fmt.Errorf("invalid or expired token")
	}
	return claims, nil
}

// Authenticate verifies a token and loads the current user, so role changes
// apply to tokens issued before them.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*domain.User, error) {
	claims, err := s.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("token subject no longer exists")
		}
		return nil, domain.StorageError("loading user", err)
	}
	return user, nil
}

// SetRole changes a user's role
func (s *Service) SetRole(ctx context.Context, email string, role domain.Role) error {
	if err := s.users.SetRole(ctx, domain.NormalizeEmail(email), role); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.StorageError("updating role", err)
	}
	s.log.WithFields(logrus.Fields{"email": domain.NormalizeEmail(email), "role": role}).Info("User role changed")
	return nil
}

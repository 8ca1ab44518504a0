package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sumire/proposals/internal/domain"
)

// UserStore defines the user data access interface consumed by AuthService.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user domain.User) (*domain.User, error)
}

// LoginMode selects the credential verifier used by Login.
type LoginMode string

const (
	LoginModeDemo     LoginMode = "demo"
	LoginModePassword LoginMode = "password"
)

const (
	bcryptCost        = 10
	minPasswordLength = 6
	accessTokenTTL    = 15 * time.Minute
	refreshTokenTTL   = 7 * 24 * time.Hour
)

// validate shares the HTTP layer's email rule with signups that bypass it.
var validate = validator.New(validator.WithRequiredStructEnabled())

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	JWTSecret        string
	DemoLoginEnabled bool
}

// AuthService handles authentication logic.
type AuthService struct {
	users     UserStore
	directory *Directory
	demo      *DemoAccounts
	verifiers map[LoginMode]CredentialVerifier
	jwtSecret []byte
}

// NewAuthService creates a new AuthService. demo may be nil when demo login is disabled.
func NewAuthService(users UserStore, demo *DemoAccounts, cfg AuthConfig) *AuthService {
	verifiers := map[LoginMode]CredentialVerifier{
		LoginModePassword: NewPasswordVerifier(users),
	}
	if cfg.DemoLoginEnabled && demo != nil {
		verifiers[LoginModeDemo] = demo
	} else {
		demo = nil
	}
	return &AuthService{
		users:     users,
		directory: NewDirectory(demo, users),
		demo:      demo,
		verifiers: verifiers,
		jwtSecret: []byte(cfg.JWTSecret),
	}
}

// TokenPair holds an access token and refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// Claims is the identity carried by a validated access token.
type Claims struct {
	UserID string
	Role   domain.Role
	Email  string
	Name   string
}

// LoginRequest carries the credentials for either login mode.
type LoginRequest struct {
	Mode     LoginMode
	UserID   string
	Email    string
	Password string
}

// SignupRequest describes a new password account.
type SignupRequest struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// Login verifies credentials with the verifier selected by mode and returns a JWT pair.
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*domain.User, *TokenPair, error) {
	verifier, ok := s.verifiers[req.Mode]
	if !ok {
		return nil, nil, &domain.ValidationError{Field: "mode", Message: fmt.Sprintf("unsupported login mode %q", req.Mode)}
	}

	user, err := verifier.Verify(ctx, Credentials{UserID: req.UserID, Email: req.Email, Password: req.Password})
	if err != nil {
		return nil, nil, err
	}

	pair, err := s.generateTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Register creates a password account without issuing tokens.
func (s *AuthService) Register(ctx context.Context, req SignupRequest) (*domain.User, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)
	if req.Role == "" {
		req.Role = domain.RoleSubmitter
	}

	switch {
	case req.Name == "":
		return nil, &domain.ValidationError{Field: "name", Message: "is required"}
	case validate.Var(req.Email, "required,email") != nil:
		return nil, &domain.ValidationError{Field: "email", Message: "invalid email format"}
	case len(req.Password) < minPasswordLength:
		return nil, &domain.ValidationError{Field: "password", Message: fmt.Sprintf("must be at least %d characters long", minPasswordLength)}
	case !req.Role.Valid():
		return nil, &domain.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", req.Role)}
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user, err := s.users.Create(ctx, domain.User{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Email:        req.Email,
		Role:         req.Role,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Signup registers a password account and signs it in.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*domain.User, *TokenPair, error) {
	user, err := s.Register(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	pair, err := s.generateTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// ValidateToken validates a JWT access token and returns its claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	return s.parseToken(tokenString, "access")
}

// RefreshAccessToken validates a refresh token and returns a new token pair.
func (s *AuthService) RefreshAccessToken(refreshToken string) (*TokenPair, error) {
	claims, err := s.parseToken(refreshToken, "refresh")
	if err != nil {
		return nil, err
	}
	return s.generateTokenPair(&domain.User{
		ID:    claims.UserID,
		Name:  claims.Name,
		Email: claims.Email,
		Role:  claims.Role,
	})
}

// GetUser retrieves a demo or registered user by ID.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.directory.Lookup(ctx, userID)
}

// DemoUsers lists the demo accounts, or nil when demo login is disabled.
func (s *AuthService) DemoUsers() []domain.User {
	if s.demo == nil {
		return nil
	}
	return s.demo.Users()
}

// Directory returns the owner directory shared with the proposal service.
func (s *AuthService) Directory() *Directory {
	return s.directory
}

func (s *AuthService) parseToken(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: parse token: %v", domain.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, domain.ErrUnauthorized
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != wantType {
		return nil, domain.ErrUnauthorized
	}

	sub, _ := claims["sub"].(string)
	role, _ := claims["role"].(string)
	if sub == "" || !domain.Role(role).Valid() {
		return nil, domain.ErrUnauthorized
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return &Claims{UserID: sub, Role: domain.Role(role), Email: email, Name: name}, nil
}

func (s *AuthService) generateTokenPair(user *domain.User) (*TokenPair, error) {
	now := time.Now()

	accessToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"role":  string(user.Role),
		"email": user.Email,
		"name":  user.Name,
		"type":  "access",
		"iat":   now.Unix(),
		"exp":   now.Add(accessTokenTTL).Unix(),
	})
	accessStr, err := accessToken.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   user.ID,
		"role":  string(user.Role),
		"email": user.Email,
		"name":  user.Name,
		"type":  "refresh",
		"iat":   now.Unix(),
		"exp":   now.Add(refreshTokenTTL).Unix(),
	})
	refreshStr, err := refreshToken.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &TokenPair{
		AccessToken:  accessStr,
		RefreshToken: refreshStr,
	}, nil
}

// HashPassword hashes a password with bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", &domain.ValidationError{Field: "password", Message: "must be at most 72 bytes"}
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

package service

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"github.com/sumire/proposals/internal/domain"
)

// Credentials is what a client presents to sign in. Demo login uses UserID,
// password login uses Email and Password.
type Credentials struct {
	UserID   string
	Email    string
	Password string
}

// CredentialVerifier resolves credentials to a user.
type CredentialVerifier interface {
	Verify(ctx context.Context, creds Credentials) (*domain.User, error)
}

// DemoAccounts is a fixed set of accounts that sign in by id alone.
type DemoAccounts struct {
	users []domain.User
	byID  map[string]domain.User
}

// DefaultDemoAccounts returns the built-in demo accounts.
func DefaultDemoAccounts() *DemoAccounts {
	d, _ := NewDemoAccounts([]domain.User{
		{ID: "user_123", Name: "John Doe", Email: "john.doe@example.com", Role: domain.RoleSubmitter},
		{ID: "user_456", Name: "Jane Smith", Email: "jane.smith@example.com", Role: domain.RoleSubmitter},
		{ID: "naccr_789", Name: "NACCR Admin", Email: "admin@naccr.gov.in", Role: domain.RoleReviewer},
	})
	return d
}

// NewDemoAccounts validates users and indexes them by id.
func NewDemoAccounts(users []domain.User) (*DemoAccounts, error) {
	d := &DemoAccounts{users: make([]domain.User, 0, len(users)), byID: make(map[string]domain.User, len(users))}
	for i, u := range users {
		if u.ID == "" {
			return nil, fmt.Errorf("demo account %d: id is required", i)
		}
		if !u.Role.Valid() {
			return nil, fmt.Errorf("demo account %s: unknown role %q", u.ID, u.Role)
		}
		if _, dup := d.byID[u.ID]; dup {
			return nil, fmt.Errorf("demo account %s: duplicate id", u.ID)
		}
		d.users = append(d.users, u)
		d.byID[u.ID] = u
	}
	return d, nil
}

type demoAccountsFile struct {
	Accounts []domain.User `yaml:"accounts"`
}

// LoadDemoAccounts reads demo accounts from a YAML file of the form
//
//	accounts:
//	  - id: user_123
//	    name: John Doe
//	    email: john.doe@example.com
//	    role: user
func LoadDemoAccounts(path string) (*DemoAccounts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read demo accounts: %w", err)
	}
	var f demoAccountsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse demo accounts %s: %w", path, err)
	}
	return NewDemoAccounts(f.Accounts)
}

// Users returns a copy of the demo accounts in file order.
func (d *DemoAccounts) Users() []domain.User {
	out := make([]domain.User, len(d.users))
	copy(out, d.users)
	return out
}

// Find returns the demo account with the given id.
func (d *DemoAccounts) Find(id string) (*domain.User, bool) {
	u, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return &u, true
}

func (d *DemoAccounts) Verify(_ context.Context, creds Credentials) (*domain.User, error) {
	if creds.UserID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	u, ok := d.Find(creds.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: demo user %s", domain.ErrNotFound, creds.UserID)
	}
	return u, nil
}

// PasswordVerifier checks an email and password against bcrypt hashes in the user store.
type PasswordVerifier struct {
	users UserStore
}

// NewPasswordVerifier creates a new PasswordVerifier.
func NewPasswordVerifier(users UserStore) *PasswordVerifier {
	return &PasswordVerifier{users: users}
}

func (v *PasswordVerifier) Verify(ctx context.Context, creds Credentials) (*domain.User, error) {
	if creds.Email == "" || creds.Password == "" {
		return nil, &domain.ValidationError{Field: "email", Message: "email and password are required"}
	}
	user, err := v.users.FindByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, domain.ErrUnauthorized
	}
	return user, nil
}

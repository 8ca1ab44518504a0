package service

import (
	"context"
	"errors"
	"strings"

	"github.com/sumire/proposals/internal/domain"
)

// Directory resolves a user id to an account, demo accounts first.
type Directory struct {
	demo  *DemoAccounts
	users UserStore
}

// NewDirectory creates a new Directory. Either source may be nil.
func NewDirectory(demo *DemoAccounts, users UserStore) *Directory {
	return &Directory{demo: demo, users: users}
}

// Lookup returns domain.ErrNotFound when no source knows the id.
func (d *Directory) Lookup(ctx context.Context, id string) (*domain.User, error) {
	if d == nil {
		return nil, domain.ErrNotFound
	}
	if d.demo != nil {
		if u, ok := d.demo.Find(id); ok {
			return u, nil
		}
	}
	if d.users == nil {
		return nil, domain.ErrNotFound
	}
	u, err := d.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Package rls scopes database sessions for PostgreSQL row-level security.
//
// Writes that onboard or activate an organization happen before any user of
// that organization exists, so they run under an explicit service
// credential instead of a tenant scope. The credential is minted once at
// startup and handed to the components that need it.
package rls

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

var ErrInvalidCredential = errors.New("invalid_service_credential")

// ServiceCredential is an elevated identity for system-initiated writes.
// The zero value is not usable.
type ServiceCredential struct {
	principal string
}

func NewServiceCredential(principal string) (ServiceCredential, error) {
	principal = strings.TrimSpace(principal)
	if principal == "" {
		return ServiceCredential{}, ErrInvalidCredential
	}
	return ServiceCredential{principal: principal}, nil
}

func (c ServiceCredential) Principal() string {
	return c.principal
}

func (c ServiceCredential) Valid() bool {
	return c.principal != ""
}

// WithService marks the current transaction as acting for cred. It is a
// no-op on dialects without row-level security.
func WithService(tx *gorm.DB, cred ServiceCredential) error {
	if !cred.Valid() {
		return ErrInvalidCredential
	}
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT set_config('app.service_principal', ?, true)", cred.principal).Error
}

// Transaction runs fn in a transaction scoped to cred.
func Transaction(ctx context.Context, db *gorm.DB, cred ServiceCredential, fn func(tx *gorm.DB) error) error {
	if !cred.Valid() {
		return ErrInvalidCredential
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := WithService(tx, cred); err != nil {
			return err
		}
		return fn(tx)
	})
}

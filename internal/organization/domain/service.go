package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/smallbiznis/clubhouse/pkg/rls"
)

const MaxNameLength = 200

// Service is the organization record store. Every operation acts under an
// explicit service credential.
type Service interface {
	Create(ctx context.Context, cred rls.ServiceCredential, req CreateRequest) (*Organization, error)
	GetByID(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) (*Organization, error)
	SubdomainExists(ctx context.Context, cred rls.ServiceCredential, subdomain string) (bool, error)
	RecordCheckout(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID, ref CheckoutRef) error
	RecordCheckoutFailure(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) error
	Activate(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID, ids ExternalIDs) (*ActivationResult, error)
	MarkAbandoned(ctx context.Context, cred rls.ServiceCredential, id snowflake.ID) (*Organization, error)
	ListResumable(ctx context.Context, cred rls.ServiceCredential, filter ResumableFilter) ([]Organization, error)
	ListAbandonable(ctx context.Context, cred rls.ServiceCredential, createdBefore time.Time, limit int) ([]Organization, error)
}

type CreateRequest struct {
	Name           string
	Subdomain      string
	ContactName    string
	ContactEmail   string
	ContactPhone   string
	Address        string
	City           string
	State          string
	Zip            string
	MonthlyFee     decimal.Decimal
	StorageLimitGB int
	StripePriceID  string
}

type ActivationResult struct {
	Organization *Organization
	// AlreadyActive is set when the identifiers were bound by an earlier
	// delivery and nothing changed.
	AlreadyActive bool
}

var (
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidSubdomain    = errors.New("invalid_subdomain")
	ErrInvalidContactName  = errors.New("invalid_contact_name")
	ErrInvalidContactEmail = errors.New("invalid_contact_email")
	ErrInvalidMonthlyFee   = errors.New("invalid_monthly_fee")
	ErrInvalidStorageLimit = errors.New("invalid_storage_limit")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidExternalIDs  = errors.New("invalid_external_ids")

	ErrNotFound           = errors.New("organization_not_found")
	ErrSubdomainTaken     = errors.New("subdomain_taken")
	ErrActivationConflict = errors.New("activation_conflict")
	ErrNotPending         = errors.New("organization_not_pending")
	ErrPersistence        = errors.New("persistence_error")
)

// IsValidationError reports whether err is caused by caller input.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidName, ErrInvalidSubdomain, ErrInvalidContactName, ErrInvalidContactEmail,
		ErrInvalidMonthlyFee, ErrInvalidStorageLimit, ErrInvalidPrice, ErrInvalidOrganization,
		ErrInvalidExternalIDs,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

var validate = validator.New()

// DefaultStorageLimitGB applies when neither the request nor the
// configuration names a positive storage limit.
const DefaultStorageLimitGB = 1

// NormalizeCreate trims the request, applies the storage default and checks
// the caller-supplied fields. Subdomain and price are checked by Create.
func NormalizeCreate(req CreateRequest, defaultStorageGB int) (CreateRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.ContactName = strings.TrimSpace(req.ContactName)
	req.ContactEmail = strings.ToLower(strings.TrimSpace(req.ContactEmail))
	req.ContactPhone = strings.TrimSpace(req.ContactPhone)
	req.Address = strings.TrimSpace(req.Address)
	req.City = strings.TrimSpace(req.City)
	req.State = strings.TrimSpace(req.State)
	req.Zip = strings.TrimSpace(req.Zip)
	req.Subdomain = strings.TrimSpace(req.Subdomain)
	req.StripePriceID = strings.TrimSpace(req.StripePriceID)

	if req.Name == "" || len(req.Name) > MaxNameLength {
		return req, ErrInvalidName
	}
	if req.ContactName == "" {
		return req, ErrInvalidContactName
	}
	if err := validate.Var(req.ContactEmail, "required,email"); err != nil {
		return req, ErrInvalidContactEmail
	}
	if !req.MonthlyFee.IsPositive() {
		return req, ErrInvalidMonthlyFee
	}
	if req.StorageLimitGB == 0 {
		if defaultStorageGB <= 0 {
			defaultStorageGB = DefaultStorageLimitGB
		}
		req.StorageLimitGB = defaultStorageGB
	}
	if req.StorageLimitGB <= 0 {
		return req, ErrInvalidStorageLimit
	}
	return req, nil
}

package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type CheckoutRef struct {
	SessionID string
	URL       string
	ExpiresAt time.Time
}

// ResumableFilter selects pending organizations whose checkout link is
// missing or expired.
type ResumableFilter struct {
	CreatedBefore time.Time
	Now           time.Time
	MaxAttempts   int
	Limit         int
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, org *Organization) error
	FindByID(ctx context.Context, id snowflake.ID) (*Organization, error)
	SubdomainExists(ctx context.Context, subdomain string) (bool, error)
	UpdateCheckout(ctx context.Context, id snowflake.ID, ref CheckoutRef, now time.Time) (int64, error)
	IncrementAttempts(ctx context.Context, id snowflake.ID, now time.Time) error
	Activate(ctx context.Context, id snowflake.ID, ids ExternalIDs, now time.Time) (int64, error)
	MarkAbandoned(ctx context.Context, id snowflake.ID, now time.Time) (int64, error)
	ListResumable(ctx context.Context, filter ResumableFilter) ([]Organization, error)
	ListAbandonable(ctx context.Context, createdBefore time.Time, limit int) ([]Organization, error)
}

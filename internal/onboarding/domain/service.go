// Package domain describes the provisioning saga that turns a sales-entered
// organization into a tenant awaiting its first payment.
package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"

	orgdomain "github.com/smallbiznis/clubhouse/internal/organization/domain"
)

type Request struct {
	Name           string
	ContactName    string
	ContactEmail   string
	ContactPhone   string
	MonthlyFee     decimal.Decimal
	StorageLimitGB int
	Address        string
	City           string
	State          string
	Zip            string
}

type Result struct {
	OrgID             snowflake.ID
	OrgName           string
	Subdomain         string
	PaymentURL        string
	CheckoutSessionID string
}

type Service interface {
	// Provision allocates a subdomain, creates the price, inserts the
	// organization and opens a checkout session, in that order.
	Provision(ctx context.Context, req Request) (*Result, error)
	// ResumeCheckout issues a fresh checkout session for a pending
	// organization from its stored price.
	ResumeCheckout(ctx context.Context, orgID snowflake.ID) (*Result, error)
	Get(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error)
	// Abandon gives up on a pending organization and archives its price.
	Abandon(ctx context.Context, orgID snowflake.ID) (*orgdomain.Organization, error)
}

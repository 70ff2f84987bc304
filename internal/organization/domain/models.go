// Package domain contains persistence models for the organization store.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionStatusActive         SubscriptionStatus = "active"
	SubscriptionStatusSuspended      SubscriptionStatus = "suspended"
)

type PaymentStatus string

const (
	PaymentStatusPending      PaymentStatus = "pending"
	PaymentStatusGoodStanding PaymentStatus = "good_standing"
	PaymentStatusPastDue      PaymentStatus = "past_due"
)

// OnboardingStep records how far provisioning got, so an interrupted run can
// be resumed or abandoned by the reconciliation sweep.
type OnboardingStep string

const (
	OnboardingStepPriceCreated    OnboardingStep = "price_created"
	OnboardingStepCheckoutCreated OnboardingStep = "checkout_created"
	OnboardingStepActivated       OnboardingStep = "activated"
	OnboardingStepAbandoned       OnboardingStep = "abandoned"
)

// Organization represents a tenant club.
type Organization struct {
	ID                   snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name                 string             `gorm:"type:text;not null" json:"name"`
	Subdomain            string             `gorm:"type:text;not null;uniqueIndex:ux_organizations_subdomain" json:"subdomain"`
	ContactName          string             `gorm:"type:text;not null" json:"contact_name"`
	ContactEmail         string             `gorm:"type:text;not null" json:"contact_email"`
	ContactPhone         *string            `gorm:"type:text" json:"contact_phone,omitempty"`
	Address              *string            `gorm:"type:text" json:"address,omitempty"`
	City                 *string            `gorm:"type:text" json:"city,omitempty"`
	State                *string            `gorm:"type:text" json:"state,omitempty"`
	Zip                  *string            `gorm:"type:text" json:"zip,omitempty"`
	MonthlyFee           decimal.Decimal    `gorm:"type:numeric(12,2);not null" json:"monthly_fee"`
	StorageLimitGB       int                `gorm:"column:storage_limit_gb;not null" json:"storage_limit_gb"`
	StorageUsedGB        decimal.Decimal    `gorm:"column:storage_used_gb;type:numeric(12,3);not null" json:"storage_used_gb"`
	FileCount            int64              `gorm:"not null" json:"file_count"`
	SubscriptionStatus   SubscriptionStatus `gorm:"type:text;not null;index" json:"subscription_status"`
	PaymentStatus        PaymentStatus      `gorm:"type:text;not null" json:"payment_status"`
	StripeCustomerID     *string            `gorm:"type:text" json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string            `gorm:"type:text" json:"stripe_subscription_id,omitempty"`
	StripePriceID        *string            `gorm:"type:text" json:"stripe_price_id,omitempty"`
	CheckoutSessionID    *string            `gorm:"type:text" json:"checkout_session_id,omitempty"`
	CheckoutURL          *string            `gorm:"type:text" json:"checkout_url,omitempty"`
	CheckoutExpiresAt    *time.Time         `json:"checkout_expires_at,omitempty"`
	OnboardingStep       OnboardingStep     `gorm:"type:text;not null;index" json:"onboarding_step"`
	OnboardingAttempts   int                `gorm:"not null" json:"onboarding_attempts"`
	ActivatedAt          *time.Time         `json:"activated_at,omitempty"`
	AbandonedAt          *time.Time         `json:"abandoned_at,omitempty"`
	CreatedAt            time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt            time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// ExternalIDs are the gateway identifiers bound to an organization at
// activation.
type ExternalIDs struct {
	CustomerID     string
	SubscriptionID string
}

// Matches reports whether org already carries exactly these identifiers.
func (ids ExternalIDs) Matches(org *Organization) bool {
	return org.StripeCustomerID != nil && org.StripeSubscriptionID != nil &&
		*org.StripeCustomerID == ids.CustomerID && *org.StripeSubscriptionID == ids.SubscriptionID
}

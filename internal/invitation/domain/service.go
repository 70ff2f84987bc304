package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/smallbiznis/clubhouse/pkg/rls"
)

type InviteRequest struct {
	OrgID    snowflake.ID
	Email    string
	FullName string
	// OrgName is optional and only used to personalise the message.
	OrgName string
}

type InviteResult struct {
	InvitationID snowflake.ID
	Status       InvitationStatus
	// AlreadySent is set when an earlier call delivered the invitation.
	AlreadySent bool
}

// Delivery is what the identity system receives for one invitation.
type Delivery struct {
	OrgID       snowflake.ID
	Email       string
	FullName    string
	OrgName     string
	Role        string
	Permissions map[string]bool
}

// Sender hands an invitation to the identity system. Returning
// ErrAlreadyInvited means the invitee already has an account or pending
// invite there, which counts as delivered.
type Sender interface {
	SendInvite(ctx context.Context, delivery Delivery) error
}

type RetryFilter struct {
	UpdatedBefore time.Time
	MaxAttempts   int
	Limit         int
}

type Service interface {
	InviteAdmin(ctx context.Context, cred rls.ServiceCredential, req InviteRequest) (*InviteResult, error)
	ListRetryable(ctx context.Context, cred rls.ServiceCredential, filter RetryFilter) ([]Invitation, error)
	ListMissingAdmins(ctx context.Context, cred rls.ServiceCredential, activatedBefore time.Time, limit int) ([]PendingAdmin, error)
}

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByOrgEmail(ctx context.Context, orgID snowflake.ID, email string) (*Invitation, error)
	Insert(ctx context.Context, invite *Invitation) error
	MarkSent(ctx context.Context, id snowflake.ID, now time.Time) error
	MarkFailed(ctx context.Context, id snowflake.ID, reason string, now time.Time) error
	ListRetryable(ctx context.Context, filter RetryFilter) ([]Invitation, error)
	ListMissingAdmins(ctx context.Context, activatedBefore time.Time, limit int) ([]PendingAdmin, error)
}

var (
	ErrInvalidEmail        = errors.New("invalid_email")
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrAlreadyInvited      = errors.New("already_invited")
	ErrInviteFailed        = errors.New("invite_failed")
	ErrPersistence         = errors.New("persistence_error")
)

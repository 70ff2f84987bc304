package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type InvitationStatus string

const (
	StatusPending InvitationStatus = "pending"
	StatusSent    InvitationStatus = "sent"
	StatusFailed  InvitationStatus = "failed"
)

// Invitation tracks delivery of an organization invite. One row exists per
// organization and email.
type Invitation struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;uniqueIndex:ux_organization_invitations_org_email,priority:1" json:"organization_id"`
	Email       string            `gorm:"type:text;not null;uniqueIndex:ux_organization_invitations_org_email,priority:2" json:"email"`
	FullName    string            `gorm:"type:text;not null" json:"full_name"`
	Role        string            `gorm:"type:text;not null" json:"role"`
	Permissions datatypes.JSONMap `json:"permissions"`
	Status      InvitationStatus  `gorm:"type:text;not null;index" json:"status"`
	Attempts    int               `gorm:"not null" json:"attempts"`
	LastError   *string           `gorm:"type:text" json:"last_error,omitempty"`
	SentAt      *time.Time        `json:"sent_at,omitempty"`
	CreatedAt   time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Invitation) TableName() string { return "organization_invitations" }

// PendingAdmin is an active organization whose administrator has no
// invitation row yet.
type PendingAdmin struct {
	OrgID        snowflake.ID
	ContactEmail string
	ContactName  string
	OrgName      string
}

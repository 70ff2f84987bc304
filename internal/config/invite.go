package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PermissionCreateEvents        = "can_create_events"
	PermissionAddMembers          = "can_add_members"
	PermissionUploadDocuments     = "can_upload_documents"
	PermissionCreateAnnouncements = "can_create_announcements"
)

// AdminRole is the only role a first administrator invitation can carry.
const AdminRole = "admin"

// InvitePolicy describes the role and permission flags attached to the
// first administrator invitation of a new organization. Only the flags are
// configurable.
type InvitePolicy struct {
	Role        string          `mapstructure:"role"`
	Permissions map[string]bool `mapstructure:"permissions"`
}

func DefaultInvitePolicy() InvitePolicy {
	return InvitePolicy{
		Role: AdminRole,
		Permissions: map[string]bool{
			PermissionCreateEvents:        true,
			PermissionAddMembers:          true,
			PermissionUploadDocuments:     false,
			PermissionCreateAnnouncements: false,
		},
	}
}

// Clone returns a copy that callers may mutate freely.
func (p InvitePolicy) Clone() InvitePolicy {
	out := InvitePolicy{Role: p.Role, Permissions: make(map[string]bool, len(p.Permissions))}
	for k, v := range p.Permissions {
		out.Permissions[k] = v
	}
	return out
}

type InvitePolicyHolder struct {
	current atomic.Value // holds InvitePolicy
}

// NewStaticInvitePolicy returns a holder that never reloads.
func NewStaticInvitePolicy(policy InvitePolicy) *InvitePolicyHolder {
	policy = normalizeInvitePolicy(policy)
	policy.Role = AdminRole
	holder := &InvitePolicyHolder{}
	holder.current.Store(policy)
	return holder
}

// NewInvitePolicyHolder reads invite.yml (or INVITE_POLICY_PATH) and keeps
// watching it. A missing file falls back to DefaultInvitePolicy.
func NewInvitePolicyHolder(cfg Config) (*InvitePolicyHolder, error) {
	v := viper.New()

	if cfg.InvitePolicyPath != "" {
		v.SetConfigFile(cfg.InvitePolicyPath)
	} else {
		v.SetConfigName("invite")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/clubhouse")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	holder := &InvitePolicyHolder{}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read invite policy: %w", err)
		}
		holder.current.Store(DefaultInvitePolicy())
		return holder, nil
	}

	policy, err := decodeInvitePolicy(v)
	if err != nil {
		return nil, err
	}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeInvitePolicy(v)
		if err != nil {
			zap.L().Warn("invite policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		zap.L().Info("invite policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *InvitePolicyHolder) Get() InvitePolicy {
	return h.current.Load().(InvitePolicy).Clone()
}

func decodeInvitePolicy(v *viper.Viper) (InvitePolicy, error) {
	var policy InvitePolicy
	if err := v.UnmarshalKey("invite", &policy); err != nil {
		return InvitePolicy{}, fmt.Errorf("decode invite policy: %w", err)
	}
	policy = normalizeInvitePolicy(policy)
	if err := validateInvitePolicy(policy); err != nil {
		return InvitePolicy{}, err
	}
	return policy, nil
}

// normalizeInvitePolicy fills flags the file does not mention from the defaults.
func normalizeInvitePolicy(policy InvitePolicy) InvitePolicy {
	defaults := DefaultInvitePolicy()
	out := InvitePolicy{
		Role:        strings.ToLower(strings.TrimSpace(policy.Role)),
		Permissions: make(map[string]bool, len(defaults.Permissions)),
	}
	if out.Role == "" {
		out.Role = defaults.Role
	}
	for k, v := range defaults.Permissions {
		out.Permissions[k] = v
	}
	for k, v := range policy.Permissions {
		out.Permissions[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}

func validateInvitePolicy(policy InvitePolicy) error {
	if policy.Role != AdminRole {
		return fmt.Errorf("invite.role: must be %q, got %q", AdminRole, policy.Role)
	}
	for key := range policy.Permissions {
		if !strings.HasPrefix(key, "can_") {
			return fmt.Errorf("invite.permissions: unknown flag %q", key)
		}
	}
	return nil
}

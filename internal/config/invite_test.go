package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvitePolicyHolderDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewInvitePolicyHolder(Config{InvitePolicyPath: filepath.Join(t.TempDir(), "missing.yml")})
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, "admin", policy.Role)
	assert.True(t, policy.Permissions[PermissionCreateEvents])
	assert.True(t, policy.Permissions[PermissionAddMembers])
	assert.False(t, policy.Permissions[PermissionUploadDocuments])
	assert.False(t, policy.Permissions[PermissionCreateAnnouncements])
}

func TestNewInvitePolicyHolderMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invite.yml")
	content := []byte("invite:\n  permissions:\n    can_upload_documents: true\n    can_add_members: false\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	holder, err := NewInvitePolicyHolder(Config{InvitePolicyPath: path})
	require.NoError(t, err)

	policy := holder.Get()
	assert.Equal(t, "admin", policy.Role)
	assert.True(t, policy.Permissions[PermissionCreateEvents])
	assert.False(t, policy.Permissions[PermissionAddMembers])
	assert.True(t, policy.Permissions[PermissionUploadDocuments])
}

func TestNewInvitePolicyHolderRejectsUnknownFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invite.yml")
	require.NoError(t, os.WriteFile(path, []byte("invite:\n  permissions:\n    delete_everything: true\n"), 0o600))

	_, err := NewInvitePolicyHolder(Config{InvitePolicyPath: path})
	require.Error(t, err)
}

func TestInvitePolicyGetReturnsCopy(t *testing.T) {
	holder := NewStaticInvitePolicy(DefaultInvitePolicy())

	first := holder.Get()
	first.Permissions[PermissionUploadDocuments] = true

	assert.False(t, holder.Get().Permissions[PermissionUploadDocuments])
}

func TestNewInvitePolicyHolderRejectsOtherRoles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invite.yml")
	require.NoError(t, os.WriteFile(path, []byte("invite:\n  role: owner\n  permissions:\n    can_add_members: true\n"), 0o600))

	_, err := NewInvitePolicyHolder(Config{InvitePolicyPath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invite.role")
}

func TestNewInvitePolicyHolderAcceptsExplicitAdminRole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invite.yml")
	require.NoError(t, os.WriteFile(path, []byte("invite:\n  role: Admin\n"), 0o600))

	holder, err := NewInvitePolicyHolder(Config{InvitePolicyPath: path})
	require.NoError(t, err)
	assert.Equal(t, AdminRole, holder.Get().Role)
}

func TestNewStaticInvitePolicyPinsAdminRole(t *testing.T) {
	policy := DefaultInvitePolicy()
	policy.Role = "member"

	assert.Equal(t, AdminRole, NewStaticInvitePolicy(policy).Get().Role)
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"loanops/internal/config"
	"loanops/internal/engine/auth"
)

func TestOpenWithoutConfigUsesDefaults(t *testing.T) {
	rt, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer rt.Close()
	require.Equal(t, DefaultOrgID, rt.Config.Org.ID)
	require.Nil(t, rt.Engine.Cache)
}

func TestBootstrapAdminsIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	yml := strings.Replace(config.GenerateDefault("acme"), "bootstrap_admins: []", "bootstrap_admins: [root]", 1)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loanops.yml"), []byte(yml), 0o644))
	ctx := context.Background()

	rt, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, rt.Engine.Auth.Authorize(ctx, "root", auth.PermRBACManage))
	require.NoError(t, Bootstrap(ctx, rt.Engine))
	require.NoError(t, rt.Close())

	rt, err = Open(ctx, dir)
	require.NoError(t, err)
	defer rt.Close()
	roles, err := rt.Engine.Repo.UserRoles(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, []string{"admin"}, roles)

	var granted int
	require.NoError(t, rt.DB.QueryRow(`SELECT COUNT(*) FROM events WHERE type='rbac.role_granted'`).Scan(&granted))
	require.Equal(t, 1, granted)
}

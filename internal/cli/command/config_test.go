package command

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clicfg "github.com/norpie/constellation/internal/cli/config"
)

// runWithConfig runs meshctl against a fixed config path so profile
// changes persist across calls.
func runWithConfig(t *testing.T, path string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &bytes.Buffer{}
	err := app.RunContext(context.Background(), append([]string{"meshctl", "--config", path}, args...))
	return out.String(), err
}

func TestProfiles(t *testing.T) {
	t.Setenv("MESHCTL_SERVER", "")
	t.Setenv("MESHCTL_PROFILE", "")
	path := filepath.Join(t.TempDir(), "meshctl.yaml")

	out, err := runWithConfig(t, path, "config", "profile", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No profiles")

	_, err = runWithConfig(t, path, "config", "profile", "add", "--server", "http://10.0.0.5:7080", "--token", "tok", "prod")
	require.NoError(t, err)
	_, err = runWithConfig(t, path, "config", "profile", "add", "--server", "unix:///run/admin.sock", "local")
	require.NoError(t, err)

	cfg, err := clicfg.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.CurrentProfile, "first profile becomes current")
	assert.Equal(t, "tok", cfg.Profiles["prod"].Token)

	_, err = runWithConfig(t, path, "config", "profile", "use", "local")
	require.NoError(t, err)

	out, err = runWithConfig(t, path, "config", "profile", "list")
	require.NoError(t, err)
	mustContain(t, out, "local", "prod", "unix:///run/admin.sock", "set")
	assert.NotContains(t, out, "tok\n")

	_, err = runWithConfig(t, path, "config", "profile", "use", "missing")
	assert.ErrorIs(t, err, clicfg.ErrUnknownProfile)

	_, err = runWithConfig(t, path, "config", "profile", "rm", "local")
	require.NoError(t, err)
	cfg, err = clicfg.Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.CurrentProfile)
	assert.Equal(t, []string{"prod"}, cfg.ProfileNames())
}

func TestProfileSelectsServer(t *testing.T) {
	t.Setenv("MESHCTL_SERVER", "")
	t.Setenv("MESHCTL_TOKEN", "")
	t.Setenv("MESHCTL_PROFILE", "")
	fake := newFake()
	fake.Token = "tok"
	srv := fake.Server(t)

	path := filepath.Join(t.TempDir(), "meshctl.yaml")
	cfg := clicfg.Default()
	cfg.Profiles["lab"] = clicfg.Profile{Server: srv.URL, Token: "tok"}
	require.NoError(t, clicfg.Save(cfg, path))

	_, err := runWithConfig(t, path, "--profile", "lab", "status")
	require.NoError(t, err)

	_, err = runWithConfig(t, path, "--profile", "nope", "status")
	assert.ErrorIs(t, err, clicfg.ErrUnknownProfile)
}

func TestConfigCheck(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "meshd.yaml")
	yaml := "node:\n  identity: billing.v2\nstorage:\n  backend: memory\nadmission:\n  passphrase: correct-horse-battery\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	res := run(t, nil, "", "config", "check", path)
	require.NoError(t, res.err)
	mustContain(t, res.stdout, "identity: billing.v2", "backend: memory")
	assert.NotContains(t, res.stdout, "correct-horse-battery")
	mustContain(t, res.stderr, "ok")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("node:\n  identity: nope\n"), 0o600))
	res = run(t, nil, "", "config", "check", bad)
	assert.ErrorContains(t, res.err, "node.identity")
}

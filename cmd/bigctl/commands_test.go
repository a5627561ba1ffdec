package main

import (
	"bytes"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BIGAPI_JWT_SECRET", strings.Repeat("j", 40))
	t.Setenv("BIGAPI_APIKEY_PEPPER", strings.Repeat("p", 40))
	t.Setenv("BIGAPI_DATABASE_TYPE", "sqlite")
	t.Setenv("BIGAPI_DATABASE_DSN", filepath.Join(t.TempDir(), "bigctl.db"))
	t.Setenv("BIGAPI_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSeedDemoThenRevoke(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "seed-demo")
	require.NoError(t, err)
	assert.Contains(t, out, "created account demo_user_001 with 10000 credits")
	assert.Contains(t, out, "added 3 demo usage events")
	assert.Regexp(t, `secret \(shown once\): big_live_[A-Za-z0-9_-]{43}`, out)

	match := regexp.MustCompile(`created API key (\S+) `).FindStringSubmatch(out)
	require.Len(t, match, 2)
	keyID := match[1]

	// 再次执行保留已有账户
	out, err = execute(t, "seed-demo")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = execute(t, "revoke-key", "--account", "demo_user_001", keyID)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked "+keyID)

	_, err = execute(t, "revoke-key", "--account", "someone_else", keyID)
	assert.Error(t, err)
}

func TestCreateKey(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "create-key", "--account", "acct-1", "--name", "ci")
	require.NoError(t, err)
	assert.Regexp(t, `secret:  big_live_`, out)
	assert.Regexp(t, `preview: big_live_\.\.\.`, out)

	_, err = execute(t, "create-key", "--account", "acct-1")
	assert.Error(t, err)
}

func TestIssueSession(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "issue-session", "--account", "acct-1", "--email", "a@example.com")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "."), 3)
}

func TestMigrate(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema up to date (sqlite)")
}

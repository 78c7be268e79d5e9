package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/admin/internal/web/auth"
)

const testSecret = "0123456789abcdef0123"

// run executes the root command with args and returns stdout and stderr
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func usersConfig(t *testing.T, secret string) string {
	t.Helper()
	hash, err := auth.HashPassword("s3cret-pass")
	require.NoError(t, err)
	yaml := `
users:
  - id: 7
    username: marguerite
    password_hash: "` + hash + `"
    roles: [librarian, editor]
  - id: 1
    username: ada
    password_hash: "` + hash + `"
    superuser: true
`
	if secret != "" {
		yaml += "auth:\n  secret: " + secret + "\n"
	}
	return writeConfig(t, yaml)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "serve", "token", "tasks", "users"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "conduit-admin version: dev")
	assert.Contains(t, out, "Go version: go")
}

func TestUsersList(t *testing.T) {
	out, _, err := run(t, "users", "list", "--config", usersConfig(t, ""))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[2], "ada")
	assert.Contains(t, lines[2], "true")
	assert.Contains(t, lines[3], "marguerite")
	assert.Contains(t, lines[3], "librarian,editor")
}

func TestUsersListEmpty(t *testing.T) {
	out, _, err := run(t, "users", "list", "--config", writeConfig(t, "{}\n"))
	require.NoError(t, err)
	assert.Equal(t, "No users configured.\n", out)
}

func TestUsersHash(t *testing.T) {
	out, _, err := run(t, "users", "hash", "--password", "open sesame")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("open sesame", strings.TrimSpace(out)))
}

func TestUsersHashPrompts(t *testing.T) {
	orig := askNewPassword
	defer func() { askNewPassword = orig }()
	askNewPassword = func() (string, error) { return "prompted", nil }

	out, _, err := run(t, "users", "hash")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("prompted", strings.TrimSpace(out)))
}

func TestTokenCommand(t *testing.T) {
	path := usersConfig(t, testSecret)

	out, stderr, err := run(t, "token", "ada", "--password", "s3cret-pass", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, stderr, "token for ada expires in 12h0m0s")

	identity, err := auth.NewAuthService(testSecret, 0).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(1), identity.UserID)
	assert.True(t, identity.Superuser)
}

func TestTokenCommandPrompts(t *testing.T) {
	orig := askPassword
	defer func() { askPassword = orig }()
	var asked string
	askPassword = func(message string) (string, error) {
		asked = message
		return "s3cret-pass", nil
	}

	out, _, err := run(t, "token", "marguerite", "--config", usersConfig(t, testSecret))
	require.NoError(t, err)
	assert.Equal(t, "Password for marguerite:", asked)
	assert.NotEmpty(t, strings.TrimSpace(out))
}

func TestTokenCommandErrors(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		out, _, err := run(t, "token", "ada", "--password", "nope", "--config", usersConfig(t, testSecret))
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.Empty(t, out)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, stderr, err := run(t, "token", "adda", "--password", "x", "--config", usersConfig(t, testSecret))
		require.Error(t, err)
		assert.Contains(t, stderr, "UNKNOWN USER: adda")
		assert.Contains(t, stderr, "ada")
	})

	t.Run("missing secret", func(t *testing.T) {
		_, stderr, err := run(t, "token", "ada", "--password", "s3cret-pass", "--config", usersConfig(t, ""))
		require.Error(t, err)
		assert.Contains(t, stderr, "auth.secret is not set")
	})

	t.Run("demo accounts", func(t *testing.T) {
		path := writeConfig(t, "auth:\n  secret: "+testSecret+"\n")
		out, _, err := run(t, "token", "reader", "--password", "reader", "--demo", "--config", path)
		require.NoError(t, err)
		assert.NotEmpty(t, strings.TrimSpace(out))
	})
}

func TestTasksCommandNeedsSharedStore(t *testing.T) {
	_, stderr, err := run(t, "tasks", "list", "--config", writeConfig(t, "{}\n"))
	require.Error(t, err)
	assert.Contains(t, stderr, "private to the server process")
}

func TestTasksCommandRejectsBadID(t *testing.T) {
	_, _, err := run(t, "tasks", "show", "not-a-uuid", "--config", writeConfig(t, "{}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task id")
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out

	err := app.Run(t.Context(), append([]string{serviceName}, args...))

	return out.String(), err
}

func writeDocument(t *testing.T, dir, kind, name, body string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, kind), 0o750))

	path := filepath.Join(dir, kind, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestRulesValidateCommand(t *testing.T) {
	t.Run("valid documents", func(t *testing.T) {
		dir := t.TempDir()
		writeDocument(t, dir, "rules", "large.json", `{
			"id": "large",
			"scope_type": "MERCHANT",
			"scope_id": "m-1",
			"active": true,
			"condition": {"field": "amount", "operator": "greaterThan", "value": 1000},
			"approver_roles": [{"role": "MERCHANT_ADMIN", "level": 0}]
		}`)

		out, err := run(t, "rules", "validate", dir)
		require.NoError(t, err)
		assert.Contains(t, out, "all documents are valid")
	})

	t.Run("invalid documents are listed", func(t *testing.T) {
		dir := t.TempDir()
		bad := writeDocument(t, dir, "rules", "bad.json", `{"id": "bad", "scope_type": "GALAXY"}`)

		out, err := run(t, "rules", "validate", dir)
		require.ErrorIs(t, err, ErrInvalidDocuments)
		assert.Contains(t, out, bad)
	})

	t.Run("directory is required", func(t *testing.T) {
		_, err := run(t, "rules", "validate")
		assert.Error(t, err)
	})
}

func TestEscalateCommand(t *testing.T) {
	t.Run("empty store", func(t *testing.T) {
		out, err := run(t, "escalate", "--database-url", t.TempDir(), "--log-level", "error")
		require.NoError(t, err)
		assert.Contains(t, out, "escalated 0 approval(s)")
	})

	t.Run("invalid engine config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "engine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("retry_attempts: 0\n"), 0o600))

		_, err := run(t, "escalate", "--database-url", t.TempDir(), "--engine-config", path)
		assert.Error(t, err)
	})

	t.Run("unsupported event bus", func(t *testing.T) {
		_, err := run(t, "escalate", "--database-url", t.TempDir(), "--event-bus", "nats")
		assert.Error(t, err)
	})
}

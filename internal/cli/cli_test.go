package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carrel/internal/catalogtest"
)

// cliEnv is a config file pointing a fresh database at a fake catalog.
type cliEnv struct {
	configPath string
	server     *catalogtest.Server
}

func createEnv(t *testing.T) *cliEnv {
	t.Helper()

	server := catalogtest.New()
	t.Cleanup(server.Close)
	server.RequireToken("tok-1")
	t.Setenv("CARREL_CATALOG_TOKEN", "tok-1")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
database_path: %s
catalog:
  base_url: %s
`, filepath.Join(dir, "carrel.db"), server.URL())
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	return &cliEnv{configPath: configPath, server: server}
}

// run executes one carrel command with JSON output and returns stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append([]string{"--config", e.configPath, "--format", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) addDocument(t *testing.T, title string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	doc := fmt.Sprintf(`{
		"title": %q,
		"content_type": "checklist",
		"content": {"items": [{"text": "Step one"}]},
		"tags": ["test"]
	}`, title)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	out, err := e.run(t, "add", path)
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotEmpty(t, result["id"])
	return result["id"]
}

func TestCLI_AddAndList(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Morning routine")

	out, err := env.run(t, "list")
	require.NoError(t, err)

	var docs []documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)
	assert.Equal(t, "Morning routine", docs[0].Title)
	assert.Equal(t, "private", docs[0].Visibility)
	assert.Equal(t, "synced", docs[0].SyncStatus)
}

func TestCLI_AddRejectsBadContent(t *testing.T) {
	env := createEnv(t)
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"title":"x","content_type":"poem","content":{}}`), 0o644))

	_, err := env.run(t, "add", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_PublishQueuesWithoutSync(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	out, err := env.run(t, "publish", "--no-sync", id)
	require.NoError(t, err)

	var doc documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "queued", doc.SyncStatus)
	assert.Equal(t, "public", doc.Visibility)
	assert.Empty(t, env.server.PublishCalls())
}

func TestCLI_PublishSyncsImmediately(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	out, err := env.run(t, "publish", id)
	require.NoError(t, err)

	var doc documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "synced", doc.SyncStatus)
	require.Len(t, env.server.PublishCalls(), 1)
	assert.Equal(t, "Routine", env.server.PublishCalls()[0].Title())
}

func TestCLI_UnpublishAfterPublish(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	_, err := env.run(t, "publish", id)
	require.NoError(t, err)

	out, err := env.run(t, "unpublish", id)
	require.NoError(t, err)

	var doc documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "synced", doc.SyncStatus)
	assert.Equal(t, "private", doc.Visibility)
	assert.Nil(t, doc.PublicID)
	require.Len(t, env.server.UnpublishCalls(), 1)
}

func TestCLI_UnpublishUnpublished(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	_, err := env.run(t, "unpublish", id)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCLI_StatusCountsQueue(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	_, err := env.run(t, "publish", "--no-sync", id)
	require.NoError(t, err)

	out, err := env.run(t, "status")
	require.NoError(t, err)

	var status syncStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Pending)
	assert.Zero(t, status.Failed)
	require.Len(t, status.Documents, 1)
	assert.Equal(t, id, status.Documents[0].ID)
	assert.Equal(t, "queued", status.Documents[0].SyncStatus)
}

func TestCLI_StatusListsFailedDocuments(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	env.server.ForceStatuses(403)
	_, err := env.run(t, "publish", id)
	require.Error(t, err)

	out, err := env.run(t, "status")
	require.NoError(t, err)

	var status syncStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, 1, status.Failed)
	require.Len(t, status.Documents, 1)
	assert.Equal(t, "failed", status.Documents[0].SyncStatus)
	require.NotNil(t, status.Documents[0].SyncError)
	assert.NotNil(t, status.LastDrain)
}

func TestCLI_SyncDrainsQueue(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	_, err := env.run(t, "publish", "--no-sync", id)
	require.NoError(t, err)

	_, err = env.run(t, "sync")
	require.NoError(t, err)
	require.Len(t, env.server.PublishCalls(), 1)

	out, err := env.run(t, "status")
	require.NoError(t, err)
	var status syncStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Zero(t, status.Pending)
}

func TestCLI_SyncReportsFailures(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")
	env.server.ForceStatuses(403)

	_, err := env.run(t, "publish", id)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := env.run(t, "list")
	require.NoError(t, err)
	var docs []documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "failed", docs[0].SyncStatus)
	require.NotNil(t, docs[0].SyncError)
}

func TestCLI_RetryAfterFailure(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	env.server.ForceStatuses(403)
	_, err := env.run(t, "publish", id)
	require.Error(t, err)

	out, err := env.run(t, "retry", id)
	require.NoError(t, err)

	var doc documentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "synced", doc.SyncStatus)
}

func TestCLI_DeleteRemovesDocument(t *testing.T) {
	env := createEnv(t)
	id := env.addDocument(t, "Routine")

	_, err := env.run(t, "delete", id)
	require.NoError(t, err)

	out, err := env.run(t, "list")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(bytes.TrimSpace([]byte(out))))
}

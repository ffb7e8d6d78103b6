package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())

	assert.Contains(t, c.WrapUp, "We have only a few minutes left")
	assert.Contains(t, c.Conclude, "Our session is about to end")
	assert.Contains(t, c.ProfileJSON, `"emotionalState"`)
	assert.Contains(t, c.SessionScores, `"sessionDetails"`)
}

func TestLoadOverridesKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("persona: You are a calm guide.\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "You are a calm guide.", c.Persona)
	assert.Equal(t, Default().Engagement, c.Engagement)
}

func TestLoadRejectsEmptyPrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conclude: \"\"\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

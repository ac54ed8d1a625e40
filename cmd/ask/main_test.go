package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderReply_Raw(t *testing.T) {
	out, err := renderReply("**bold**", true, 80)
	require.NoError(t, err)
	assert.Equal(t, "**bold**\n", out)

	out, err = renderReply("line\n", true, 80)
	require.NoError(t, err)
	assert.Equal(t, "line\n", out)
}

func TestRenderReply_Markdown(t *testing.T) {
	out, err := renderReply("# Title\n\nSome **bold** text.", false, 80)
	require.NoError(t, err)
	assert.Contains(t, out, "Title")
	assert.Contains(t, out, "bold")
	assert.NotContains(t, out, "**")
}

func TestAskCommand_RequiresPrompt(t *testing.T) {
	cmd := newAskCommand()
	cmd.SetArgs([]string{})
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.Execute()
	assert.Error(t, err)
}

package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aixgo-dev/datapilot"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "datapilot.yaml")
	cfg := "logging:\n  level: error\n" +
		"warehouse:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "wh.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func newTestCmd(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func TestVersion(t *testing.T) {
	cmd, out := newTestCmd(t)
	versionCmd.Run(cmd, nil)
	assert.Contains(t, out.String(), "datapilot "+datapilot.Version)
}

func TestCommandTree(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "ask", "chat", "ingest", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestAskCommand(t *testing.T) {
	configFile = writeConfig(t)
	t.Cleanup(func() { configFile = "" })

	cmd, out := newTestCmd(t)
	require.NoError(t, askCmd.RunE(cmd, []string{"hello"}))
	assert.Contains(t, out.String(), "Hello!")
}

func TestIngestWithoutCorpus(t *testing.T) {
	configFile = writeConfig(t)
	t.Cleanup(func() { configFile = "" })

	cmd, _ := newTestCmd(t)
	assert.Error(t, ingestCmd.RunE(cmd, nil))
}

type scriptedPrompter struct {
	lines   []string
	history []string
}

func (p *scriptedPrompter) Prompt(string) (string, error) {
	if len(p.lines) == 0 {
		return "", io.EOF
	}
	l := p.lines[0]
	p.lines = p.lines[1:]
	return l, nil
}

func (p *scriptedPrompter) AppendHistory(item string) { p.history = append(p.history, item) }

func TestChatLoop(t *testing.T) {
	configFile = writeConfig(t)
	t.Cleanup(func() { configFile = "" })

	cmd, out := newTestCmd(t)
	p := &scriptedPrompter{lines: []string{"", "/trace", "hello", "/new", "/quit", "never read"}}
	err := withSystem(cmd.Context(), func(sys *datapilot.System) error {
		return chat(cmd, sys, p)
	})
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "trace true")
	assert.Contains(t, text, "Hello!")
	assert.Contains(t, text, "intent: direct_answer")
	assert.Contains(t, text, "new session")
	assert.Equal(t, []string{"/trace", "hello", "/new", "/quit"}, p.history)
	assert.False(t, strings.Contains(text, "never read"))
}

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/config"
	"proxie/pkg/persistence"
	"proxie/pkg/usage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.Mock = true
	cfg.LLM.CacheBackend = "memory"
	cfg.Sessions.Backend = config.SessionBackendMemory
	cfg.Database.Path = persistence.MemoryPath
	cfg.Memory.Embeddings = false
	cfg.Server.DemoData = true
	return cfg
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNewAppWiresDemoData(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	c, err := a.market.Consumer(ctx, "demo-consumer")
	require.NoError(t, err)
	assert.Equal(t, "Jordan Demo", c.Name)
	require.NoError(t, a.sessions.Health(ctx))
	require.NoError(t, a.ledger.Health(ctx))
}

func TestReplGuestTurn(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	in := strings.NewReader("hi, I need a haircut\n\n/quit\n")

	err := repl(context.Background(), a.orch, &chatOptions{role: "guest", sessionID: "cli-1"}, in, &out)
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "session cli-1")
	assert.Contains(t, text, "🤖 ")
	assert.Equal(t, 1, strings.Count(text, "🤖 "), "blank lines and /quit are not turns")

	sess, err := a.sessions.Get(context.Background(), "cli-1")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Messages)
}

func TestReplReportsTurnErrors(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer

	err := repl(context.Background(), a.orch, &chatOptions{role: "wizard"}, strings.NewReader("hello\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "⚠️")
}

func TestLedgerUsageReport(t *testing.T) {
	ledger := usage.NewMemoryLedger(usage.Limits{})
	ctx := context.Background()
	require.NoError(t, ledger.Record(ctx, usage.Record{Model: "mock/a", Feature: "chat", SessionID: "s1", PromptTokens: 10, CompletionTokens: 5, CostUSD: 0.01}))
	require.NoError(t, ledger.Record(ctx, usage.Record{Model: "mock/a", Feature: "chat", SessionID: "s2", PromptTokens: 1, CompletionTokens: 1, CostUSD: 0.5}))

	var out bytes.Buffer
	require.NoError(t, ledgerUsage(ctx, ledger, &usageOptions{sessionID: "s1", limit: 10}, &out))
	assert.Contains(t, out.String(), "1 calls, 10 prompt + 5 completion tokens, $0.0100")
	assert.Contains(t, out.String(), "mock/a")
}

func TestLoadConfigAppliesMockFlag(t *testing.T) {
	t.Setenv(passwordEnv, "")
	dir := t.TempDir()
	cfg, err := loadConfig(&rootOptions{configPath: filepath.Join(dir, "proxie.json"), secretsDir: dir, mock: true})
	require.NoError(t, err)
	assert.True(t, cfg.LLM.Mock)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"serve", "chat", "usage", "cache", "secrets", "mcp"} {
		assert.Contains(t, names, want)
	}
}

func TestVersionFlag(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "dev (commit none")
}

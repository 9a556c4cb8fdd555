package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxie/pkg/mcpserver"
	"proxie/pkg/tools"
)

func TestMCPServesAppTools(t *testing.T) {
	a := newTestApp(t)
	srv, err := mcpserver.NewServer(a.tools, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, tools.ConsumerTools, srv.Tools())

	resp := srv.HandleMessage(context.Background(), tools.Env{ConsumerID: "demo-consumer"},
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_consumer_profile","arguments":{}}}`))
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	assert.Equal(t, false, resp.Result.(map[string]any)["isError"])
}

func TestMCPStdioCommand(t *testing.T) {
	t.Setenv(passwordEnv, "")
	dir := t.TempDir()
	path := filepath.Join(dir, "proxie.json")
	doc := `{
		"llm": {"mock": true, "cache_backend": "memory"},
		"sessions": {"backend": "memory"},
		"database": {"path": ":memory:"},
		"memory": {"embeddings": false}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	root := newRootCmd()
	var out bytes.Buffer
	root.SetIn(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n"))
	root.SetOut(&out)
	root.SetArgs([]string{"mcp", "--stdio", "--config", path, "--secrets-dir", dir, "--tools", "get_offers, accept_offer"})
	require.NoError(t, root.Execute())

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp), out.String())
	require.Len(t, resp.Result.Tools, 2)
	assert.Equal(t, "get_offers", resp.Result.Tools[0].Name)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b,"))
	assert.Nil(t, splitList(""))
}

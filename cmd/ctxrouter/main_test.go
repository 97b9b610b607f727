package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ctxrouter/internal/pipeline"
)

// isolate points HOME at a temp dir so config, cache and learning files
// stay inside the test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CTXROUTER_LOGGING_LEVEL", "error")
	return home
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, version)
}

func TestRouteCommand(t *testing.T) {
	t.Run("request from stdin", func(t *testing.T) {
		isolate(t)
		out, err := execute(t,
			`{"operation_id":"op-1","kind":"build","intent_text":"implement dashboard with caching","scope":{"file_count":8},"session_id":"s1"}`,
			"route", "-")
		require.NoError(t, err)

		var resp pipeline.Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Equal(t, "op-1", resp.OperationID)
		assert.True(t, resp.Enhanced)
		assert.NotEmpty(t, resp.Providers)
	})

	t.Run("request from flags", func(t *testing.T) {
		isolate(t)
		out, err := execute(t, "", "route", "--kind", "read", "--files", "1")
		require.NoError(t, err)

		var resp pipeline.Response
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.False(t, resp.Enhanced)
		assert.Empty(t, resp.Providers)
	})

	t.Run("unparseable request", func(t *testing.T) {
		isolate(t)
		_, err := execute(t, "not json", "route", "-")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid request")
	})
}

func TestCompressCommand(t *testing.T) {
	content := strings.Repeat("In order to improve performance, the configuration should basically use caching.\n\n\n", 3)

	t.Run("raw output is shorter", func(t *testing.T) {
		isolate(t)
		out, err := execute(t, content, "compress", "--pressure", "0.8", "--raw", "-")
		require.NoError(t, err)
		assert.NotEmpty(t, out)
		assert.Less(t, len(out), len(content))
	})

	t.Run("from file as json", func(t *testing.T) {
		home := isolate(t)
		path := filepath.Join(home, "notes.md")
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))

		out, err := execute(t, "", "compress", "--pressure", "0.3", path)
		require.NoError(t, err)

		var resp pipeline.CompressResponse
		require.NoError(t, json.Unmarshal([]byte(out), &resp))
		assert.Positive(t, resp.OriginalTokens)
		assert.False(t, resp.FallbackMode)
	})

	t.Run("compression outcomes persist between runs", func(t *testing.T) {
		isolate(t)
		_, err := execute(t, content, "compress", "--pressure", "0.5", "-")
		require.NoError(t, err)

		out, err := execute(t, "", "effectiveness", "--fingerprint", "anything")
		require.NoError(t, err)
		var got struct {
			Events int `json:"events"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, 1, got.Events)
	})

	t.Run("invalid flags", func(t *testing.T) {
		isolate(t)
		_, err := execute(t, content, "compress", "--pressure", "1.5", "-")
		assert.Error(t, err)

		_, err = execute(t, content, "compress", "--classification", "SECRET", "-")
		assert.Error(t, err)

		_, err = execute(t, "", "compress", "-")
		assert.Error(t, err)
	})
}

func TestEffectivenessCommand_RequiresFingerprint(t *testing.T) {
	isolate(t)
	_, err := execute(t, "", "effectiveness", "--shape", "only")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--fingerprint")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestServeHTTP_ShutsDownOnCancel(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, daemon)
	require.NoError(t, err)
	defer func() { _ = a.Close(context.Background()) }()

	port := freePort(t)
	done := make(chan error, 1)
	go func() { done <- serveHTTP(ctx, a, "127.0.0.1", port) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

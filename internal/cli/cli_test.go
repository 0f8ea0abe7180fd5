package cli_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rshade/apicache/internal/cli"
	"github.com/rshade/apicache/internal/config"
)

// setupCLITest isolates the config directory and environment overrides and
// registers cleanup for global state. It returns the config directory.
func setupCLITest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.EnvHome, home)
	t.Setenv(config.EnvLogLevel, "error")
	for _, env := range []string{
		config.EnvCacheBackend, config.EnvCacheDir, config.EnvCachePrefix,
		config.EnvCacheEnabled, config.EnvLogFormat, config.EnvServerAddress, config.EnvUpstream,
	} {
		t.Setenv(env, "")
	}
	config.ResetGlobalConfigForTest()
	t.Cleanup(config.ResetGlobalConfigForTest)
	return home
}

// run executes the root command with args as a fresh process would.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	config.ResetGlobalConfigForTest()

	var buf bytes.Buffer
	cmd := cli.NewRootCmd("test")
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSetGet(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			setupCLITest(t)

			out, err := run(t, "--backend", backend, "set", "/api/quotes/AAPL", `{"price":189.25}`, "--ttl", "5m")
			require.NoError(t, err)
			assert.Contains(t, out, "Cached /api/quotes/AAPL for 5m")

			out, err = run(t, "--backend", backend, "get", "/api/quotes/AAPL")
			require.NoError(t, err)
			assert.JSONEq(t, `{"price":189.25}`, out)
		})
	}
}

func TestSet_DefaultTTLFromPolicy(t *testing.T) {
	setupCLITest(t)
	out, err := run(t, "set", "/api/x/sentiment", `1`)
	require.NoError(t, err)
	assert.Contains(t, out, "for 10m")
}

func TestSet_Errors(t *testing.T) {
	setupCLITest(t)

	_, err := run(t, "set", "/api/x", `{not json`)
	require.Error(t, err)

	_, err = run(t, "set", "/api/x", `1`, "--ttl", "-5")
	require.Error(t, err)

	_, err = run(t, "--backend", "none", "set", "/api/x", `1`)
	require.ErrorContains(t, err, "no cache store available")

	_, err = run(t, "--backend", "redis", "set", "/api/x", `1`)
	require.ErrorContains(t, err, "--backend")
}

func TestGet_Miss(t *testing.T) {
	setupCLITest(t)
	_, err := run(t, "get", "/api/nothing")
	require.ErrorIs(t, err, cli.ErrCacheMiss)
}

// TestSetGet_Params pins that set keys on identity alone unless
// cache.params_on_set is enabled.
func TestSetGet_Params(t *testing.T) {
	setupCLITest(t)

	_, err := run(t, "set", "/api/signals", `"buy"`, "--param", "symbol=AAPL")
	require.NoError(t, err)
	_, err = run(t, "get", "/api/signals", "--param", "symbol=AAPL")
	require.ErrorIs(t, err, cli.ErrCacheMiss)
	_, err = run(t, "get", "/api/signals")
	require.NoError(t, err)

	_, err = run(t, "config", "set", "cache.params_on_set", "true")
	require.NoError(t, err)
	_, err = run(t, "set", "/api/signals", `"sell"`, "--param", "symbol=MSFT")
	require.NoError(t, err)
	out, err := run(t, "get", "/api/signals", "--param", "symbol=MSFT")
	require.NoError(t, err)
	assert.JSONEq(t, `"sell"`, out)
}

func TestInvalidateClearCleanup(t *testing.T) {
	setupCLITest(t)
	for _, identity := range []string{"signals/AAA", "signals/BBB", "sentiment/CCC"} {
		_, err := run(t, "set", identity, `1`)
		require.NoError(t, err)
	}

	out, err := run(t, "invalidate", "signals")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 2 entries")

	out, err = run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 0 expired entries")

	_, err = run(t, "clear")
	require.Error(t, err, "clear needs --yes when stdin is not a terminal")

	out, err = run(t, "clear", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 entry")

	_, err = run(t, "get", "sentiment/CCC")
	require.ErrorIs(t, err, cli.ErrCacheMiss)
}

func TestPrefixIsolation(t *testing.T) {
	setupCLITest(t)
	_, err := run(t, "--prefix", "dash", "set", "/api/a", `1`)
	require.NoError(t, err)

	_, err = run(t, "get", "/api/a")
	require.ErrorIs(t, err, cli.ErrCacheMiss)
	_, err = run(t, "--prefix", "dash", "get", "/api/a")
	require.NoError(t, err)
}

func TestTTL(t *testing.T) {
	setupCLITest(t)
	out, err := run(t, "ttl", "/api/x/signals", "/api/x/sentiment", "/api/x/overview", "/api/x/other")
	require.NoError(t, err)
	assert.Equal(t, "/api/x/signals\t5m\n/api/x/sentiment\t10m\n/api/x/overview\t15m\n/api/x/other\t15m\n", out)
}

func TestStats(t *testing.T) {
	setupCLITest(t)
	_, err := run(t, "set", "/api/a", `{"k":"v"}`)
	require.NoError(t, err)
	_, err = run(t, "set", "/api/b", `2`, "--ttl", "1")
	require.NoError(t, err)

	out, err := run(t, "stats", "--output", "json")
	require.NoError(t, err)
	var report cli.StatsReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "file", report.Backend)
	assert.Equal(t, "api_cache", report.Prefix)
	assert.True(t, report.Available)
	assert.Equal(t, 2, report.Inventory.Entries)
	assert.Positive(t, report.Inventory.Bytes)

	out, err = run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "CACHE STATS")
	assert.Contains(t, out, "Entries: 2")

	_, err = run(t, "stats", "--output", "xml")
	require.Error(t, err)
}

func TestFetch(t *testing.T) {
	setupCLITest(t)
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "Bearer abc", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"items":[{"name":"a"},{"name":"b"}]}}`))
	}))
	t.Cleanup(api.Close)

	out, err := run(t, "fetch", api.URL+"/overview", "-H", "Authorization: Bearer abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"items":[{"name":"a"},{"name":"b"}]}}`, out)

	out, err = run(t, "fetch", api.URL+"/overview", "--query", "data.items.#.name")
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b"]`, out)
	assert.Equal(t, int32(1), hits.Load(), "second fetch is served from cache")

	_, err = run(t, "fetch", api.URL+"/overview", "--query", "data.nope")
	require.ErrorContains(t, err, "matched nothing")

	_, err = run(t, "fetch", api.URL+"/overview", "--no-cache", "-H", "Authorization: Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	_, err = run(t, "fetch", api.URL+"/down")
	require.Error(t, err)
	_, err = run(t, "fetch", api.URL+"/down")
	require.Error(t, err)
	assert.Equal(t, int32(4), hits.Load(), "errors are not cached")

	_, err = run(t, "fetch", api.URL, "-H", "no-colon")
	require.Error(t, err)
}

func TestWarm(t *testing.T) {
	setupCLITest(t)
	var hits atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"path":"` + r.URL.Path + `"}`))
	}))
	t.Cleanup(api.Close)

	list := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(list, []byte("# quotes\n"+api.URL+"/b\n\n"+api.URL+"/c\n"), 0o600))

	out, err := run(t, "warm", api.URL+"/a", "--file", list, "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Warmed 3 of 3 URLs")
	assert.Equal(t, int32(3), hits.Load())

	out, err = run(t, "fetch", api.URL+"/c")
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/c"}`, out)
	assert.Equal(t, int32(3), hits.Load(), "warmed URL is served from cache")

	out, err = run(t, "warm", api.URL+"/a", api.URL+"/down")
	require.Error(t, err)
	assert.Contains(t, out, "Warmed 1 of 2 URLs")
	assert.Equal(t, int32(4), hits.Load())

	_, err = run(t, "warm")
	require.ErrorContains(t, err, "no URLs")
	_, err = run(t, "--backend", "none", "warm", api.URL+"/a")
	require.ErrorContains(t, err, "no cache store available")
	_, err = run(t, "warm", api.URL+"/a", "--batch-size", "0")
	require.Error(t, err)
}

func TestConfigCommands(t *testing.T) {
	home := setupCLITest(t)

	out, err := run(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration initialized successfully")
	_, err = os.Stat(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)

	_, err = run(t, "config", "init")
	require.ErrorContains(t, err, "already exists")
	_, err = run(t, "config", "init", "--force")
	require.NoError(t, err)

	_, err = run(t, "config", "set", "cache.backend", "sqlite")
	require.NoError(t, err)
	_, err = run(t, "config", "set", "cache.backend", "redis")
	require.Error(t, err)
	_, err = run(t, "config", "set", "no.such.key", "1")
	require.ErrorIs(t, err, config.ErrUnknownKey)

	out, err = run(t, "config", "get", "cache.backend")
	require.NoError(t, err)
	assert.Equal(t, "sqlite\n", out)

	// Environment overrides win over the file but are not written back.
	t.Setenv(config.EnvCacheBackend, "memory")
	out, err = run(t, "config", "get", "cache.backend")
	require.NoError(t, err)
	assert.Equal(t, "memory\n", out)
	_, err = run(t, "config", "set", "cache.prefix", "dash")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(home, "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "backend: sqlite")
	assert.Contains(t, string(data), "prefix: dash")

	out, err = run(t, "config", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Len(t, lines, len(config.Keys()))
	assert.Contains(t, out, "cache.prefix = dash")
}

func TestVersion(t *testing.T) {
	setupCLITest(t)
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "test")
}

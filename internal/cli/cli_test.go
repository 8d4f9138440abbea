package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watzon/cobble/internal/config"
	"github.com/watzon/cobble/internal/database"
	"github.com/watzon/cobble/internal/shop"
	"github.com/watzon/cobble/internal/status"
)

const testConfig = `
database:
  path: "%DB%"
sessions:
  - id: shop
    username: ShopBot
    server:
      host: localhost
    modules:
      chatgpt:
        enabled: true
        api_key: sk-secret
      hooks:
        - name: greet
          event: chat
          actions:
            - type: message
              params:
                message: "hi {{username}}"
`

func writeTestConfig(t *testing.T, body string) (configPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "cobble.db")
	configPath = filepath.Join(dir, "cobble.yaml")
	body = strings.NewReplacer("%DB%", dbPath, "%DIR%", dir).Replace(body)
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))
	return configPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openTestDB(t *testing.T, path string) *database.DB {
	t.Helper()
	dbCfg := config.Default().Database
	dbCfg.Path = path
	db, err := database.Open(&dbCfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestValidateCommand(t *testing.T) {
	path, _ := writeTestConfig(t, testConfig)

	out, err := execute(t, "validate", "--config", path, "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ shop (1 hooks, 0 schedules, shop off)")
	assert.Contains(t, out, "Configuration OK: 1 sessions.")
	assert.Contains(t, out, "username: ShopBot")
	assert.Contains(t, out, "********")
	assert.NotContains(t, out, "sk-secret")
}

func TestValidateCommand_BadHook(t *testing.T) {
	body := `
database:
  path: "%DB%"
sessions:
  - username: ShopBot
    server:
      host: localhost
    modules:
      hooks:
        - name: broken
          event: notAnEvent
`
	path, _ := writeTestConfig(t, body)

	out, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, out, "✗ ShopBot")
}

func TestLogsExportCommand(t *testing.T) {
	path, dbPath := writeTestConfig(t, testConfig)
	db := openTestDB(t, dbPath)
	store := database.NewStatusStore(db)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &status.Record{ID: "r1", SessionID: "shop", Timestamp: time.Now().Add(-time.Minute), Text: "Connected as ShopBot."}))
	require.NoError(t, store.Append(ctx, &status.Record{ID: "r2", SessionID: "shop", Timestamp: time.Now(), Text: "<b>Withdrew</b> 3 diamond for <script>alert(1)</script>Alice."}))
	require.NoError(t, db.Close())

	outFile := filepath.Join(t.TempDir(), "status.html")
	_, err := execute(t, "logs", "export", "--config", path, "-s", "shop", "-o", outFile)
	require.NoError(t, err)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, "Session shop")
	assert.Contains(t, html, "Connected as ShopBot.")
	assert.Contains(t, html, "<b>Withdrew</b>")
	assert.NotContains(t, html, "<script>")
}

func TestLogsArchiveAndFetch(t *testing.T) {
	body := testConfig + `
archive:
  type: filesystem
  path: "%DIR%/archive"
  compression: zstd
`
	path, dbPath := writeTestConfig(t, body)
	db := openTestDB(t, dbPath)
	store := database.NewStatusStore(db)
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, &status.Record{ID: "old", SessionID: "shop", Timestamp: time.Now().Add(-48 * time.Hour), Text: "Connected as ShopBot."}))
	require.NoError(t, store.Append(ctx, &status.Record{ID: "new", SessionID: "shop", Timestamp: time.Now(), Text: "Hit NPC modern_server."}))
	require.NoError(t, db.Close())

	out, err := execute(t, "logs", "archive", "--config", path, "-s", "shop", "--prune", "--older-than", "24h")
	require.NoError(t, err)
	require.Contains(t, out, "Archived to status/shop/")
	assert.Contains(t, out, "Deleted 1 status records.")

	var key string
	for _, line := range strings.Split(out, "\n") {
		if k, ok := strings.CutPrefix(line, "Archived to "); ok {
			key = k
		}
	}
	require.True(t, strings.HasSuffix(key, ".html.zst"), key)

	stored, err := os.ReadFile(filepath.Join(filepath.Dir(path), "archive", filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.NotContains(t, string(stored), "Connected as ShopBot.", "stored compressed")

	page := filepath.Join(t.TempDir(), "fetched.html")
	_, err = execute(t, "logs", "fetch", key, "--config", path, "-o", page)
	require.NoError(t, err)
	data, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Connected as ShopBot.")
	assert.Contains(t, string(data), "Hit NPC modern_server.")
}

func TestTransactionsListCommand(t *testing.T) {
	path, dbPath := writeTestConfig(t, testConfig)
	db := openTestDB(t, dbPath)
	ledger := database.NewTransitionStore(db)
	tx := shop.Transaction{ID: "k3vx9q2mab", Buyer: "Alice", Item: "diamond", Quantity: 3, Expected: 30}
	for _, st := range []shop.State{shop.StateQuoted, shop.StateAwaitingPayment, shop.StateClosedDelivered} {
		tx.State = st
		require.NoError(t, ledger.Record(context.Background(), "shop", tx))
	}
	require.NoError(t, db.Close())

	out, err := execute(t, "transactions", "list", "--config", path, "-s", "shop")
	require.NoError(t, err)
	assert.Contains(t, out, "k3vx9q2mab")
	assert.Contains(t, out, "closed_delivered")

	out, err = execute(t, "transactions", "history", "Alice", "--config", path, "-s", "shop")
	require.NoError(t, err)
	assert.Contains(t, out, "awaiting_payment")
}

func TestDBStatusCommand(t *testing.T) {
	path, _ := writeTestConfig(t, testConfig)

	out, err := execute(t, "db", "status", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger schema: ok")
	assert.Contains(t, out, "001_shop")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version()+"\n", out)
}

func TestSelectSessions(t *testing.T) {
	cfg := &config.Config{Sessions: []config.SessionConfig{{ID: "a"}, {ID: "b"}}}

	all, err := selectSessions(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	some, err := selectSessions(cfg, []string{"b"})
	require.NoError(t, err)
	require.Len(t, some, 1)
	assert.Equal(t, "b", some[0].ID)

	_, err = selectSessions(cfg, []string{"c"})
	assert.ErrorContains(t, err, `unknown session "c"`)

	_, err = selectSessions(&config.Config{}, nil)
	assert.Error(t, err)
}

func TestWatchedFiles(t *testing.T) {
	cfg := &config.Config{Sessions: []config.SessionConfig{
		{ID: "a", Modules: config.ModulesConfig{HooksFile: "hooks/a.yaml"}},
		{ID: "b", Modules: config.ModulesConfig{HooksFile: "/etc/cobble/b.yaml"}},
		{ID: "c"},
	}}
	files := watchedFiles("/srv/cobble/cobble.yaml", cfg)
	assert.Equal(t, []string{"/srv/cobble/cobble.yaml", "/srv/cobble/hooks/a.yaml", "/etc/cobble/b.yaml"}, files)
}

func TestConfigWatcher_Debounces(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "cobble.yaml")
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(watched, []byte("a: 1\n"), 0o600))

	var calls atomic.Int32
	w, err := NewConfigWatcher([]string{watched}, 50*time.Millisecond, func(path string) {
		assert.Equal(t, watched, path)
		calls.Add(1)
	})
	require.NoError(t, err)
	w.Start(context.Background())
	t.Cleanup(func() { _ = w.Stop() })

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(watched, []byte("a: 2\n"), 0o600))
	}
	require.NoError(t, os.WriteFile(other, []byte("ignored"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

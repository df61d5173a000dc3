package clickhouse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// setupTestDB creates a ClickHouse container and returns a connection.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_DB":       "test",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/test", host, port.Port()))
	require.NoError(t, err)

	runMigrations(t, conn)

	cleanup := func() {
		conn.Close()
		_ = container.Terminate(ctx)
	}

	return conn, cleanup
}

// runMigrations applies the SQL files from internal/storage/migrations/
// clickhouse/ directly; importing the migrations package here would be a
// cycle.
func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()
	ctx := context.Background()

	dir := findMigrationsDir(t)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err, "failed to read migrations directory")

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		require.NoError(t, err, "failed to read migration %s", entry.Name())

		err = conn.Exec(ctx, string(content))
		require.NoError(t, err, "failed to apply migration %s", entry.Name())
	}
}

// findMigrationsDir walks up from the working directory to the project root.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		candidate := filepath.Join(dir, "internal", "storage", "migrations", "clickhouse")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find migrations directory")
		}
		dir = parent
	}
}

func TestPriceHistoryStore_AppendAndRead(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceHistoryStore(conn)
	key := domain.CryptoAsset("BTC").Key()

	for i, price := range []int64{100, 110, 120} {
		err := store.Append(ctx, key, domain.PriceQuote{
			Price:     decimal.NewFromInt(price),
			Timestamp: int64(1000 + i),
		})
		require.NoError(t, err)
	}

	latest, err := store.Latest(ctx, key)
	require.NoError(t, err)
	require.True(t, latest.Price.Equal(decimal.NewFromInt(120)))
	require.Equal(t, int64(1002), latest.Timestamp)

	last2, err := store.LastN(ctx, key, 2)
	require.NoError(t, err)
	require.Len(t, last2, 2)
	require.True(t, last2[0].Price.Equal(decimal.NewFromInt(110)), "quotes must come back ascending")
	require.True(t, last2[1].Price.Equal(decimal.NewFromInt(120)))

	all, err := store.LastN(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	none, err := store.LastN(ctx, key, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPriceHistoryStore_AssetsAreIsolated(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceHistoryStore(conn)

	err := store.Append(ctx, "crypto:BTC", domain.PriceQuote{Price: decimal.NewFromInt(60000), Timestamp: 1000})
	require.NoError(t, err)
	err = store.Append(ctx, "crypto:ETH", domain.PriceQuote{Price: decimal.NewFromInt(3000), Timestamp: 1000})
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "crypto:ETH")
	require.NoError(t, err)
	require.True(t, latest.Price.Equal(decimal.NewFromInt(3000)))

	_, err = store.Latest(ctx, "crypto:XRP")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPriceHistoryStore_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewPriceHistoryStore(conn)

	err := store.Append(ctx, "", domain.PriceQuote{Price: decimal.NewFromInt(1), Timestamp: 1})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	err = store.Append(ctx, "crypto:BTC", domain.PriceQuote{Price: decimal.NewFromInt(1), Timestamp: 0})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

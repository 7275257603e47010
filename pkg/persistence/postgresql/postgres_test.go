package postgresql_test

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/persistence/persistencetest"
	"github.com/dukex/mediaflow/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var (
	containerOnce sync.Once
	containerURL  string
	containerErr  error
)

// databaseURL starts one postgres container for the package and returns a clean database.
func databaseURL(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("requires docker")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	containerOnce.Do(func() {
		container, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("mediaflow_test"),
			postgres.WithUsername("mediaflow"),
			postgres.WithPassword("mediaflow"),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = err

			return
		}

		containerURL, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	require.NoError(t, containerErr)

	exec(t, containerURL, "DROP TABLE IF EXISTS workflow_instances, schema_migrations CASCADE")

	return containerURL
}

func exec(t *testing.T, url, query string, args ...any) {
	t.Helper()

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	_, err = db.ExecContext(context.Background(), query, args...)
	require.NoError(t, err)
}

func queryRow(t *testing.T, url, query string, dest []any, args ...any) {
	t.Helper()

	db, err := sql.Open("postgres", url)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(dest...))
}

func newStore(t *testing.T, url string) *postgresql.Persistence {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := postgresql.NewPersistence(context.Background(), logger, url)
	require.NoError(t, err)

	t.Cleanup(func() { assert.NoError(t, store.Close(context.Background())) })

	return store
}

func TestPersistence_Store(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		t.Helper()

		return newStore(t, databaseURL(t))
	})
}

func TestPersistence_MigrationsAreRecordedOnce(t *testing.T) {
	url := databaseURL(t)

	newStore(t, url)
	newStore(t, url)

	var (
		count int
		name  string
	)

	queryRow(t, url, "SELECT COUNT(*), MAX(name) FROM schema_migrations", []any{&count, &name})
	assert.Equal(t, 1, count)
	assert.Equal(t, "workflow_instances", name)
}

func TestPersistence_ConcurrentStartupsMigrateOnce(t *testing.T) {
	url := databaseURL(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var wg sync.WaitGroup

	errs := make(chan error, 4)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			store, err := postgresql.NewPersistence(context.Background(), logger, url)
			if err == nil {
				err = store.Close(context.Background())
			}

			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	var count int

	queryRow(t, url, "SELECT COUNT(*) FROM schema_migrations", []any{&count})
	assert.Equal(t, 1, count)
}

func TestPersistence_RejectsNewerSchema(t *testing.T) {
	url := databaseURL(t)

	newStore(t, url)
	exec(t, url, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", 99, "from the future")

	_, err := postgresql.NewPersistence(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), url)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer")
}

func TestPersistence_HealthCheck(t *testing.T) {
	store := newStore(t, databaseURL(t))

	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestPersistence_IndexedColumns(t *testing.T) {
	url := databaseURL(t)
	store := newStore(t, url)

	wi := persistencetest.NewInstance("mp-columns", "RUNNING")
	require.NoError(t, store.Update(context.Background(), wi))

	var mediaPackageID, state, operation string

	queryRow(t, url, "SELECT mediapackage_id, state, current_operation FROM workflow_instances WHERE id = $1",
		[]any{&mediaPackageID, &state, &operation}, wi.ID)
	assert.Equal(t, "mp-columns", mediaPackageID)
	assert.Equal(t, "RUNNING", state)
	assert.Equal(t, "inspect", operation)
}

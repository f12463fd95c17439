package db_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"tradinta-forging/internal/forging/db"
	"tradinta-forging/internal/models"
)

// setupPostgres starts a throwaway Postgres and builds the forging schema in it
func setupPostgres(t *testing.T) *db.DB {
	if testing.Short() || os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Skipping Postgres integration test; set INTEGRATION_TESTS=1 to run")
	}

	ctx := context.Background()
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "forging",
				"POSTGRES_PASSWORD": "forging",
				"POSTGRES_DB":       "forging",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}
	t.Cleanup(func() { pgContainer.Terminate(ctx) })

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://forging:forging@%s:%s/forging?sslmode=disable", host, port.Port())
	sqldb, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	bunDB := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { bunDB.Close() })

	require.Eventually(t, func() bool { return bunDB.PingContext(ctx) == nil }, 30*time.Second, 500*time.Millisecond)
	require.NoError(t, db.CreateSchema(ctx, bunDB))
	return &db.DB{Bun: bunDB}
}

// A pledge that arrives while the event is being finished must either be in
// the final count or be rejected. It must never be stored but left uncounted.
func TestFinishEvent_PledgeDuringRecountPostgres(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusActive, time.Now().UTC().Add(time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))
	for i := 0; i < 2; i++ {
		_, err := store.CreatePledge(ctx, &models.Pledge{
			ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: fmt.Sprintf("early-%d", i), PledgedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	var (
		lateErr     error
		lateBlocked bool
		done        = make(chan struct{})
	)
	finished, err := store.FinishEvent(ctx, event.ID, time.Now().UTC(), func(buyerCount int) float64 {
		// Runs after the recount, inside the finishing transaction.
		go func() {
			defer close(done)
			_, lateErr = store.CreatePledge(ctx, &models.Pledge{
				ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: "late", PledgedAt: time.Now().UTC(),
			})
		}()
		select {
		case <-done:
		case <-time.After(500 * time.Millisecond):
			lateBlocked = true
		}
		return float64(buyerCount)
	})
	require.NoError(t, err)
	<-done

	assert.True(t, lateBlocked, "the late pledge waits for the finishing transaction")
	assert.ErrorIs(t, lateErr, db.ErrConflict)

	rows, err := store.CountPledges(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, rows, finished.CurrentBuyerCount)

	stored, err := store.GetEvent(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, rows, stored.CurrentBuyerCount)
}

func TestFinishEvent_ConcurrentPledgesPostgres(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	event := newEvent(models.ForgingStatusActive, time.Now().UTC().Add(time.Hour))
	require.NoError(t, store.CreateEvent(ctx, event))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		start    = make(chan struct{})
	)
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := store.CreatePledge(ctx, &models.Pledge{
				ID: uuid.NewString(), ForgingEventID: event.ID, BuyerID: fmt.Sprintf("buyer-%02d", i), PledgedAt: time.Now().UTC(),
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, db.ErrConflict)
		}(i)
	}

	var finished *models.ForgingEvent
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-start
		time.Sleep(5 * time.Millisecond)
		var err error
		finished, err = store.FinishEvent(ctx, event.ID, time.Now().UTC(), func(n int) float64 { return float64(n) })
		assert.NoError(t, err)
	}()
	close(start)
	wg.Wait()

	require.NotNil(t, finished)
	rows, err := store.CountPledges(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, accepted, rows)
	assert.Equal(t, rows, finished.CurrentBuyerCount, "every stored pledge is in the final count")
}

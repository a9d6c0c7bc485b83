//go:build integration

package sql_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marmos91/dittomq/pkg/linkstate"
	"github.com/marmos91/dittomq/pkg/linkstate/linkstatetest"
	linksql "github.com/marmos91/dittomq/pkg/linkstate/sql"
)

func TestConformancePostgres(t *testing.T) {
	ctx := context.Background()
	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("dittomq"),
		tcpostgres.WithUsername("dittomq"),
		tcpostgres.WithPassword("dittomq"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := linksql.Config{
		Type: linksql.DatabaseTypePostgres,
		Postgres: linksql.PostgresConfig{
			Host:     host,
			Port:     port.Int(),
			Database: "dittomq",
			User:     "dittomq",
			Password: "dittomq",
		},
	}

	linkstatetest.RunConformanceSuite(t, func(t *testing.T) linkstate.RecoveryStore {
		c := cfg
		s, err := linksql.New(&c)
		require.NoError(t, err)
		// Tables are shared across subtests; start each from empty.
		require.NoError(t, s.DB().Exec("DELETE FROM retained_deliveries").Error)
		require.NoError(t, s.DB().Exec("DELETE FROM link_records").Error)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

//go:build integration

package test_utils

import (
	"context"
	"os"

	"github.com/klokku/taskmanager/internal/config"
	"github.com/klokku/taskmanager/internal/database"
	log "github.com/sirupsen/logrus"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testDBName     = "task_manager"
	testDBUser     = "test_task_manager"
	testDBPassword = "test_task_manager"
)

func preparePostgresContainer() (*postgres.PostgresContainer, error) {
	ctx := context.Background()

	pgContainer, err := postgres.Run(
		ctx, "postgres:18.1-alpine",
		postgres.WithDatabase(testDBName),
		postgres.WithUsername(testDBUser),
		postgres.WithPassword(testDBPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Printf("failed to start container: %s", err)
		return nil, err
	}
	return pgContainer, nil
}

// TestWithDB sets up a Postgres instance, applies all migrations and returns a connected database
// together with a cleanup function terminating the container.
func TestWithDB() (*database.DB, func()) {
	ctx := context.Background()

	container, err := preparePostgresContainer()
	if err != nil {
		log.Printf("Failed to start postgres container: %v", err)
		os.Exit(1)
	}

	host, _ := container.Host(ctx)
	port, _ := container.MappedPort(ctx, "5432/tcp")

	log.Infof("Postgres container started at %s:%d", host, port.Int())

	cfg := config.Database{
		Driver: config.DriverPostgres,
		Host:   host,
		Port:   port.Int(),
		User:   testDBUser,
		Pass:   testDBPassword,
		Name:   testDBName,
		Schema: "public",
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to open database connection: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	return db, func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			log.Errorf("failed to terminate postgres container: %v", err)
		}
	}
}

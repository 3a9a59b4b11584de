//go:build integration

// Package testhelpers starts shared containers for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/elshodweb/diploma-backend/internal/database"
)

// MongoImage is the MongoDB image the integration tests run against.
const MongoImage = "mongo:7"

var (
	sharedMongo     *mongo.Client
	sharedMongoOnce sync.Once
	sharedMongoErr  error
)

// GetMongo returns a client connected to a MongoDB container that is
// started once per test binary.
func GetMongo(t *testing.T) *mongo.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedMongoOnce.Do(func() {
		sharedMongo, sharedMongoErr = setupMongo()
	})
	if sharedMongoErr != nil {
		t.Fatalf("Failed to setup test MongoDB: %v", sharedMongoErr)
	}
	return sharedMongo
}

// MongoDatabase returns a database with a unique name that is dropped when
// the test finishes.
func MongoDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	client := GetMongo(t)
	db := client.Database("test_" + strings.ReplaceAll(uuid.NewString(), "-", ""))
	t.Cleanup(func() { _ = db.Drop(context.Background()) })
	return db
}

func setupMongo() (*mongo.Client, error) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        MongoImage,
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor: wait.ForLog("Waiting for connections").
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start mongo container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "27017")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	client, err := database.ConnectMongo(ctx, fmt.Sprintf("mongodb://%s:%s", host, port.Port()), 30*time.Second)
	if err != nil {
		return nil, err
	}
	return client, nil
}

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Mongo holds a connected client and the configured database
type Mongo struct {
	Client *mongo.Client
	DB     *mongo.Database
	log    *logrus.Logger
}

// ConnectMongo dials MongoDB and verifies the connection with a ping
func ConnectMongo(ctx context.Context, config domain.MongoConfig, logger *logrus.Logger) (*Mongo, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	logger.WithField("database", config.Database).Info("MongoDB connection established")

	return &Mongo{
		Client: client,
		DB:     client.Database(config.Database),
		log:    logger,
	}, nil
}

// Close disconnects the client
func (m *Mongo) Close(ctx context.Context) error {
	if err := m.Client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnecting mongo: %w", err)
	}
	m.log.Info("MongoDB connection closed")
	return nil
}

package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const DefaultTimeout = 10 * time.Second

type Mongo interface {
	Database() *mongo.Database
	Close(ctx context.Context) error
}

type Config struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type mongoClient struct {
	client *mongo.Client
	db     *mongo.Database
}

func New(cfg *Config) (Mongo, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is empty")
	}

	if cfg.Database == "" {
		return nil, errors.New("mongo database is empty")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	return &mongoClient{
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

func (m *mongoClient) Database() *mongo.Database {
	return m.db
}

func (m *mongoClient) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

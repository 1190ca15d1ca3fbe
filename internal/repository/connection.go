package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

// MongoStore bundles the repositories backed by one database.
type MongoStore struct {
	Carts    *MongoCartRepository
	Products *MongoProductRepository
	Orders   *MongoOrderRepository
	Coupons  *MongoCouponRepository
	Outbox   *MongoOutboxRepository
	Tx       *MongoTransactor
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		Carts:    NewMongoCartRepository(db),
		Products: NewMongoProductRepository(db),
		Orders:   NewMongoOrderRepository(db),
		Coupons:  NewMongoCouponRepository(db),
		Outbox:   NewMongoOutboxRepository(db),
		Tx:       NewMongoTransactor(db.Client()),
	}
}

func (s *MongoStore) CreateIndexes(ctx context.Context) error {
	if err := s.Carts.CreateIndexes(ctx); err != nil {
		return err
	}
	if err := s.Orders.CreateIndexes(ctx); err != nil {
		return err
	}
	if err := s.Coupons.CreateIndexes(ctx); err != nil {
		return err
	}
	return s.Outbox.CreateIndexes(ctx)
}

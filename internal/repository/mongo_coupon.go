package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/cartcheckout/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoCouponRepository struct {
	collection *mongo.Collection
}

func NewMongoCouponRepository(db *mongo.Database) *MongoCouponRepository {
	return &MongoCouponRepository{
		collection: db.Collection("coupons"),
	}
}

func (m *MongoCouponRepository) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create coupon indexes: %w", err)
	}
	return nil
}

// GetCouponByName looks the coupon up by its upper-cased name.
func (m *MongoCouponRepository) GetCouponByName(ctx context.Context, name string) (*domain.Coupon, error) {
	var c domain.Coupon
	err := m.collection.FindOne(ctx, bson.M{"name": strings.ToUpper(name)}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

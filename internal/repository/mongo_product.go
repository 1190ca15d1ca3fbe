package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/cartcheckout/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoProductRepository struct {
	collection *mongo.Collection
}

func NewMongoProductRepository(db *mongo.Database) *MongoProductRepository {
	return &MongoProductRepository{
		collection: db.Collection("products"),
	}
}

func (m *MongoProductRepository) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := m.collection.FindOne(ctx, bson.M{"_id": bson.M{"$in": idValues(id)}}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

func (m *MongoProductRepository) GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	in := bson.A{}
	for _, id := range ids {
		in = append(in, idValues(id)...)
	}

	cursor, err := m.collection.Find(ctx, bson.M{"_id": bson.M{"$in": in}})
	if err != nil {
		return nil, fmt.Errorf("failed to get products: %w", err)
	}
	defer cursor.Close(ctx)

	products := make(map[string]*domain.Product, len(ids))
	for cursor.Next(ctx) {
		var p domain.Product
		if err := cursor.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		products[p.ID] = &p
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// DecrementStock issues one conditional $inc per line. A line matches only while
// the product (and its variant, when tracked) still holds enough units.
func (m *MongoProductRepository) DecrementStock(ctx context.Context, lines []domain.StockLine) error {
	if len(lines) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, 0, len(lines))
	for _, l := range lines {
		filter := bson.M{
			"_id":      bson.M{"$in": idValues(l.ProductID)},
			"quantity": bson.M{"$gte": l.Quantity},
		}
		inc := bson.M{"quantity": -l.Quantity, "sold": l.Quantity}
		if l.Variant {
			filter["variants"] = bson.M{"$elemMatch": bson.M{"color": l.Color, "quantity": bson.M{"$gte": l.Quantity}}}
			inc["variants.$.quantity"] = -l.Quantity
		}
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(bson.M{"$inc": inc}))
	}

	res, err := m.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if res.MatchedCount != int64(len(lines)) {
		return ErrStockConflict
	}
	return nil
}

// idValues matches catalog ids stored either as strings or as ObjectIDs.
func idValues(id string) bson.A {
	values := bson.A{id}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		values = append(values, oid)
	}
	return values
}

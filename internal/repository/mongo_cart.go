package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const upsertAttempts = 3

type MongoCartRepository struct {
	collection *mongo.Collection
}

func NewMongoCartRepository(db *mongo.Database) *MongoCartRepository {
	return &MongoCartRepository{
		collection: db.Collection("carts"),
	}
}

const legacyExpiryIndex = "updated_at_1"

func isMissingIndex(err error) bool {
	var ce mongo.CommandError
	return errors.As(err, &ce) && (ce.Code == 26 || ce.Code == 27) // NamespaceNotFound, IndexNotFound
}

func (m *MongoCartRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	_, err := m.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create cart indexes: %w", err)
	}

	// Carts live until checkout or an explicit clear, so an expiring index
	// left on updated_at by an older schema is removed.
	if _, err := m.collection.Indexes().DropOne(ctx, legacyExpiryIndex); err != nil && !isMissingIndex(err) {
		return fmt.Errorf("failed to drop cart expiry index: %w", err)
	}

	return nil
}

func (m *MongoCartRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	return m.findOne(ctx, bson.M{"user_id": userID})
}

func (m *MongoCartRepository) GetCartByID(ctx context.Context, cartID string) (*domain.Cart, error) {
	oid, err := primitive.ObjectIDFromHex(cartID)
	if err != nil {
		return nil, ErrCartNotFound
	}
	return m.findOne(ctx, bson.M{"_id": oid})
}

func (m *MongoCartRepository) findOne(ctx context.Context, filter bson.M) (*domain.Cart, error) {
	var cart domain.Cart
	err := m.collection.FindOne(ctx, filter).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

// AddItem runs a single pipeline update: increment the matching line or append
// a new one, then recompute the subtotal, bump the version and drop the
// discount. The unique user_id index can reject one of two concurrent
// upserts; that one is retried against the now existing cart.
func (m *MongoCartRepository) AddItem(ctx context.Context, userID string, item domain.CartItem) (*domain.Cart, error) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}

	sameLine := bson.M{"$and": bson.A{
		bson.M{"$eq": bson.A{"$$this.product_id", lit(item.ProductID)}},
		bson.M{"$eq": bson.A{"$$this.color", lit(item.Color)}},
	}}
	items := bson.M{"$ifNull": bson.A{"$items", bson.A{}}}
	newLine := bson.M{
		"_id":        lit(item.ID),
		"product_id": lit(item.ProductID),
		"color":      lit(item.Color),
		"quantity":   item.Quantity,
		"unit_price": item.UnitPrice,
	}

	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"items": bson.M{"$cond": bson.A{
				bson.M{"$anyElementTrue": bson.A{bson.M{"$map": bson.M{"input": items, "in": sameLine}}}},
				bson.M{"$map": bson.M{
					"input": items,
					"in": bson.M{"$cond": bson.A{
						sameLine,
						bson.M{"$mergeObjects": bson.A{"$$this", bson.M{"quantity": bson.M{"$add": bson.A{"$$this.quantity", item.Quantity}}}}},
						"$$this",
					}},
				}},
				bson.M{"$concatArrays": bson.A{items, bson.A{newLine}}},
			}},
			"created_at": bson.M{"$ifNull": bson.A{"$created_at", "$$NOW"}},
		}}},
	}
	pipeline = append(pipeline, recalcStages()...)

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var err error
	for attempt := 0; attempt < upsertAttempts; attempt++ {
		var cart domain.Cart
		err = m.collection.FindOneAndUpdate(ctx, bson.M{"user_id": userID}, pipeline, opts).Decode(&cart)
		if err == nil {
			return &cart, nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			break
		}
	}
	return nil, fmt.Errorf("failed to add item: %w", err)
}

func (m *MongoCartRepository) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) (*domain.Cart, error) {
	filter := bson.M{"user_id": userID, "items._id": itemID}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"items": bson.M{"$map": bson.M{
				"input": "$items",
				"in": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{"$$this._id", lit(itemID)}},
					bson.M{"$mergeObjects": bson.A{"$$this", bson.M{"quantity": quantity}}},
					"$$this",
				}},
			}},
		}}},
	}
	pipeline = append(pipeline, recalcStages()...)

	var cart domain.Cart
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.collection.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, m.missingItem(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update item quantity: %w", err)
	}
	return &cart, nil
}

func (m *MongoCartRepository) RemoveItem(ctx context.Context, userID, itemID string) (*domain.Cart, bool, error) {
	filter := bson.M{"user_id": userID, "items._id": itemID}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"items": bson.M{"$filter": bson.M{
				"input": "$items",
				"cond":  bson.M{"$ne": bson.A{"$$this._id", lit(itemID)}},
			}},
		}}},
	}
	pipeline = append(pipeline, recalcStages()...)

	var cart domain.Cart
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.collection.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, m.missingItem(ctx, userID)
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to remove item: %w", err)
	}
	if len(cart.Items) > 0 {
		return &cart, false, nil
	}

	// Only delete while still empty; a concurrent add wins over the removal.
	oid, _ := primitive.ObjectIDFromHex(cart.ID)
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": oid, "items": bson.M{"$size": 0}})
	if err != nil {
		return nil, false, fmt.Errorf("failed to delete empty cart: %w", err)
	}
	if res.DeletedCount == 1 {
		return nil, true, nil
	}
	current, err := m.GetCart(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return nil, true, nil
	}
	return current, false, err
}

func (m *MongoCartRepository) DeleteCart(ctx context.Context, userID string) error {
	_, err := m.collection.DeleteOne(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (m *MongoCartRepository) SetDiscount(ctx context.Context, cartID string, version int64, discountedTotal float64) (*domain.Cart, error) {
	oid, err := primitive.ObjectIDFromHex(cartID)
	if err != nil {
		return nil, ErrCartNotFound
	}
	update := bson.M{
		"$set": bson.M{"discounted_total": discountedTotal, "updated_at": time.Now()},
		"$inc": bson.M{"version": 1},
	}
	return m.casUpdate(ctx, oid, version, update)
}

func (m *MongoCartRepository) ReplaceItems(ctx context.Context, cart *domain.Cart) (*domain.Cart, error) {
	oid, err := primitive.ObjectIDFromHex(cart.ID)
	if err != nil {
		return nil, ErrCartNotFound
	}
	update := bson.M{
		"$set": bson.M{
			"items":      cart.Items,
			"subtotal":   domain.CalcSubtotal(cart.Items),
			"updated_at": time.Now(),
		},
		"$unset": bson.M{"discounted_total": ""},
		"$inc":   bson.M{"version": 1},
	}
	return m.casUpdate(ctx, oid, cart.Version, update)
}

func (m *MongoCartRepository) DeleteCheckedOut(ctx context.Context, cartID, userID string, version int64) error {
	oid, err := primitive.ObjectIDFromHex(cartID)
	if err != nil {
		return ErrCartNotFound
	}
	res, err := m.collection.DeleteOne(ctx, bson.M{"_id": oid, "user_id": userID, "version": version})
	if err != nil {
		return fmt.Errorf("failed to delete checked out cart: %w", err)
	}
	if res.DeletedCount == 1 {
		return nil
	}
	return m.missingVersion(ctx, bson.M{"_id": oid, "user_id": userID})
}

func (m *MongoCartRepository) casUpdate(ctx context.Context, oid primitive.ObjectID, version int64, update bson.M) (*domain.Cart, error) {
	var cart domain.Cart
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.collection.FindOneAndUpdate(ctx, bson.M{"_id": oid, "version": version}, update, opts).Decode(&cart)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, m.missingVersion(ctx, bson.M{"_id": oid})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update cart: %w", err)
	}
	return &cart, nil
}

// missingVersion explains why a version-checked write matched nothing.
func (m *MongoCartRepository) missingVersion(ctx context.Context, filter bson.M) error {
	n, err := m.collection.CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}
	return ErrVersionConflict
}

func (m *MongoCartRepository) missingItem(ctx context.Context, userID string) error {
	n, err := m.collection.CountDocuments(ctx, bson.M{"user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to check cart: %w", err)
	}
	if n == 0 {
		return ErrCartNotFound
	}
	return ErrItemNotFound
}

// recalcStages derive the subtotal from the lines, bump the version and drop
// any applied discount.
func recalcStages() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"subtotal": bson.M{"$round": bson.A{
				bson.M{"$reduce": bson.M{
					"input":        "$items",
					"initialValue": 0,
					"in":           bson.M{"$add": bson.A{"$$value", bson.M{"$multiply": bson.A{"$$this.unit_price", "$$this.quantity"}}}},
				}},
				2,
			}},
			"version":    bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$version", 0}}, 1}},
			"updated_at": "$$NOW",
		}}},
		{{Key: "$unset", Value: "discounted_total"}},
	}
}

func lit(v interface{}) bson.M {
	return bson.M{"$literal": v}
}

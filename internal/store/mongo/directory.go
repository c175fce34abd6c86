package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/shutterhub/backend/internal/model/directory"
)

// Directory reads public user, photo and bundle fields from the marketplace collections.
type Directory struct {
	users   *mongo.Collection
	photos  *mongo.Collection
	bundles *mongo.Collection
}

var _ directory.Directory = (*Directory)(nil)

// NewDirectory binds the marketplace collections.
func NewDirectory(client *Client) *Directory {
	db := client.Database()
	return &Directory{
		users:   db.Collection(CollectionUsers),
		photos:  db.Collection(CollectionPhotos),
		bundles: db.Collection(CollectionBundles),
	}
}

type userDoc struct {
	ID             primitive.ObjectID `bson:"_id"`
	Name           string             `bson:"name"`
	UserName       string             `bson:"user_name"`
	ProfilePicture string             `bson:"profile_picture"`
}

type photoDoc struct {
	ID        primitive.ObjectID `bson:"_id"`
	Link      string             `bson:"link"`
	Price     float64            `bson:"price"`
	CreatedBy primitive.ObjectID `bson:"created_by"`
}

type bundleDoc struct {
	ID         primitive.ObjectID   `bson:"_id"`
	Name       string               `bson:"name"`
	Price      float64              `bson:"price"`
	CoverPhoto primitive.ObjectID   `bson:"cover_photo,omitempty"`
	Photos     []primitive.ObjectID `bson:"photos"`
}

func (d *Directory) Profile(ctx context.Context, userID string) (directory.Profile, error) {
	var doc userDoc
	projection := bson.M{"name": 1, "user_name": 1, "profile_picture": 1}
	if err := findByHex(ctx, d.users, userID, projection, &doc); err != nil {
		return directory.Profile{}, err
	}
	return directory.Profile{
		ID:             doc.ID.Hex(),
		Name:           doc.Name,
		UserName:       doc.UserName,
		ProfilePicture: doc.ProfilePicture,
	}, nil
}

func (d *Directory) Photo(ctx context.Context, photoID string) (directory.PhotoSummary, error) {
	var doc photoDoc
	projection := bson.M{"link": 1, "price": 1, "created_by": 1}
	if err := findByHex(ctx, d.photos, photoID, projection, &doc); err != nil {
		return directory.PhotoSummary{}, err
	}
	return directory.PhotoSummary{
		ID:        doc.ID.Hex(),
		Link:      doc.Link,
		Price:     doc.Price,
		CreatedBy: hexOrEmpty(doc.CreatedBy),
	}, nil
}

func (d *Directory) Bundle(ctx context.Context, bundleID string) (directory.BundleSummary, error) {
	var doc bundleDoc
	projection := bson.M{"name": 1, "price": 1, "cover_photo": 1, "photos": 1}
	if err := findByHex(ctx, d.bundles, bundleID, projection, &doc); err != nil {
		return directory.BundleSummary{}, err
	}
	return directory.BundleSummary{
		ID:         doc.ID.Hex(),
		Name:       doc.Name,
		Price:      doc.Price,
		CoverPhoto: hexOrEmpty(doc.CoverPhoto),
		PhotoCount: len(doc.Photos),
	}, nil
}

func findByHex(ctx context.Context, coll *mongo.Collection, id string, projection bson.M, out any) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return directory.ErrNotFound
	}
	err = coll.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(projection)).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return directory.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find %s %s: %w", coll.Name(), id, err)
	}
	return nil
}

func hexOrEmpty(id primitive.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

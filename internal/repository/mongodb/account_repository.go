// Package mongodb stores accounts in a MongoDB collection with unique indexes
// on userName, email and phone.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"account-service/internal/domain"
	"account-service/internal/repository"
)

// uniqueIndexes maps index names to the API field they protect.
var uniqueIndexes = []struct {
	name  string
	field string
}{
	{name: "userName_unique", field: repository.FieldUserName},
	{name: "email_unique", field: repository.FieldEmail},
	{name: "phone_unique", field: repository.FieldPhone},
}

type accountDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	UserName      string             `bson:"userName"`
	PasswordHash  string             `bson:"passwordHash"`
	Email         string             `bson:"email"`
	Phone         string             `bson:"phone"`
	Level         int                `bson:"level"`
	CreateDate    time.Time          `bson:"createDate"`
	UpdateDate    time.Time          `bson:"updateDate"`
	LastLoginDate time.Time          `bson:"lastLoginDate"`
}

type AccountRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewAccountRepository(client *mongo.Client, database, collection string) *AccountRepository {
	return &AccountRepository{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}
}

func (r *AccountRepository) Init(ctx context.Context) error {
	models := make([]mongo.IndexModel, 0, len(uniqueIndexes))
	for _, idx := range uniqueIndexes {
		models = append(models, mongo.IndexModel{
			Keys:    bson.D{{Key: idx.field, Value: 1}},
			Options: options.Index().SetUnique(true).SetName(idx.name),
		})
	}
	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create account indexes: %w", err)
	}
	return nil
}

func (r *AccountRepository) Create(ctx context.Context, account *domain.Account) (string, error) {
	doc := fromDomain(account)
	doc.ID = primitive.NewObjectID()

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if field, ok := duplicateField(err); ok {
			return "", &repository.DuplicateError{Field: field, Err: err}
		}
		return "", fmt.Errorf("insert account: %w", err)
	}

	account.ID = doc.ID.Hex()
	return account.ID, nil
}

func (r *AccountRepository) GetByUserName(ctx context.Context, userName string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{repository.FieldUserName: userName})
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{repository.FieldEmail: email})
}

func (r *AccountRepository) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	return r.findOne(ctx, bson.M{repository.FieldPhone: phone})
}

func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("parse account id %q: %w", id, err)
	}

	res, err := r.collection.UpdateByID(ctx, oid, bson.M{
		"$set": bson.M{"lastLoginDate": at.UTC(), "updateDate": at.UTC()},
	})
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *AccountRepository) findOne(ctx context.Context, filter bson.M) (*domain.Account, error) {
	var doc accountDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrAccountNotFound
		}
		return nil, fmt.Errorf("find account: %w", err)
	}
	return toDomain(doc), nil
}

// dupKeyPattern captures the first key of the "dup key: { field: ... }" part
// of an E11000 message.
var dupKeyPattern = regexp.MustCompile(`dup key: \{ ?"?([A-Za-z_]+)"?\s*:`)

// duplicateField names the field whose unique index rejected a write. Our own
// index names are matched first; an index created outside Init (such as the
// default "email_1") is resolved from the server's keyPattern or, failing
// that, from the duplicated key in the message.
func duplicateField(err error) (string, bool) {
	if !mongo.IsDuplicateKeyError(err) {
		return "", false
	}
	msg := err.Error()
	for _, idx := range uniqueIndexes {
		if strings.Contains(msg, "index: "+idx.name+" ") {
			return idx.field, true
		}
	}

	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if field, ok := keyPatternField(e.Raw); ok {
				return field, true
			}
		}
	}

	if m := dupKeyPattern.FindStringSubmatch(msg); m != nil {
		return knownField(m[1])
	}
	return "", false
}

// keyPatternField reads the first key of the keyPattern document servers
// attach to duplicate key write errors.
func keyPatternField(raw bson.Raw) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	val, err := raw.LookupErr("keyPattern")
	if err != nil {
		return "", false
	}
	doc, ok := val.DocumentOK()
	if !ok {
		return "", false
	}
	elems, err := doc.Elements()
	if err != nil || len(elems) == 0 {
		return "", false
	}
	return knownField(elems[0].Key())
}

func knownField(name string) (string, bool) {
	for _, idx := range uniqueIndexes {
		if idx.field == name {
			return idx.field, true
		}
	}
	return "", false
}

func fromDomain(a *domain.Account) accountDocument {
	return accountDocument{
		UserName:      a.UserName,
		PasswordHash:  a.PasswordHash,
		Email:         a.Email,
		Phone:         a.Phone,
		Level:         int(a.Level),
		CreateDate:    a.CreateDate.UTC(),
		UpdateDate:    a.UpdateDate.UTC(),
		LastLoginDate: a.LastLoginDate.UTC(),
	}
}

func toDomain(doc accountDocument) *domain.Account {
	return &domain.Account{
		ID:            doc.ID.Hex(),
		UserName:      doc.UserName,
		PasswordHash:  doc.PasswordHash,
		Email:         doc.Email,
		Phone:         doc.Phone,
		Level:         domain.Level(doc.Level),
		CreateDate:    doc.CreateDate,
		UpdateDate:    doc.UpdateDate,
		LastLoginDate: doc.LastLoginDate,
	}
}

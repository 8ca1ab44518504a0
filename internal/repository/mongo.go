package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sumire/proposals/internal/domain"
)

// ConnectMongo connects to MongoDB, verifies the connection and returns the named database.
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Client, *mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, client.Database(database), nil
}

type proposalDocument struct {
	JobID        string           `bson:"job_id"`
	UserID       string           `bson:"user_id"`
	Title        string           `bson:"title"`
	FileName     string           `bson:"file_name"`
	Status       string           `bson:"status"`
	CurrentStage string           `bson:"current_stage"`
	Language     *string          `bson:"language,omitempty"`
	Analysis     *domain.Analysis `bson:"analysis,omitempty"`
	ErrorMessage *string          `bson:"error_message,omitempty"`
	CreatedAt    time.Time        `bson:"created_at"`
	UpdatedAt    time.Time        `bson:"updated_at"`
}

func (d proposalDocument) toDomain() domain.Proposal {
	return domain.Proposal{
		JobID:        d.JobID,
		UserID:       d.UserID,
		Title:        d.Title,
		FileName:     d.FileName,
		Status:       domain.ProposalStatus(d.Status),
		CurrentStage: domain.Stage(d.CurrentStage),
		Language:     d.Language,
		Analysis:     d.Analysis,
		ErrorMessage: d.ErrorMessage,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

// MongoProposalRepository stores proposals in the "proposals" collection.
type MongoProposalRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

// NewMongoProposalRepository creates a new MongoProposalRepository.
func NewMongoProposalRepository(db *mongo.Database) *MongoProposalRepository {
	return &MongoProposalRepository{
		coll: db.Collection("proposals"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the unique job_id index and the owner listing index.
func (r *MongoProposalRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create proposal indexes: %w", err)
	}
	return nil
}

func (r *MongoProposalRepository) Create(ctx context.Context, p domain.Proposal) error {
	_, err := r.coll.InsertOne(ctx, proposalDocument{
		JobID:        p.JobID,
		UserID:       p.UserID,
		Title:        p.Title,
		FileName:     p.FileName,
		Status:       string(p.Status),
		CurrentStage: string(p.CurrentStage),
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: proposal %s already exists", domain.ErrConflict, p.JobID)
		}
		return fmt.Errorf("insert proposal %s: %w", p.JobID, err)
	}
	return nil
}

func (r *MongoProposalRepository) AdvanceStage(ctx context.Context, jobID string, stage domain.Stage) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "job_id", Value: jobID}, {Key: "status", Value: string(domain.ProposalStatusProcessing)}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "current_stage", Value: string(stage)},
			{Key: "updated_at", Value: r.now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("advance proposal %s to %s: %w", jobID, stage, err)
	}
	return nil
}

func (r *MongoProposalRepository) SetLanguage(ctx context.Context, jobID, language string) error {
	_, err := r.coll.UpdateOne(ctx,
		bson.D{{Key: "job_id", Value: jobID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "language", Value: language},
			{Key: "updated_at", Value: r.now()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("set language for proposal %s: %w", jobID, err)
	}
	return nil
}

func (r *MongoProposalRepository) Complete(ctx context.Context, jobID string, analysis domain.Analysis) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{
			{Key: "job_id", Value: jobID},
			{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
				string(domain.ProposalStatusProcessing), string(domain.ProposalStatusComplete),
			}}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(domain.ProposalStatusComplete)},
				{Key: "current_stage", Value: string(domain.StageComplete)},
				{Key: "analysis", Value: analysis},
				{Key: "updated_at", Value: r.now()},
			}},
			{Key: "$unset", Value: bson.D{{Key: "error_message", Value: ""}}},
		},
	)
	if err != nil {
		return fmt.Errorf("complete proposal %s: %w", jobID, err)
	}
	return r.checkTerminalWrite(ctx, res.MatchedCount, jobID)
}

func (r *MongoProposalRepository) Fail(ctx context.Context, jobID, message string) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.D{
			{Key: "job_id", Value: jobID},
			{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
				string(domain.ProposalStatusProcessing), string(domain.ProposalStatusFailed),
			}}}},
		},
		bson.D{
			{Key: "$set", Value: bson.D{
				{Key: "status", Value: string(domain.ProposalStatusFailed)},
				{Key: "error_message", Value: message},
				{Key: "updated_at", Value: r.now()},
			}},
			{Key: "$unset", Value: bson.D{{Key: "analysis", Value: ""}}},
		},
	)
	if err != nil {
		return fmt.Errorf("fail proposal %s: %w", jobID, err)
	}
	return r.checkTerminalWrite(ctx, res.MatchedCount, jobID)
}

func (r *MongoProposalRepository) checkTerminalWrite(ctx context.Context, matched int64, jobID string) error {
	if matched > 0 {
		return nil
	}
	p, err := r.GetByJobID(ctx, jobID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: proposal %s is already %s", domain.ErrConflict, jobID, p.Status)
}

func (r *MongoProposalRepository) GetByJobID(ctx context.Context, jobID string) (*domain.Proposal, error) {
	var doc proposalDocument
	err := r.coll.FindOne(ctx, bson.D{{Key: "job_id", Value: jobID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find proposal %s: %w", jobID, err)
	}
	p := doc.toDomain()
	return &p, nil
}

func (r *MongoProposalRepository) ListByUser(ctx context.Context, userID string) ([]domain.Proposal, error) {
	return r.find(ctx, bson.D{{Key: "user_id", Value: userID}}, newestFirst())
}

func (r *MongoProposalRepository) ListAll(ctx context.Context) ([]domain.Proposal, error) {
	return r.find(ctx, bson.D{}, newestFirst())
}

func (r *MongoProposalRepository) ListStale(ctx context.Context, before time.Time) ([]domain.Proposal, error) {
	return r.find(ctx,
		bson.D{
			{Key: "status", Value: string(domain.ProposalStatusProcessing)},
			{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: before.UTC()}}},
		},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}}),
	)
}

func (r *MongoProposalRepository) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("delete proposals: %w", err)
	}
	return res.DeletedCount, nil
}

func newestFirst() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "job_id", Value: -1}})
}

func (r *MongoProposalRepository) find(ctx context.Context, filter bson.D, opts *options.FindOptions) ([]domain.Proposal, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	var docs []proposalDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	out := make([]domain.Proposal, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// MongoUserRepository stores registered accounts in the "users" collection.
type MongoUserRepository struct {
	coll *mongo.Collection
}

// NewMongoUserRepository creates a new MongoUserRepository.
func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{coll: db.Collection("users")}
}

// EnsureIndexes creates the unique email index.
func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	return nil
}

func (r *MongoUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	return r.findOne(ctx, bson.D{{Key: "_id", Value: id}})
}

func (r *MongoUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: email}})
}

func (r *MongoUserRepository) Create(ctx context.Context, user domain.User) (*domain.User, error) {
	if _, err := r.coll.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: email %s is already registered", domain.ErrConflict, user.Email)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return &user, nil
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.D) (*domain.User, error) {
	var user domain.User
	if err := r.coll.FindOne(ctx, filter).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/sumire/proposals/internal/domain"
)

// sentUpdate returns the filter and update document of the next update command.
func sentUpdate(mt *mtest.T) (filter, update bson.M) {
	mt.Helper()
	for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
		if evt.CommandName != "update" {
			continue
		}
		var cmd struct {
			Updates []struct {
				Q bson.M `bson:"q"`
				U bson.M `bson:"u"`
			} `bson:"updates"`
		}
		require.NoError(mt, bson.Unmarshal(evt.Command, &cmd))
		require.Len(mt, cmd.Updates, 1)
		return cmd.Updates[0].Q, cmd.Updates[0].U
	}
	mt.Fatal("no update command was sent")
	return nil, nil
}

func sentFind(mt *mtest.T) (filter bson.M, sortKeys []string) {
	mt.Helper()
	for evt := mt.GetStartedEvent(); evt != nil; evt = mt.GetStartedEvent() {
		if evt.CommandName != "find" {
			continue
		}
		var cmd struct {
			Filter bson.M `bson:"filter"`
			Sort   bson.D `bson:"sort"`
		}
		require.NoError(mt, bson.Unmarshal(evt.Command, &cmd))
		for _, e := range cmd.Sort {
			sortKeys = append(sortKeys, e.Key)
		}
		return cmd.Filter, sortKeys
	}
	mt.Fatal("no find command was sent")
	return nil, nil
}

func proposalDoc(jobID string, status domain.ProposalStatus, stage domain.Stage, created time.Time) bson.D {
	return bson.D{
		{Key: "job_id", Value: jobID},
		{Key: "user_id", Value: "user_123"},
		{Key: "title", Value: "Title " + jobID},
		{Key: "file_name", Value: jobID + ".pdf"},
		{Key: "status", Value: string(status)},
		{Key: "current_stage", Value: string(stage)},
		{Key: "created_at", Value: created},
		{Key: "updated_at", Value: created},
	}
}

func updated(n int) bson.D {
	return mtest.CreateSuccessResponse(bson.E{Key: "n", Value: n}, bson.E{Key: "nModified", Value: n})
}

func TestMongoProposalRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ns := "test.proposals"

	mt.Run("create duplicate job id is a conflict", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error collection: proposals index: job_id_1",
		}))

		err := repo.Create(ctx, domain.NewProposal("job_1", "user_123", "Test A", "a.pdf", created))
		assert.ErrorIs(mt, err, domain.ErrConflict)
	})

	mt.Run("ensure indexes makes job id unique", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		require.NoError(mt, repo.EnsureIndexes(ctx))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		require.Equal(mt, "createIndexes", evt.CommandName)
		var cmd struct {
			Indexes []struct {
				Key    bson.D `bson:"key"`
				Unique bool   `bson:"unique"`
			} `bson:"indexes"`
		}
		require.NoError(mt, bson.Unmarshal(evt.Command, &cmd))
		require.NotEmpty(mt, cmd.Indexes)
		assert.Equal(mt, "job_id", cmd.Indexes[0].Key[0].Key)
		assert.True(mt, cmd.Indexes[0].Unique)
	})

	mt.Run("get decodes snake case analysis", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		doc := proposalDoc("job_1", domain.ProposalStatusComplete, domain.StageComplete, created)
		doc = append(doc, bson.E{Key: "analysis", Value: bson.D{
			{Key: "overall_score", Value: 60},
			{Key: "scores", Value: bson.D{{Key: "technical_merit", Value: 65}}},
			{Key: "summary", Value: "Proposes underground methane capture."},
			{Key: "novelty_analysis", Value: bson.D{{Key: "is_novel", Value: true}}},
		}})
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, doc))

		got, err := repo.GetByJobID(ctx, "job_1")
		require.NoError(mt, err)
		assert.Equal(mt, domain.ProposalStatusComplete, got.Status)
		assert.True(mt, created.Equal(got.CreatedAt))
		require.NotNil(mt, got.Analysis)
		assert.Equal(mt, 60, got.Analysis.OverallScore)
		assert.Equal(mt, 65, got.Analysis.Scores.TechnicalMerit)
		assert.True(mt, got.Analysis.NoveltyAnalysis.IsNovel)
	})

	mt.Run("get missing is not found", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.GetByJobID(ctx, "missing")
		assert.ErrorIs(mt, err, domain.ErrNotFound)
	})

	mt.Run("advance only touches processing records", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(updated(0))

		require.NoError(mt, repo.AdvanceStage(ctx, "job_1", domain.StageEmbedding))
		filter, update := sentUpdate(mt)
		assert.Equal(mt, "job_1", filter["job_id"])
		assert.Equal(mt, string(domain.ProposalStatusProcessing), filter["status"])
		assert.Equal(mt, string(domain.StageEmbedding), update["$set"].(bson.M)["current_stage"])
	})

	mt.Run("complete writes snake case analysis and clears the error", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(updated(1))

		require.NoError(mt, repo.Complete(ctx, "job_1", sampleAnalysis(60)))
		filter, update := sentUpdate(mt)
		assert.Equal(mt, bson.A{"processing", "complete"}, filter["status"].(bson.M)["$in"])

		set := update["$set"].(bson.M)
		assert.Equal(mt, "complete", set["status"])
		assert.Equal(mt, "complete", set["current_stage"])
		analysis := set["analysis"].(bson.M)
		assert.Contains(mt, analysis, "overall_score")
		assert.Contains(mt, analysis["scores"].(bson.M), "technical_merit")
		assert.Contains(mt, analysis["financial_analysis"].(bson.M), "is_compliant")
		assert.Contains(mt, update["$unset"].(bson.M), "error_message")
	})

	mt.Run("complete on a failed record is a conflict", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(
			updated(0),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
				proposalDoc("job_1", domain.ProposalStatusFailed, domain.StageEmbedding, created)),
		)

		err := repo.Complete(ctx, "job_1", sampleAnalysis(50))
		assert.ErrorIs(mt, err, domain.ErrConflict)
	})

	mt.Run("complete on a missing record is a no-op", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(updated(0), mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		assert.NoError(mt, repo.Complete(ctx, "missing", sampleAnalysis(10)))
	})

	mt.Run("fail allows a repeat and clears the analysis", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(updated(1))

		require.NoError(mt, repo.Fail(ctx, "job_1", "second"))
		filter, update := sentUpdate(mt)
		assert.Equal(mt, bson.A{"processing", "failed"}, filter["status"].(bson.M)["$in"])
		assert.Equal(mt, "second", update["$set"].(bson.M)["error_message"])
		assert.Contains(mt, update["$unset"].(bson.M), "analysis")
	})

	mt.Run("fail on a complete record is a conflict", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(
			updated(0),
			mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
				proposalDoc("job_1", domain.ProposalStatusComplete, domain.StageComplete, created)),
		)

		err := repo.Fail(ctx, "job_1", "late failure")
		assert.ErrorIs(mt, err, domain.ErrConflict)
	})

	mt.Run("list by user is newest first", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			proposalDoc("job_a2", domain.ProposalStatusProcessing, domain.StageUpload, created.Add(time.Minute)),
			proposalDoc("job_a1", domain.ProposalStatusProcessing, domain.StageUpload, created),
		))

		got, err := repo.ListByUser(ctx, "user_123")
		require.NoError(mt, err)
		require.Len(mt, got, 2)
		assert.Equal(mt, "job_a2", got[0].JobID)

		filter, sortKeys := sentFind(mt)
		assert.Equal(mt, "user_123", filter["user_id"])
		assert.Equal(mt, []string{"created_at", "job_id"}, sortKeys)
	})

	mt.Run("list stale selects idle processing records", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := repo.ListStale(ctx, created)
		require.NoError(mt, err)

		filter, sortKeys := sentFind(mt)
		assert.Equal(mt, "processing", filter["status"])
		assert.Contains(mt, filter["updated_at"].(bson.M), "$lt")
		assert.Equal(mt, []string{"updated_at"}, sortKeys)
	})

	mt.Run("delete all returns the count", func(mt *mtest.T) {
		repo := NewMongoProposalRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		n, err := repo.DeleteAll(ctx)
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), n)
	})
}

func TestMongoUserRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mt.Run("duplicate email is a conflict", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index: 0, Code: 11000, Message: "E11000 duplicate key error collection: users index: email_1",
		}))

		_, err := repo.Create(ctx, domain.User{ID: "u-2", Name: "Dup", Email: "asha@example.com", Role: domain.RoleReviewer, CreatedAt: now, UpdatedAt: now})
		assert.ErrorIs(mt, err, domain.ErrConflict)
	})

	mt.Run("find by email", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "u-1"},
			{Key: "name", Value: "Asha Rao"},
			{Key: "email", Value: "asha@example.com"},
			{Key: "role", Value: "user"},
			{Key: "password_hash", Value: "hash"},
			{Key: "created_at", Value: now},
			{Key: "updated_at", Value: now},
		}))

		u, err := repo.FindByEmail(ctx, "asha@example.com")
		require.NoError(mt, err)
		assert.Equal(mt, "u-1", u.ID)
		assert.Equal(mt, domain.RoleSubmitter, u.Role)
		assert.Equal(mt, "hash", u.PasswordHash)
	})

	mt.Run("find missing is not found", func(mt *mtest.T) {
		repo := NewMongoUserRepository(mt.DB)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "test.users", mtest.FirstBatch))

		_, err := repo.FindByID(ctx, "missing")
		assert.ErrorIs(mt, err, domain.ErrNotFound)
	})
}

// openMongoTestDB connects to MONGO_TEST_URI and drops the database afterwards.
func openMongoTestDB(t *testing.T) (*MongoProposalRepository, *MongoUserRepository) {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI is not set")
	}
	ctx := context.Background()
	client, db, err := ConnectMongo(ctx, uri, fmt.Sprintf("proposals_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	proposals, users := NewMongoProposalRepository(db), NewMongoUserRepository(db)
	require.NoError(t, proposals.EnsureIndexes(ctx))
	require.NoError(t, users.EnsureIndexes(ctx))
	return proposals, users
}

func TestMongoProposalRepository_Integration(t *testing.T) {
	repo, _ := openMongoTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, domain.NewProposal("job_a1", "user_a", "A1", "a1.pdf", base)))
	require.NoError(t, repo.Create(ctx, domain.NewProposal("job_b1", "user_b", "B1", "b1.pdf", base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, domain.NewProposal("job_a2", "user_a", "A2", "a2.pdf", base.Add(2*time.Minute))))
	assert.ErrorIs(t, repo.Create(ctx, domain.NewProposal("job_a1", "user_b", "Dup", "d.pdf", base)), domain.ErrConflict)

	mine, err := repo.ListByUser(ctx, "user_a")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "job_a2", mine[0].JobID)

	all, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job_a2", "job_b1", "job_a1"}, []string{all[0].JobID, all[1].JobID, all[2].JobID})

	// Stage advances while processing and stops once terminal.
	require.NoError(t, repo.AdvanceStage(ctx, "job_a1", domain.StageEmbedding))
	require.NoError(t, repo.Fail(ctx, "job_a1", "first"))
	require.NoError(t, repo.Fail(ctx, "job_a1", "second"))
	require.NoError(t, repo.AdvanceStage(ctx, "job_a1", domain.StageAnalysis))
	got, err := repo.GetByJobID(ctx, "job_a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalStatusFailed, got.Status)
	assert.Equal(t, domain.StageEmbedding, got.CurrentStage)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "second", *got.ErrorMessage)
	assert.ErrorIs(t, repo.Complete(ctx, "job_a1", sampleAnalysis(50)), domain.ErrConflict)

	require.NoError(t, repo.Complete(ctx, "job_b1", sampleAnalysis(60)))
	require.NoError(t, repo.Complete(ctx, "job_b1", sampleAnalysis(90)))
	got, err = repo.GetByJobID(ctx, "job_b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StageComplete, got.CurrentStage)
	require.NotNil(t, got.Analysis)
	assert.Equal(t, 90, got.Analysis.OverallScore)
	assert.Nil(t, got.ErrorMessage)
	assert.ErrorIs(t, repo.Fail(ctx, "job_b1", "late"), domain.ErrConflict)

	require.NoError(t, repo.Complete(ctx, "missing", sampleAnalysis(10)))
	_, err = repo.GetByJobID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	stale, err := repo.ListStale(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "job_a2", stale[0].JobID)

	n, err := repo.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMongoUserRepository_Integration(t *testing.T) {
	_, repo := openMongoTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	_, err := repo.Create(ctx, domain.User{ID: "u-1", Name: "Asha Rao", Email: "asha@example.com", Role: domain.RoleSubmitter, PasswordHash: "hash", CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)
	_, err = repo.Create(ctx, domain.User{ID: "u-2", Name: "Dup", Email: "asha@example.com", Role: domain.RoleReviewer, PasswordHash: "x", CreatedAt: now, UpdatedAt: now})
	assert.ErrorIs(t, err, domain.ErrConflict)

	byID, err := repo.FindByID(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, "asha@example.com", byID.Email)

	_, err = repo.FindByEmail(ctx, "missing@example.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

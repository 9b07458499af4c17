package event

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/klokku/taskmanager/internal/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRepository(t *testing.T) (context.Context, *RepositoryImpl, int64) {
	db := test_utils.SetupTestDB(t)
	ctx := context.Background()
	var accountId int64
	err := db.QueryRowContext(ctx, `INSERT INTO accounts (email, account_type) VALUES ('feed@example.com', 4) RETURNING id`).Scan(&accountId)
	require.NoError(t, err)
	return ctx, NewRepository(db), accountId
}

var start = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func TestRepositoryImpl_InsertAndGet(t *testing.T) {
	// given
	ctx, repo, accountId := setupTestRepository(t)
	occurrence := Occurrence{ExternalUID: "s1_1", Name: "Standup", Start: start, End: start.Add(15 * time.Minute), Payload: json.RawMessage(`{"id":"s1_1"}`)}

	// when
	id, err := repo.Insert(ctx, Event{
		ExternalUID:      "s1_1",
		ETag:             "v1",
		SeriesID:         "s1",
		Name:             "Standup",
		Description:      "daily",
		Start:            start,
		End:              start.Add(15 * time.Minute),
		AccountId:        AccountRef(accountId),
		Raw:              json.RawMessage(`{"id":"s1_1"}`),
		StoreOccurrences: true,
		Occurrences:      []Occurrence{occurrence},
	})
	require.NoError(t, err)

	// then
	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Standup", stored.Name)
	assert.Equal(t, "daily", stored.Description)
	assert.Equal(t, "s1", stored.SeriesID)
	assert.True(t, stored.Start.Equal(start))
	assert.True(t, stored.End.Equal(start.Add(15*time.Minute)))
	require.NotNil(t, stored.AccountId)
	assert.Equal(t, accountId, *stored.AccountId)
	assert.JSONEq(t, `{"id":"s1_1"}`, string(stored.Raw))
	require.Len(t, stored.Occurrences, 1)
	assert.Equal(t, "s1_1", stored.Occurrences[0].ExternalUID)
	assert.True(t, stored.Occurrences[0].Start.Equal(start))
}

func TestRepositoryImpl_LocalEventWithoutAccount(t *testing.T) {
	ctx, repo, _ := setupTestRepository(t)

	id, err := repo.Insert(ctx, Event{Name: "Buy milk", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)

	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, stored.AccountId)
	assert.Empty(t, stored.Occurrences)
	assert.Nil(t, stored.Raw)
}

func TestRepositoryImpl_SingleExternalUIDIsUnique(t *testing.T) {
	ctx, repo, accountId := setupTestRepository(t)
	_, err := repo.Insert(ctx, Event{ExternalUID: "abc", Start: start, End: start, AccountId: AccountRef(accountId)})
	require.NoError(t, err)

	_, err = repo.Insert(ctx, Event{ExternalUID: "abc", Start: start, End: start, AccountId: AccountRef(accountId)})

	assert.Error(t, err)
}

func TestRepositoryImpl_UpdateAndRemove(t *testing.T) {
	// given
	ctx, repo, _ := setupTestRepository(t)
	id, err := repo.Insert(ctx, Event{Name: "Old", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	stored, err := repo.Get(ctx, id)
	require.NoError(t, err)

	// when
	stored.Name = "New"
	stored.Ongoing = true
	err = repo.Update(ctx, stored)
	require.NoError(t, err)

	// then
	updated, err := repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "New", updated.Name)
	assert.True(t, updated.Ongoing)

	require.NoError(t, repo.Remove(ctx, id))
	_, err = repo.Get(ctx, id)
	assert.ErrorIs(t, err, ErrEventNotFound)
	assert.ErrorIs(t, repo.Remove(ctx, id), ErrEventNotFound)
	assert.ErrorIs(t, repo.Update(ctx, Event{Id: id, Start: start, End: start}), ErrEventNotFound)
}

func TestRepositoryImpl_RemoveSeriesInstances(t *testing.T) {
	// given
	ctx, repo, accountId := setupTestRepository(t)
	_, err := repo.Insert(ctx, Event{SeriesID: "s1", ExternalUID: "s1_1", Start: start, End: start, AccountId: AccountRef(accountId)})
	require.NoError(t, err)
	_, err = repo.Insert(ctx, Event{SeriesID: "s2", ExternalUID: "s2_1", Start: start, End: start, AccountId: AccountRef(accountId)})
	require.NoError(t, err)
	singleId, err := repo.Insert(ctx, Event{ExternalUID: "abc", Start: start, End: start, AccountId: AccountRef(accountId)})
	require.NoError(t, err)
	localId, err := repo.Insert(ctx, Event{Name: "local", Start: start, End: start})
	require.NoError(t, err)

	// when
	removed, err := repo.RemoveSeriesInstances(ctx, accountId)

	// then
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, singleId, all[0].Id)
	assert.Equal(t, localId, all[1].Id)
}

func TestRepositoryImpl_WithTransaction_RollsBack(t *testing.T) {
	// given
	ctx, repo, _ := setupTestRepository(t)
	failure := errors.New("boom")

	// when
	err := repo.WithTransaction(ctx, func(txRepo Repository) error {
		_, err := txRepo.Insert(ctx, Event{Name: "never", Start: start, End: start})
		require.NoError(t, err)
		return failure
	})

	// then
	assert.ErrorIs(t, err, failure)
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRepositoryStub_MirrorsUniqueness(t *testing.T) {
	ctx := context.Background()
	stub := NewRepositoryStub()
	_, err := stub.Insert(ctx, Event{SeriesID: "s1", Start: start, End: start})
	require.NoError(t, err)

	_, err = stub.Insert(ctx, Event{SeriesID: "s1", Start: start, End: start})

	assert.Error(t, err)
	assert.Equal(t, 2, stub.InsertCalls)
}

//go:build integration

package event

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/klokku/taskmanager/internal/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryImpl_Postgres(t *testing.T) {
	db, cleanup := test_utils.TestWithDB()
	t.Cleanup(cleanup)
	ctx := context.Background()
	repo := NewRepository(db)

	var accountId int64
	err := db.QueryRowContext(ctx, db.Rebind(`INSERT INTO accounts (email, account_type) VALUES (?, ?) RETURNING id`), "pg@example.com", 4).Scan(&accountId)
	require.NoError(t, err)

	t.Run("insert and get with occurrences", func(t *testing.T) {
		id, err := repo.Insert(ctx, Event{
			SeriesID:         "pg-series",
			ExternalUID:      "pg-series_1",
			Name:             "Weekly",
			Start:            start,
			End:              start.Add(time.Hour),
			AccountId:        AccountRef(accountId),
			StoreOccurrences: true,
			Occurrences:      []Occurrence{{ExternalUID: "pg-series_1", Start: start, End: start.Add(time.Hour), Payload: json.RawMessage(`{}`)}},
		})
		require.NoError(t, err)

		stored, err := repo.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Weekly", stored.Name)
		assert.True(t, stored.Start.Equal(start))
		assert.Len(t, stored.Occurrences, 1)
	})

	t.Run("single external uid is unique", func(t *testing.T) {
		_, err := repo.Insert(ctx, Event{ExternalUID: "pg-single", Start: start, End: start, AccountId: AccountRef(accountId)})
		require.NoError(t, err)
		_, err = repo.Insert(ctx, Event{ExternalUID: "pg-single", Start: start, End: start, AccountId: AccountRef(accountId)})
		assert.Error(t, err)
	})

	t.Run("remove series instances keeps singles", func(t *testing.T) {
		removed, err := repo.RemoveSeriesInstances(ctx, accountId)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		all, err := repo.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "pg-single", all[0].ExternalUID)
	})
}

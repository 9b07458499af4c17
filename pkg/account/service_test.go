package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var repoStub = NewRepositoryStub()

func setupService(t *testing.T) (context.Context, *Service) {
	t.Cleanup(func() {
		repoStub.Cleanup()
	})
	return context.Background(), NewService(repoStub)
}

func TestService_EnsureLocal_CreatesLocalAccountOnEmptyStore(t *testing.T) {
	// given
	ctx, service := setupService(t)

	// when
	local, err := service.EnsureLocal(ctx)

	// then
	require.NoError(t, err)
	assert.Equal(t, Local, local.Type)
	assert.Equal(t, LocalEmail, local.Email)
	assert.NotZero(t, local.Id)
	count, _ := repoStub.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestService_EnsureLocal_IsLazy(t *testing.T) {
	// given
	ctx, service := setupService(t)
	first, err := service.EnsureLocal(ctx)
	require.NoError(t, err)

	// when
	second, err := service.EnsureLocal(ctx)

	// then
	require.NoError(t, err)
	assert.Equal(t, first.Id, second.Id)
	count, _ := repoStub.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestService_EnsureLocal_DoesNotCreateWhenOtherAccountsExist(t *testing.T) {
	// given
	ctx, service := setupService(t)
	_, err := repoStub.Insert(ctx, Account{Email: "a@example.com", Type: GoogleCalendar})
	require.NoError(t, err)

	// when
	local, err := service.EnsureLocal(ctx)

	// then
	require.NoError(t, err)
	assert.Zero(t, local.Id)
	count, _ := repoStub.Count(ctx)
	assert.Equal(t, 1, count)
}

func TestService_Link(t *testing.T) {
	ctx, service := setupService(t)

	t.Run("stores provider account", func(t *testing.T) {
		linked, err := service.Link(ctx, Account{Email: "a@example.com", Type: GoogleCalendar, RefreshToken: "r"})
		require.NoError(t, err)
		assert.NotZero(t, linked.Id)
	})

	t.Run("rejects local and sentinel types", func(t *testing.T) {
		for _, accountType := range []Type{Local, Invalid, NotInherited} {
			_, err := service.Link(ctx, Account{Email: "x@example.com", Type: accountType})
			assert.Error(t, err, accountType.String())
		}
	})

	t.Run("requires email", func(t *testing.T) {
		_, err := service.Link(ctx, Account{Type: ICSFeed})
		assert.Error(t, err)
	})
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "LOCAL", Local.String())
	assert.Equal(t, "Google Calendar", GoogleCalendar.String())
	assert.Equal(t, "ICS Feed", ICSFeed.String())
	assert.Equal(t, "Type(9)", Type(9).String())
}

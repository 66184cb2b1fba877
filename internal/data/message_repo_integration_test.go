package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nudgelabs/nudged/internal/domain/model"
	"github.com/nudgelabs/nudged/internal/testutil"
)

func createTestUser(t *testing.T, db *sql.DB, name string) *model.User {
	t.Helper()
	users := MustNewUserRepo(UserRepoOptions{DB: db})
	user, err := users.Create(context.Background(), &model.CreateUserRequest{DisplayName: name})
	require.NoError(t, err)
	return user
}

func TestMessageRepo_Integration_AppendAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		timeProvider := NewFixedTimeProvider(testutil.TestTime())
		repo := MustNewMessageRepo(MessageRepoOptions{DB: db, TimeProvider: timeProvider})
		user := createTestUser(t, db, "Sam")
		ctx := context.Background()

		first, err := repo.Append(ctx, &model.AppendMessageRequest{
			UserID:  user.ID,
			Role:    model.MessageRoleAssistant,
			Content: model.TextContent("time to stretch"),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, "time to stretch", first.PlainText())

		timeProvider.AddTime(time.Second)
		_, err = repo.Append(ctx, &model.AppendMessageRequest{
			UserID:  user.ID,
			Role:    model.MessageRoleUser,
			Content: model.TextContent("done, thanks"),
		})
		require.NoError(t, err)

		messages, err := repo.ListByUser(ctx, user.ID, 10, 0)
		require.NoError(t, err)
		require.Len(t, messages, 2)

		// Chronological order: the log reads oldest to newest.
		assert.Equal(t, model.MessageRoleAssistant, messages[0].Role)
		assert.Equal(t, "time to stretch", messages[0].PlainText())
		assert.Equal(t, model.MessageRoleUser, messages[1].Role)
		assert.Equal(t, "done, thanks", messages[1].PlainText())
	})
}

func TestMessageRepo_Integration_ListScopedToUser(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := MustNewMessageRepo(MessageRepoOptions{DB: db})
		sam := createTestUser(t, db, "Sam")
		riley := createTestUser(t, db, "Riley")
		ctx := context.Background()

		_, err := repo.Append(ctx, &model.AppendMessageRequest{
			UserID:  sam.ID,
			Role:    model.MessageRoleAssistant,
			Content: model.TextContent("for sam"),
		})
		require.NoError(t, err)

		messages, err := repo.ListByUser(ctx, riley.ID, 10, 0)
		require.NoError(t, err)
		assert.Empty(t, messages)

		_, err = repo.ListByUser(ctx, "", 10, 0)
		assert.ErrorIs(t, err, ErrUserIDRequired)
	})
}

func TestMessageRepo_Integration_RejectsUnknownUser(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := MustNewMessageRepo(MessageRepoOptions{DB: db})

		// messages.user_id carries a foreign key to users.
		_, err := repo.Append(context.Background(), &model.AppendMessageRequest{
			UserID:  "00000000-0000-0000-0000-000000000000",
			Role:    model.MessageRoleAssistant,
			Content: model.TextContent("nobody home"),
		})
		assert.Error(t, err)
	})
}

func TestMessageRepo_Integration_ValidatesRequest(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		repo := MustNewMessageRepo(MessageRepoOptions{DB: db})
		ctx := context.Background()

		_, err := repo.Append(ctx, nil)
		assert.Error(t, err)

		_, err = repo.Append(ctx, &model.AppendMessageRequest{
			UserID:  "7b5bd1f2-5a86-4b64-9d1a-6d41b3c9c001",
			Role:    model.MessageRole("robot"),
			Content: model.TextContent("bad role"),
		})
		assert.Error(t, err)
	})
}

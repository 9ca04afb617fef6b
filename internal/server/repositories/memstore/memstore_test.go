package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/zapzap/internal/common"
	"github.com/dmitrijs2005/zapzap/internal/server/models"
	"github.com/dmitrijs2005/zapzap/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.AddUser(models.User{ID: "author", UserName: "author"})
	s.AddPost(models.Post{ID: "post", AuthorID: "author"})
	_, err := s.Repos().Tips().Create(context.Background(), &models.Tip{
		ID: "t1", PostID: "post", AmountSats: 1000, PaymentID: "hash1", Invoice: "lnbc1",
	})
	require.NoError(t, err)
	return s
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	err := s.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error {
		require.NoError(t, r.Tips().MarkReceived(ctx, "t1"))
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	tip, err := s.Repos().Tips().Get(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tip.Received)
}

func TestAtomic_Commits(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error {
		return r.Tips().MarkReceived(ctx, "t1")
	}))

	tip, err := s.Repos().Tips().GetByPaymentID(ctx, "hash1")
	require.NoError(t, err)
	assert.True(t, tip.Received)
}

func TestTipFlags_AreGuarded(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	tips := s.Repos().Tips()

	assert.ErrorIs(t, tips.MarkForwarded(ctx, "t1", "f1"), common.ErrStateConflict)
	require.NoError(t, tips.MarkReceived(ctx, "t1"))
	assert.ErrorIs(t, tips.MarkReceived(ctx, "t1"), common.ErrStateConflict)
	require.NoError(t, tips.MarkForwarded(ctx, "t1", "f1"))
	assert.ErrorIs(t, tips.MarkForwarded(ctx, "t1", "f2"), common.ErrStateConflict)

	tip, err := tips.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "f1", tip.ForwardPaymentID)
}

func TestCreate_RequiresPostAndUniquePayment(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	_, err := s.Repos().Tips().Create(ctx, &models.Tip{ID: "t2", PostID: "nope", PaymentID: "h2"})
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = s.Repos().Tips().Create(ctx, &models.Tip{ID: "t3", PostID: "post", PaymentID: "hash1"})
	assert.ErrorIs(t, err, common.ErrStateConflict)
}

func TestPendingForwardAndRecipient(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	tips := s.Repos().Tips()

	pending, err := tips.ListPendingForward(ctx, "author")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, tips.MarkReceived(ctx, "t1"))
	pending, err = tips.ListPendingForward(ctx, "author")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	author, err := tips.RecipientID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "author", author)
}

func TestUsersAndCheckpoint(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.Repos().Users().SetPayoutAddress(ctx, "author", "a@b.c"))
	u, err := s.Repos().Users().Get(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.PayoutAddress)
	assert.ErrorIs(t, s.Repos().Users().SetPayoutAddress(ctx, "ghost", "x"), common.ErrorNotFound)

	ts, err := s.Repos().SyncState().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts.Unix())

	require.NoError(t, s.Repos().SyncState().Set(ctx, time.Unix(42, 0)))
	ts, err = s.Repos().SyncState().Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ts.Unix())
}

func TestAtomic_RespectsCancelledContext(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Atomic(ctx, func(ctx context.Context, r repomanager.Repos) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

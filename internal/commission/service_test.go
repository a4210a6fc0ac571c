package commission

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formtato/internal/logging"
)

type recordingNotifier struct {
	err  error
	sent []Commission
}

func (r *recordingNotifier) NotifyCommission(_ context.Context, c Commission) error {
	r.sent = append(r.sent, c)
	return r.err
}

type stubVerifier struct{ err error }

func (s stubVerifier) VerifyPayment(context.Context, string) error { return s.err }

func TestSubmitRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, logging.Discard())
	ctx := context.Background()

	id, err := svc.Submit(ctx, Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	require.NoError(t, err)

	got, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", got.Name)
	assert.Equal(t, "ruedart", got.TwitterUsername)
	assert.Equal(t, "0xabc", got.TxHash)
	assert.Nil(t, got.InspirationURI)
	assert.False(t, got.Finished)

	n, err := svc.CountUnfinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, svc.MarkFinished(ctx, id))
	n, err = svc.CountUnfinished(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.ErrorIs(t, svc.MarkFinished(ctx, id+100), ErrNotFound)
}

func TestSubmitEmptyInspirationStoredAsNull(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, logging.Discard())

	empty := ""
	id, err := svc.Submit(context.Background(), Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0x1", InspirationURI: &empty})
	require.NoError(t, err)

	got, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, got.InspirationURI)
}

func TestSubmitNotificationFailureDoesNotFail(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("smtp down")}
	var observed []error
	svc := NewService(NewMemoryRepository(), logging.Discard(),
		WithNotifier(notifier),
		WithNotifyHook(func(err error) { observed = append(observed, err) }),
	)

	id, err := svc.Submit(context.Background(), Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, id, notifier.sent[0].ID)
	require.Len(t, observed, 1)
	assert.Error(t, observed[0])
}

func TestSubmitWithVerifier(t *testing.T) {
	repo := NewMemoryRepository()
	svc := NewService(repo, logging.Discard(), WithVerifier(stubVerifier{err: errors.New("wrong recipient")}))

	_, err := svc.Submit(context.Background(), Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	assert.ErrorIs(t, err, ErrPaymentUnverified)

	n, _ := repo.CountUnfinished(context.Background())
	assert.Zero(t, n)
}

func TestMemoryRepositoryRejectsDuplicateTx(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first, err := repo.Create(ctx, Commission{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, Commission{Name: "Bob", TwitterUsername: "bob", TxHash: "0xabc"})
	assert.ErrorIs(t, err, ErrDuplicateTx)

	got, err := repo.GetByTxHash(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Ana", got.Name)

	_, err = repo.GetByTxHash(ctx, "0xdef")
	assert.ErrorIs(t, err, ErrNotFound)

	// Commissions without a hash are not deduplicated.
	_, err = repo.Create(ctx, Commission{Name: "Ana"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, Commission{Name: "Ana"})
	require.NoError(t, err)
}

func TestSubmitDuplicateTxSkipsNotification(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryRepository(), logging.Discard(), WithNotifier(notifier))
	ctx := context.Background()

	id, err := svc.Submit(ctx, Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, Request{Name: "Ana", TwitterUsername: "ruedart", TxHash: "0xabc"})
	assert.ErrorIs(t, err, ErrDuplicateTx)
	assert.Len(t, notifier.sent, 1)

	got, err := svc.FindByTxHash(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

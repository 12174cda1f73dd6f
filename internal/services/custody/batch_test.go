package custody

import (
	"context"
	"fmt"
	"testing"
	"time"

	ledgerfake "github.com/BearBump/MedLedger/internal/integrations/ledger/fake"
	"github.com/BearBump/MedLedger/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestService() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return New(ledgerfake.New(), repo, NewAuthorizer(AuthorizerConfig{})), repo
}

func TestTransitionBatch_RejectsWholeBatchUpfront(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	var ve *ValidationError

	_, err := svc.TransitionBatch(ctx, nil, ActionReceived, distributor)
	require.ErrorAs(t, err, &ve)

	big := make([]string, 501)
	for i := range big {
		big[i] = "SN"
	}
	_, err = svc.TransitionBatch(ctx, big, ActionReceived, distributor)
	require.ErrorAs(t, err, &ve)
	require.Contains(t, ve.Reason, "500")

	_, err = svc.TransitionBatch(ctx, []string{"SN-1"}, "destroyed", distributor)
	require.ErrorAs(t, err, &ve)

	// ни статусов, ни аудита не появилось
	require.Empty(t, repo.statuses)
	require.Empty(t, repo.audits)
}

func TestTransitionBatch_AtLimitAccepted(t *testing.T) {
	svc, _ := newTestService()

	serials := make([]string, 500)
	for i := range serials {
		serials[i] = fmt.Sprintf("SN-%03d", i)
	}
	res, err := svc.TransitionBatch(context.Background(), serials, ActionReceived, distributor)
	require.NoError(t, err)
	require.Equal(t, 500, res.Processed)
	require.Len(t, res.Succeeded, 500)
}

func TestTransitionBatch_MixedOutcomes(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	// SN-B уже received, повторная отметка в батче даст конфликт
	_, err := svc.TransitionOne(ctx, "SN-B", ActionReceived, distributor)
	require.NoError(t, err)

	res, err := svc.TransitionBatch(ctx, []string{"SN-A", "SN-B", "", "SN-C"}, ActionReceived, distributor)
	require.NoError(t, err)

	require.Equal(t, 4, res.Processed)
	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 2)
	require.Equal(t, res.Processed, len(res.Succeeded)+len(res.Failed))

	require.Equal(t, "SN-A", res.Succeeded[0].SerialNumber)
	require.Equal(t, models.StatusReceived, res.Succeeded[0].Status)
	require.Equal(t, "SN-C", res.Succeeded[1].SerialNumber)

	require.Equal(t, "SN-B", res.Failed[0].SerialNumber)
	require.Equal(t, "cannot mark received from status 'received'", res.Failed[0].Error)
	require.Equal(t, "", res.Failed[1].SerialNumber)
	require.Equal(t, "empty serial number", res.Failed[1].Error)

	// у провалившихся элементов аудита нет
	require.Len(t, repo.audits["SN-A"], 1)
	require.Len(t, repo.audits["SN-B"], 1) // только из TransitionOne
}

func TestTransitionBatch_DuplicateSerialSequentialSemantics(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.TransitionBatch(context.Background(), []string{"SN-D", "SN-D"}, ActionReceived, distributor)
	require.NoError(t, err)

	// первый экземпляр проходит, второй видит уже изменённый статус
	require.Len(t, res.Succeeded, 1)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "cannot mark received from status 'received'", res.Failed[0].Error)
}

func TestTransitionBatch_RoleDeniedPerItem(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.TransitionBatch(context.Background(), []string{"SN-A", "SN-B"}, ActionReceived, pharmacist)
	require.NoError(t, err)

	require.Len(t, res.Succeeded, 0)
	require.Len(t, res.Failed, 2)
	for _, f := range res.Failed {
		require.Equal(t, "only distribution companies can mark received", f.Error)
	}
}

func TestTransitionBatch_InfraErrorDoesNotStopBatch(t *testing.T) {
	repo := newFakeRepo()
	svc := New(ledgerfake.New(), repo, NewAuthorizer(AuthorizerConfig{}))

	repo.transitionErr = errors.New("connection reset")
	res, err := svc.TransitionBatch(context.Background(), []string{"SN-A", "SN-B"}, ActionReceived, distributor)
	require.NoError(t, err)

	require.Len(t, res.Failed, 2)
	require.Contains(t, res.Failed[0].Error, "connection reset")
	require.Contains(t, res.Failed[1].Error, "connection reset")
}

// stuckRepo виснет на переходе одного серийника до отмены контекста.
type stuckRepo struct {
	*fakeRepo
	stuckSerial string
}

func (r *stuckRepo) TransitionStatus(ctx context.Context, serialNumber, expected, next string, actor models.Actor) (*models.CustodyStatus, error) {
	if serialNumber == r.stuckSerial {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.fakeRepo.TransitionStatus(ctx, serialNumber, expected, next, actor)
}

func TestTransitionBatch_StuckItemTimesOutOthersProceed(t *testing.T) {
	repo := &stuckRepo{fakeRepo: newFakeRepo(), stuckSerial: "SN-STUCK"}
	svc := New(ledgerfake.New(), repo, NewAuthorizer(AuthorizerConfig{})).
		WithItemTimeout(50 * time.Millisecond)

	start := time.Now()
	res, err := svc.TransitionBatch(context.Background(), []string{"SN-STUCK", "SN-OK"}, ActionReceived, distributor)
	require.NoError(t, err)
	// зависший элемент срезан таймаутом, батч не ждёт его вечно
	require.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, res.Succeeded, 1)
	require.Equal(t, "SN-OK", res.Succeeded[0].SerialNumber)
	require.Len(t, res.Failed, 1)
	require.Equal(t, "SN-STUCK", res.Failed[0].SerialNumber)
	require.Contains(t, res.Failed[0].Error, "context deadline exceeded")
}

func TestTransitionBatch_TrimsSerials(t *testing.T) {
	svc, _ := newTestService()

	res, err := svc.TransitionBatch(context.Background(), []string{" SN-T "}, ActionReceived, distributor)
	require.NoError(t, err)
	require.Len(t, res.Succeeded, 1)
	require.Equal(t, "SN-T", res.Succeeded[0].SerialNumber)
}

package dispatch

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/mailer"
	"github.com/ignite/batch-mailer/internal/pkg/distlock"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/repository/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An advisory lock held for the whole run must not take the only connection
// the recipient store has.
func TestAdvisoryLockLeavesStorePoolFree(t *testing.T) {
	storeDB, store, err := sqlmock.New()
	require.NoError(t, err)
	defer storeDB.Close()
	storeDB.SetMaxOpenConns(1)

	lockDB, lockMock, err := sqlmock.New()
	require.NoError(t, err)
	defer lockDB.Close()
	lockDB.SetMaxOpenConns(1)

	store.ExpectQuery("FROM mailer_batches").
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "batch_id", "sender_name", "sender_email", "total_emails", "sent_emails", "failed_emails", "created_at",
		}).AddRow(1, "b1", "Sahil", "sahil@gmail.com", 1, 0, 0, time.Now().UTC()))
	store.ExpectQuery("FROM mailer_recipients").
		WithArgs("b1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "batch_id", "name", "email", "designation", "company", "status"}).
			AddRow(7, "b1", "Asha", "asha@x.com", "Dev", "Acme", "pending"))
	store.ExpectExec("UPDATE mailer_recipients SET status").
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	store.ExpectExec(regexp.QuoteMeta("SET sent_emails = sent_emails + 1")).
		WithArgs("b1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	lockMock.ExpectQuery("SELECT pg_try_advisory_lock").
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	lockMock.ExpectExec("SELECT pg_advisory_unlock").
		WillReturnResult(sqlmock.NewResult(0, 0))

	transport := &scriptedTransport{}
	done := make(chan domain.Progress, 1)
	d := New(postgres.NewBatchRepo(storeDB), NewRegistry(time.Hour), func(domain.Credentials) (mailer.Transport, error) {
		return transport, nil
	}, Options{
		AllowedDomain: "@gmail.com",
		Locks:         distlock.NewFactory(nil, lockDB, time.Minute),
		Logger:        logger.NewNop(),
	})
	d.OnComplete(func(_ context.Context, _ string, final domain.Progress) {
		done <- final
	})

	_, err = d.Start(context.Background(), "b1", creds)
	require.NoError(t, err)

	select {
	case final := <-done:
		assert.Equal(t, domain.Progress{Total: 1, Sent: 1}, final)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch did not complete; store writes starved")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))

	assert.Equal(t, []string{"asha@x.com"}, transport.sent())
	assert.NoError(t, store.ExpectationsWereMet())
	assert.NoError(t, lockMock.ExpectationsWereMet())
}

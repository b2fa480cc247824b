package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ignite/batch-mailer/internal/dispatch"
	"github.com/ignite/batch-mailer/internal/domain"
	"github.com/ignite/batch-mailer/internal/pkg/logger"
	"github.com/ignite/batch-mailer/internal/repository/memory"
	"github.com/ignite/batch-mailer/internal/service/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var creds = domain.Credentials{FullName: "Sahil", Email: "sahil@gmail.com", Password: "x"}

type recorder struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	pings  int
	err    error
}

func (r *recorder) Event(ev domain.ProgressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) Ping() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pings++
	return nil
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func count(types []domain.EventType, t domain.EventType) int {
	n := 0
	for _, x := range types {
		if x == t {
			n++
		}
	}
	return n
}

func newPublisher(t *testing.T, opts Options) (*Publisher, *dispatch.Registry, *memory.BatchRepo) {
	t.Helper()
	reg := dispatch.NewRegistry(time.Hour)
	repo := memory.NewBatchRepo()
	if opts.PollInterval == 0 {
		opts.PollInterval = 2 * time.Millisecond
	}
	opts.Logger = logger.NewNop()
	return NewPublisher(reg, repo, opts), reg, repo
}

func seedBatch(t *testing.T, repo *memory.BatchRepo, batchID string, n int) []domain.Recipient {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.CreateBatch(ctx, &domain.Batch{BatchID: batchID, SenderName: "Sahil", SenderEmail: "sahil@gmail.com", TotalEmails: n}))
	in := make([]domain.Recipient, n)
	for i := range in {
		in[i] = domain.Recipient{BatchID: batchID, Name: "R", Email: "r@x.com", Designation: "D", Company: "C"}
	}
	out, err := repo.SaveRecipients(ctx, in)
	require.NoError(t, err)
	return out
}

func TestLiveStreamInitUpdatesComplete(t *testing.T) {
	p, reg, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 3)
	_, err := reg.Create("b1", domain.Progress{Total: 3}, creds)
	require.NoError(t, err)

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)
	assert.False(t, st.Synthesized())

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			reg.RecordResult("b1", true)
		}
		time.Sleep(10 * time.Millisecond)
		reg.MarkComplete("b1")
	}()

	rec := &recorder{}
	require.NoError(t, st.Run(context.Background(), rec))

	types := rec.types()
	require.NotEmpty(t, types)
	assert.Equal(t, domain.EventInit, types[0])
	assert.Equal(t, domain.EventComplete, types[len(types)-1])
	assert.Equal(t, 1, count(types, domain.EventInit))
	assert.Equal(t, 1, count(types, domain.EventComplete))
	assert.LessOrEqual(t, count(types, domain.EventUpdate), 3)

	final := rec.events[len(rec.events)-1]
	assert.Equal(t, 3, final.Sent)
	assert.Equal(t, 0, final.Failed)
	assert.Equal(t, 3, final.Total)
	assert.Equal(t, 0, final.Pending)

	prev := -1
	for _, ev := range rec.events {
		assert.GreaterOrEqual(t, ev.Sent+ev.Failed, prev)
		prev = ev.Sent + ev.Failed
	}
}

func TestSynthesizedCompletedBatch(t *testing.T) {
	p, _, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 2)
	ctx := context.Background()
	require.NoError(t, repo.UpdateBatchSentCount(ctx, "b1", true))
	require.NoError(t, repo.UpdateBatchSentCount(ctx, "b1", false))

	st, err := p.Open(ctx, "b1", false)
	require.NoError(t, err)
	assert.True(t, st.Synthesized())

	rec := &recorder{}
	require.NoError(t, st.Run(ctx, rec))

	assert.Equal(t, []domain.EventType{domain.EventInit, domain.EventComplete}, rec.types())
	for _, ev := range rec.events {
		assert.Equal(t, 1, ev.Sent)
		assert.Equal(t, 1, ev.Failed)
		assert.Equal(t, 2, ev.Total)
	}
}

func TestFinishedSessionCompletesImmediately(t *testing.T) {
	p, reg, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 1)
	_, err := reg.Create("b1", domain.Progress{Total: 1}, creds)
	require.NoError(t, err)
	require.NoError(t, reg.RecordResult("b1", false))
	require.NoError(t, reg.MarkComplete("b1"))

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, st.Run(context.Background(), rec))
	assert.Equal(t, []domain.EventType{domain.EventInit, domain.EventComplete}, rec.types())
}

func TestOpenUnknownBatch(t *testing.T) {
	p, _, _ := newPublisher(t, Options{})
	_, err := p.Open(context.Background(), "nope", false)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestOpenBatchWithoutRecipients(t *testing.T) {
	p, _, repo := newPublisher(t, Options{})
	require.NoError(t, repo.CreateBatch(context.Background(), &domain.Batch{BatchID: "empty"}))

	_, err := p.Open(context.Background(), "empty", false)
	assert.ErrorIs(t, err, batch.ErrNoRecipients)
}

func TestStoreBackedStreamPicksUpProgress(t *testing.T) {
	p, _, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 2)
	ctx := context.Background()

	st, err := p.Open(ctx, "b1", false)
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		repo.UpdateBatchSentCount(ctx, "b1", true)
		time.Sleep(10 * time.Millisecond)
		repo.UpdateBatchSentCount(ctx, "b1", true)
	}()

	rec := &recorder{}
	require.NoError(t, st.Run(ctx, rec))
	types := rec.types()
	assert.Equal(t, domain.EventInit, types[0])
	assert.Equal(t, domain.EventComplete, types[len(types)-1])
	assert.Equal(t, 2, rec.events[len(rec.events)-1].Sent)
}

func TestStoreBackedStreamStalls(t *testing.T) {
	p, _, repo := newPublisher(t, Options{StallTimeout: 20 * time.Millisecond})
	seedBatch(t, repo, "b1", 2)

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)

	rec := &recorder{}
	err = st.Run(context.Background(), rec)
	assert.ErrorIs(t, err, ErrStalled)

	types := rec.types()
	assert.Equal(t, []domain.EventType{domain.EventInit, domain.EventError}, types)
	assert.Equal(t, stalledMessage, rec.events[1].Message)
}

func TestDisconnectStopsStream(t *testing.T) {
	p, reg, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 2)
	_, err := reg.Create("b1", domain.Progress{Total: 2}, creds)
	require.NoError(t, err)

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(15*time.Millisecond, cancel)

	rec := &recorder{}
	err = st.Run(ctx, rec)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []domain.EventType{domain.EventInit}, rec.types())

	snap, ok := reg.Get("b1")
	require.True(t, ok)
	assert.True(t, snap.InProgress)
}

func TestDetailAttachesRecipientStatuses(t *testing.T) {
	p, reg, repo := newPublisher(t, Options{})
	recs := seedBatch(t, repo, "b1", 2)
	ctx := context.Background()
	require.NoError(t, repo.UpdateRecipientStatus(ctx, recs[0].ID, domain.RecipientSent))
	_, err := reg.Create("b1", domain.Progress{Total: 2, Sent: 1}, creds)
	require.NoError(t, err)
	require.NoError(t, reg.RecordResult("b1", false))
	require.NoError(t, reg.MarkComplete("b1"))

	st, err := p.Open(ctx, "b1", true)
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, st.Run(ctx, rec))

	first := rec.events[0]
	require.Len(t, first.Recipients, 2)
	assert.Equal(t, domain.RecipientSent, first.Recipients[0].Status)
	assert.Equal(t, domain.RecipientPending, first.Recipients[1].Status)
}

func TestSinkErrorEndsStream(t *testing.T) {
	p, _, repo := newPublisher(t, Options{})
	seedBatch(t, repo, "b1", 1)

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)
	boom := errors.New("broken pipe")
	rec := &recorder{err: boom}
	assert.ErrorIs(t, st.Run(context.Background(), rec), boom)
	assert.Len(t, rec.types(), 1)
}

func TestHeartbeat(t *testing.T) {
	p, reg, repo := newPublisher(t, Options{PollInterval: time.Hour, Heartbeat: 5 * time.Millisecond})
	seedBatch(t, repo, "b1", 1)
	_, err := reg.Create("b1", domain.Progress{Total: 1}, creds)
	require.NoError(t, err)

	st, err := p.Open(context.Background(), "b1", false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	rec := &recorder{}
	st.Run(ctx, rec)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Greater(t, rec.pings, 0)
}

func TestEmitFunc(t *testing.T) {
	var got []domain.EventType
	sink := EmitFunc(func(ev domain.ProgressEvent) error {
		got = append(got, ev.Type)
		return nil
	})
	require.NoError(t, sink.Ping())
	require.NoError(t, sink.Event(domain.ProgressEvent{Type: domain.EventInit}))
	assert.Equal(t, []domain.EventType{domain.EventInit}, got)
}

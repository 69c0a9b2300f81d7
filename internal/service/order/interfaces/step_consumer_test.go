package interfaces

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeRunner struct {
	err       error
	processed []string
	exhausted map[string]error
}

func (f *fakeRunner) ProcessStep(_ context.Context, orderID string) error {
	f.processed = append(f.processed, orderID)
	return f.err
}

func (f *fakeRunner) HandleRetryExhausted(_ context.Context, orderID string, cause error) error {
	if f.exhausted == nil {
		f.exhausted = make(map[string]error)
	}
	f.exhausted[orderID] = cause
	return nil
}

type fakeRouter struct {
	err    error
	routed []error
}

func (f *fakeRouter) Handle(_ context.Context, _ kafka.Message, cause error) error {
	f.routed = append(f.routed, cause)
	return f.err
}

func stepMessage(orderID string) kafka.Message {
	return kafka.Message{Key: []byte(orderID), Value: []byte(`{"orderId":"` + orderID + `"}`)}
}

func TestStepConsumer_SuccessCommits(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{stepMessage("o-1")}}
	runner := &fakeRunner{}
	router := &fakeRouter{}
	a := NewStepConsumerAdapter("test", reader, runner, router)

	assert.True(t, a.consumeOne(context.Background()))
	assert.Equal(t, []string{"o-1"}, runner.processed)
	assert.Empty(t, router.routed)
	assert.Len(t, reader.committed, 1)
}

func TestStepConsumer_FailureIsHandedOffAndCommitted(t *testing.T) {
	cause := errors.New("venue down")
	reader := &fakeReader{queue: []kafka.Message{stepMessage("o-2")}}
	router := &fakeRouter{err: errors.New("retry topic unavailable")}
	a := NewStepConsumerAdapter("test", reader, &fakeRunner{err: cause}, router)

	assert.True(t, a.consumeOne(context.Background()))
	require.Len(t, router.routed, 1)
	assert.ErrorIs(t, router.routed[0], cause)
	// 移交失败也要提交, 由扫描器兜底
	assert.Len(t, reader.committed, 1)
}

func TestStepConsumer_MalformedMessageDropped(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		{Value: []byte("not-json")},
		{Value: []byte(`{"orderId":""}`)},
	}}
	runner := &fakeRunner{}
	router := &fakeRouter{}
	a := NewStepConsumerAdapter("test", reader, runner, router)

	assert.True(t, a.consumeOne(context.Background()))
	assert.True(t, a.consumeOne(context.Background()))
	assert.Empty(t, runner.processed)
	assert.Empty(t, router.routed)
	assert.Len(t, reader.committed, 2)
}

func TestStepConsumer_WaitsForNotBefore(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := stepMessage("o-3")
	msg.Headers = []kafka.Header{{Key: "x-not-before", Value: []byte(now.Add(30 * time.Millisecond).Format(time.RFC3339Nano))}}
	reader := &fakeReader{queue: []kafka.Message{msg}}
	runner := &fakeRunner{}
	a := NewStepConsumerAdapter("test", reader, runner, &fakeRouter{})
	a.now = func() time.Time { return now }

	start := time.Now()
	assert.True(t, a.consumeOne(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []string{"o-3"}, runner.processed)
}

func TestStepConsumer_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewStepConsumerAdapter("test", &fakeReader{}, &fakeRunner{}, &fakeRouter{})
	assert.False(t, a.consumeOne(ctx))
}

func TestExhaustionHook(t *testing.T) {
	runner := &fakeRunner{}
	hook := ExhaustionHook(runner)
	cause := errors.New("Network timeout on Raydium")

	hook(context.Background(), stepMessage("o-4"), cause)
	hook(context.Background(), kafka.Message{Key: []byte("o-5"), Value: []byte("garbage")}, cause)

	assert.Equal(t, cause, runner.exhausted["o-4"])
	assert.Equal(t, cause, runner.exhausted["o-5"])
}

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"heatbot/internal/caseid"
	"heatbot/internal/heat"
	"heatbot/internal/report"
)

type sent struct {
	chatID   int64
	text     string
	filename string
	data     []byte
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	failOn  int // 1-based send index that fails; 0 never fails
	failErr error
}

func (m *fakeMessenger) record(s sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, s)
	if m.failOn == len(m.sent) {
		return m.failErr
	}
	return nil
}

func (m *fakeMessenger) SendText(_ context.Context, chatID int64, text string) error {
	return m.record(sent{chatID: chatID, text: text})
}

func (m *fakeMessenger) SendDocument(_ context.Context, chatID int64, filename string, data []byte, caption string) error {
	return m.record(sent{chatID: chatID, text: caption, filename: filename, data: data})
}

func (m *fakeMessenger) all() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

type fakeFetcher struct {
	mu      sync.Mutex
	calls   []caseid.ID
	outcome func(caseid.ID) heat.Outcome
}

func (f *fakeFetcher) FetchCase(_ context.Context, id caseid.ID) heat.Outcome {
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	return f.outcome(id)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func found(id caseid.ID) heat.Outcome {
	rec := heat.NewRecord(id, "fake")
	rec.Set(heat.FieldClient, "Jane Doe")
	rec.Set(heat.FieldStatus, "Open")
	return heat.Success(rec, 1)
}

var fixedClock = report.WithClock(func() time.Time { return time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC) })

func newTestDispatcher(f Fetcher, m Messenger, format report.Format) *Dispatcher {
	return NewDispatcher(f, report.NewRenderer(fixedClock), m, DispatcherOptions{Format: format})
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		kind Kind
		id   string
	}{
		{"/start", KindStart, ""},
		{"/help", KindStart, ""},
		{"/start@heat_bot", KindStart, ""},
		{"  /START  ", KindStart, ""},
		{"REQ-360275", KindCase, "REQ-360275"},
		{"req360275", KindCase, "REQ-360275"},
		{" inc-1234 ", KindCase, "INC-1234"},
		{"hello", KindUnrecognized, ""},
		{"/status", KindUnrecognized, ""},
		{"REQ-12", KindUnrecognized, ""},
		{"", KindUnrecognized, ""},
	}
	for _, tc := range cases {
		kind, id := Classify(tc.in)
		assert.Equal(t, tc.kind, kind, tc.in)
		if tc.id != "" {
			assert.Equal(t, tc.id, id.String(), tc.in)
		} else {
			assert.True(t, id.IsZero(), tc.in)
		}
	}
}

func TestHandleStart(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: found}
	require.NoError(t, newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "/start"}))

	out := m.all()
	require.Len(t, out, 1)
	assert.Equal(t, greetingText, out[0].text)
	assert.Zero(t, f.count())
}

func TestHandleUnrecognizedNeverFetches(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: found}
	require.NoError(t, newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "hello"}))

	out := m.all()
	require.Len(t, out, 1)
	assert.Equal(t, usageText, out[0].text)
	assert.Zero(t, f.count())
}

func TestHandleCaseAcknowledgesThenReplies(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: found}
	require.NoError(t, newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "req123456"}))

	out := m.all()
	require.Len(t, out, 2)
	assert.Contains(t, out[0].text, "Processing REQ-123456")
	assert.Contains(t, out[1].text, "Client: Jane Doe")
	assert.Equal(t, int64(7), out[1].chatID)
	require.Equal(t, 1, f.count())
}

func TestHandleCaseAsDocument(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: found}
	require.NoError(t, newTestDispatcher(f, m, report.FormatDocument).Handle(context.Background(), Message{ChatID: 7, Text: "REQ-123456"}))

	out := m.all()
	require.Len(t, out, 2)
	assert.Equal(t, "Report_REQ-123456_20240305-103000.html", out[1].filename)
	assert.Contains(t, string(out[1].data), "Jane Doe")
}

func TestHandleFailureIsAReply(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: func(id caseid.ID) heat.Outcome {
		return heat.Failed(id, heat.Failure{Category: heat.CategoryNotFound, Attempts: 1})
	}}
	require.NoError(t, newTestDispatcher(f, m, report.FormatDocument).Handle(context.Background(), Message{ChatID: 7, Text: "REQ-123456"}))

	out := m.all()
	require.Len(t, out, 2)
	assert.Empty(t, out[1].filename)
	assert.Contains(t, out[1].text, "Verify the case number")
}

func TestHandleDeliveryErrorIsReturnedNotRetried(t *testing.T) {
	boom := errors.New("chat unreachable")
	m := &fakeMessenger{failOn: 2, failErr: boom}
	f := &fakeFetcher{outcome: found}

	err := newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "REQ-123456"})
	var derr *DeliveryError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "report", derr.Op)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, m.all(), 2)
}

func TestHandleLostAckStillFetches(t *testing.T) {
	m := &fakeMessenger{failOn: 1, failErr: errors.New("flaky")}
	f := &fakeFetcher{outcome: found}

	err := newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "REQ-123456"})
	require.Error(t, err)
	assert.Equal(t, 1, f.count())
	assert.Len(t, m.all(), 2)
}

func TestHandleRecoversFromFetcherPanic(t *testing.T) {
	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: func(caseid.ID) heat.Outcome { panic("boom") }}

	require.NoError(t, newTestDispatcher(f, m, report.FormatText).Handle(context.Background(), Message{ChatID: 7, Text: "REQ-123456"}))
	out := m.all()
	require.Len(t, out, 2)
	assert.Contains(t, out[1].text, "Internal error")
}

func TestHandleConcurrentMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := &fakeMessenger{}
	f := &fakeFetcher{outcome: found}
	d := newTestDispatcher(f, m, report.FormatText)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(chat int64) {
			defer wg.Done()
			_ = d.Handle(context.Background(), Message{ChatID: chat, Text: "REQ-123456"})
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 16, f.count())
	assert.Len(t, m.all(), 32)
}

package chat_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/skyegpt/skyegpt-web/internal/chat"
	"github.com/skyegpt/skyegpt-web/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type askCall struct {
	ctx            context.Context
	conversationID string
	query          string
}

type fakeStreamer struct {
	mu    sync.Mutex
	calls []askCall
	open  func(n int, ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeStreamer) AskStream(ctx context.Context, conversationID, query string) (io.ReadCloser, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, askCall{ctx: ctx, conversationID: conversationID, query: query})
	f.mu.Unlock()

	return f.open(n, ctx)
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStreamer) call(n int) askCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[n]
}

func bodyOf(s string) func(int, context.Context) (io.ReadCloser, error) {
	return func(int, context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(s)), nil
	}
}

type recordingPublisher struct {
	mu       sync.Mutex
	texts    map[string][]string
	removed  []string
	statuses []chat.Status
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{texts: make(map[string][]string)}
}

func (p *recordingPublisher) PublishMessage(msg models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts[msg.ID] = append(p.texts[msg.ID], msg.Text)
}

func (p *recordingPublisher) RemoveMessage(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removed = append(p.removed, id)
}

func (p *recordingPublisher) PublishStatus(st chat.Status) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, st)
}

func (p *recordingPublisher) textsOf(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts[id]...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newController(conv string, st chat.Streamer, pub chat.Publisher, opts ...chat.Option) *chat.Controller {
	opts = append([]chat.Option{chat.WithLogger(discardLogger())}, opts...)
	return chat.NewController(conv, st, pub, opts...)
}

func lastMessage(t *testing.T, c *chat.Controller) models.Message {
	t.Helper()
	msgs := c.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

func TestSendStreamsAnswer(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("data: Hi\ndata: {\"text\":\" there\"}\n")}
	pub := newRecordingPublisher()
	c := newController("conv-1", st, pub)

	botID, err := c.Send("  Hello ")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())

	msgs := c.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderUser, msgs[0].Sender)
	assert.Equal(t, "Hello", msgs[0].Text)
	assert.Equal(t, botID, msgs[1].ID)
	assert.Equal(t, "Hi there", msgs[1].Text)
	assert.False(t, msgs[1].Stopped)

	assert.False(t, c.Loading())
	assert.Equal(t, chat.StateIdle, c.State())

	require.Equal(t, 1, st.callCount())
	assert.Equal(t, "conv-1", st.call(0).conversationID)
	assert.Equal(t, chat.FormatQuery("Hello"), st.call(0).query)

	// Renders never go back to a shorter text within one send.
	texts := pub.textsOf(botID)
	require.NotEmpty(t, texts)
	for i := 1; i < len(texts); i++ {
		assert.True(t, strings.HasPrefix(texts[i], texts[i-1]), "render %q after %q", texts[i], texts[i-1])
	}
	assert.Equal(t, "Hi there", texts[len(texts)-1])
}

func TestSendSplitReads(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("data: h\xc3\xa9llo\r\ndata: {\"content\":\" w\xc3\xb6rld\"}\n")}
	c := newController("conv-1", st, nil, chat.WithReadSize(1))

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())
	assert.Equal(t, "héllo wörld", lastMessage(t, c).Text)
}

func TestSendRejectsBlankInput(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("")}
	c := newController("conv-1", st, nil)

	_, err := c.Send(" \n\t")
	require.ErrorIs(t, err, chat.ErrEmptyInput)
	assert.Empty(t, c.Messages())
	assert.Zero(t, st.callCount())
}

func TestSendEmptyStream(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("")}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeEmpty, c.Wait())

	msg := lastMessage(t, c)
	assert.Equal(t, chat.NoticeEmpty, msg.Text)
	assert.False(t, msg.Stopped)
}

func TestSendWhitespaceOnlyStreamIsEmpty(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("data: \ndata: {\"text\":\"  \"}\nevent: ping\n")}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeEmpty, c.Wait())
	assert.Equal(t, chat.NoticeEmpty, lastMessage(t, c).Text)
}

func TestSendDoneSentinelEndsStream(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("data: Hi\ndata: [DONE]\ndata: ignored\n")}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())
	assert.Equal(t, "Hi", lastMessage(t, c).Text)
}

func TestSendStatusRecords(t *testing.T) {
	pr, pw := io.Pipe()
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) { return pr, nil }}
	pub := newRecordingPublisher()
	c := newController("conv-1", st, pub)

	_, err := c.Send("Hello")
	require.NoError(t, err)

	_, err = pw.Write([]byte("data: {\"dynamic_loading_text\":[\"Searching docs\",\" \",\"Reading\"]}\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(c.Status().Texts) == 2
	}, time.Second, 5*time.Millisecond)

	status := c.Status()
	assert.True(t, status.Loading)
	assert.Equal(t, []string{"Searching docs", "Reading"}, status.Texts)

	_, err = pw.Write([]byte("data: done\n"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	assert.Equal(t, chat.OutcomeCompleted, c.Wait())
	assert.Equal(t, "done", lastMessage(t, c).Text)
	assert.Equal(t, chat.Status{}, c.Status())
}

func TestStopPreservesPartialContent(t *testing.T) {
	pr, pw := io.Pipe()
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) { return pr, nil }}
	c := newController("conv-1", st, nil)

	botID, err := c.Send("Hello")
	require.NoError(t, err)

	_, err = pw.Write([]byte("data: Hello\n"))
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		msg, _ := c.Message(botID)
		return msg.Text == "Hello"
	}, time.Second, 5*time.Millisecond)

	c.Stop()

	assert.Equal(t, chat.OutcomeCancelled, c.Wait())
	msg, ok := c.Message(botID)
	require.True(t, ok)
	assert.Equal(t, "Hello", msg.Text)
	assert.True(t, msg.Stopped)
	assert.False(t, c.Loading())

	// Stopping again is a no-op.
	c.Stop()
	msg, _ = c.Message(botID)
	assert.Equal(t, "Hello", msg.Text)
}

func TestStopBeforeContent(t *testing.T) {
	st := &fakeStreamer{open: func(_ int, ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return st.callCount() == 1 }, time.Second, 5*time.Millisecond)

	c.Stop()

	assert.Equal(t, chat.OutcomeCancelled, c.Wait())
	msg := lastMessage(t, c)
	assert.Equal(t, chat.NoticeCancelled, msg.Text)
	assert.True(t, msg.Stopped)
}

func TestStopWhenIdle(t *testing.T) {
	c := newController("conv-1", &fakeStreamer{open: bodyOf("")}, nil)

	c.Stop()

	assert.Equal(t, chat.OutcomeNone, c.Wait())
	assert.Empty(t, c.Messages())
}

func TestSendSupersedesInFlight(t *testing.T) {
	st := &fakeStreamer{}
	st.open = func(n int, ctx context.Context) (io.ReadCloser, error) {
		if n == 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		// The first send must already be cancelled when the second one opens its stream.
		first := st.call(0).ctx
		assert.ErrorIs(t, context.Cause(first), chat.ErrSuperseded)
		return io.NopCloser(strings.NewReader("data: second\n")), nil
	}
	c := newController("conv-1", st, nil)

	firstID, err := c.Send("one")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return st.callCount() == 1 }, time.Second, 5*time.Millisecond)

	secondID, err := c.Send("two")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())

	first, ok := c.Message(firstID)
	require.True(t, ok)
	assert.Equal(t, chat.NoticeCancelled, first.Text)
	assert.True(t, first.Stopped)

	second, ok := c.Message(secondID)
	require.True(t, ok)
	assert.Equal(t, "second", second.Text)
	assert.False(t, second.Stopped)

	assert.Len(t, c.Messages(), 4)
}

func TestSendWithoutConversation(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("data: Hi\n")}
	c := newController("", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)

	assert.Equal(t, chat.OutcomePrecondition, c.Wait())
	assert.Zero(t, st.callCount())

	msg := lastMessage(t, c)
	assert.Equal(t, chat.NoticeNoConversation, msg.Text)
	assert.True(t, msg.NoFeedback)
	assert.False(t, c.Loading())

	c.SetConversation("conv-2")
	_, err = c.Send("Hello again")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())
	assert.Equal(t, "conv-2", st.call(0).conversationID)
}

func TestSendRemovesWelcome(t *testing.T) {
	pub := newRecordingPublisher()
	welcome := models.NewWelcomeMessage(chat.WelcomeText(time.Now()))
	c := newController("conv-1", &fakeStreamer{open: bodyOf("data: Hi\n")}, pub, chat.WithMessages(welcome))

	_, err := c.Send("Hello")
	require.NoError(t, err)
	c.Wait()

	for _, m := range c.Messages() {
		assert.False(t, m.IsWelcome())
	}
	assert.Equal(t, []string{welcome.ID}, pub.removed)
}

func TestSendStreamError(t *testing.T) {
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) {
		return nil, errors.New("server error for streaming: 500 Internal Server Error - agent crashed")
	}}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeErrored, c.Wait())

	msg := lastMessage(t, c)
	assert.Equal(t, "Error: server error for streaming: 500 Internal Server Error - agent crashed", msg.Text)
	assert.False(t, msg.Stopped)
	assert.Equal(t, 1, st.callCount())
}

type failingReader struct {
	data string
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.data == "" {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func (r *failingReader) Close() error { return nil }

func TestSendReadErrorReplacesPartialContent(t *testing.T) {
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) {
		return &failingReader{data: "data: partial\n", err: errors.New("connection reset")}, nil
	}}
	c := newController("conv-1", st, nil)

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeErrored, c.Wait())
	assert.Equal(t, "Error: error reading response: connection reset", lastMessage(t, c).Text)
}

func TestSendRetries(t *testing.T) {
	st := &fakeStreamer{open: func(n int, _ context.Context) (io.ReadCloser, error) {
		if n == 0 {
			return nil, errors.New("bad gateway")
		}
		return io.NopCloser(strings.NewReader("data: recovered\n")), nil
	}}
	pub := newRecordingPublisher()
	c := newController("conv-1", st, pub, chat.WithRetry(chat.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}))

	botID, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeCompleted, c.Wait())
	assert.Equal(t, 2, st.callCount())
	assert.Equal(t, "recovered", lastMessage(t, c).Text)
	assert.Contains(t, pub.textsOf(botID), "Error: bad gateway Retrying...")
}

func TestSendRetriesExhausted(t *testing.T) {
	st := &fakeStreamer{open: bodyOf("")}
	c := newController("conv-1", st, nil, chat.WithRetry(chat.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}))

	_, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Equal(t, chat.OutcomeEmpty, c.Wait())
	assert.Equal(t, 3, st.callCount())
	assert.Equal(t, chat.NoticeEmpty, lastMessage(t, c).Text)
}

func TestStopDuringRetryWait(t *testing.T) {
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) {
		return nil, errors.New("bad gateway")
	}}
	c := newController("conv-1", st, nil, chat.WithRetry(chat.RetryPolicy{MaxRetries: 1, Backoff: time.Hour}))

	botID, err := c.Send("Hello")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		msg, _ := c.Message(botID)
		return strings.HasSuffix(msg.Text, "Retrying...")
	}, time.Second, 5*time.Millisecond)

	c.Stop()

	assert.Equal(t, chat.OutcomeCancelled, c.Wait())
	msg, _ := c.Message(botID)
	assert.Equal(t, chat.NoticeCancelled, msg.Text)
	assert.True(t, msg.Stopped)
	assert.Equal(t, 1, st.callCount())
}

func TestIdleTimeout(t *testing.T) {
	pr, _ := io.Pipe()
	st := &fakeStreamer{open: func(int, context.Context) (io.ReadCloser, error) { return pr, nil }}
	c := newController("conv-1", st, nil,
		chat.WithIdleTimeout(20*time.Millisecond),
		chat.WithRetry(chat.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}))

	_, err := c.Send("Hello")
	require.NoError(t, err)

	assert.Equal(t, chat.OutcomeErrored, c.Wait())
	assert.Equal(t, chat.ErrorNotice(chat.ErrIdleTimeout), lastMessage(t, c).Text)
	assert.Equal(t, 1, st.callCount())
}

func TestCloseRejectsSends(t *testing.T) {
	c := newController("conv-1", &fakeStreamer{open: bodyOf("data: Hi\n")}, nil)

	c.Close()

	_, err := c.Send("Hello")
	require.ErrorIs(t, err, chat.ErrClosed)
}

// stallingPublisher blocks while publishing the first stopped message, holding a superseded send in its
// finalization.
type stallingPublisher struct {
	recordingPublisher
	once    sync.Once
	stalled chan struct{}
	release chan struct{}
}

func (p *stallingPublisher) PublishMessage(msg models.Message) {
	if msg.Stopped {
		p.once.Do(func() {
			close(p.stalled)
			<-p.release
		})
	}
	p.recordingPublisher.PublishMessage(msg)
}

func TestCloseDuringSupersedingSend(t *testing.T) {
	st := &fakeStreamer{open: func(_ int, ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	pub := &stallingPublisher{
		recordingPublisher: recordingPublisher{texts: make(map[string][]string)},
		stalled:            make(chan struct{}),
		release:            make(chan struct{}),
	}
	c := newController("conv-1", st, pub)

	_, err := c.Send("one")
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return st.callCount() == 1 }, time.Second, 5*time.Millisecond)

	errs := make(chan error, 1)
	go func() {
		_, err := c.Send("two")
		errs <- err
	}()

	<-pub.stalled
	c.Close()
	close(pub.release)

	require.ErrorIs(t, <-errs, chat.ErrClosed)
	assert.Empty(t, c.InFlightID())
	assert.False(t, c.Loading())
	assert.Equal(t, 1, st.callCount())
	assert.Len(t, c.Messages(), 2)
}

func TestSendIfIdle(t *testing.T) {
	st := &fakeStreamer{open: func(_ int, ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newController("conv-1", st, nil)

	firstID, err := c.SendIfIdle("one")
	require.NoError(t, err)

	_, err = c.SendIfIdle("two")
	require.ErrorIs(t, err, chat.ErrBusy)
	assert.Equal(t, firstID, c.InFlightID())
	assert.Len(t, c.Messages(), 2)

	c.Stop()

	_, err = c.SendIfIdle("three")
	require.NoError(t, err)
	c.Close()
}

func TestSendIfIdleConcurrent(t *testing.T) {
	st := &fakeStreamer{open: func(_ int, ctx context.Context) (io.ReadCloser, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c := newController("conv-1", st, nil)
	defer c.Close()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.SendIfIdle("hello")
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}()
	}
	wg.Wait()

	started := 0
	for _, err := range errs {
		if err == nil {
			started++
			continue
		}
		assert.ErrorIs(t, err, chat.ErrBusy)
	}
	assert.Equal(t, 1, started)
}

package protoframe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seandlg/protoframe/internal/core/network"
)

var testProtocol = Protocol{Namespace: "test"}

func newPipe(t *testing.T) (*network.PubSubLink, *network.PubSubLink) {
	t.Helper()
	left, right, err := network.NewMemoryPipe(t.Name(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = left.Close()
		_ = right.Close()
	})
	return left, right
}

func newConnector(t *testing.T, link network.Transport, opts ...Option) *Pubsub {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	p, err := New(testProtocol, link, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Destroy)
	return p
}

type recordingObserver struct {
	mu       sync.Mutex
	sent     map[string]int
	handled  map[string]int
	asks     []error
	failures int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{sent: map[string]int{}, handled: map[string]int{}}
}

func (o *recordingObserver) RecordSent(ns string, action Action, msgType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[fmt.Sprintf("%s#%s#%s", ns, action, msgType)]++
}

func (o *recordingObserver) RecordHandled(ns string, action Action, msgType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handled[fmt.Sprintf("%s#%s#%s", ns, action, msgType)]++
}

func (o *recordingObserver) RecordAsk(_, _ string, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.asks = append(o.asks, err)
}

func (o *recordingObserver) RecordHandlerFailure(string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

func (o *recordingObserver) handlerFailures() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

func TestTellDelivery(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	receiver := newConnector(t, right)

	got := make(chan setBody, 1)
	require.NoError(t, receiver.HandleTell("set", func(body Payload) error {
		var b setBody
		if err := body.Decode(&b); err != nil {
			return err
		}
		got <- b
		return nil
	}))

	require.NoError(t, sender.Tell("set", setBody{Key: "key0", Value: "value"}))

	select {
	case b := <-got:
		assert.Equal(t, setBody{Key: "key0", Value: "value"}, b)
	case <-time.After(2 * time.Second):
		t.Fatal("tell not delivered")
	}
}

func TestTellWithoutListenerSucceeds(t *testing.T) {
	left, _ := newPipe(t)
	sender := newConnector(t, left)
	require.NoError(t, sender.Tell("nobody", struct{}{}))
}

func TestMultipleTellHandlersAllFire(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	receiver := newConnector(t, right)

	var wg sync.WaitGroup
	wg.Add(2)
	for i := 0; i < 2; i++ {
		require.NoError(t, receiver.HandleTell("set", func(Payload) error {
			wg.Done()
			return nil
		}))
	}
	require.NoError(t, sender.Tell("set", setBody{}))
	waitGroup(t, &wg, 2*time.Second)
}

func TestNoCrossTalk(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	other, err := New(Protocol{Namespace: "other"}, right, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(other.Destroy)
	receiver := newConnector(t, right)

	wrong := make(chan string, 4)
	delivered := make(chan struct{}, 1)
	require.NoError(t, other.HandleTell("set", func(Payload) error { wrong <- "namespace"; return nil }))
	require.NoError(t, receiver.HandleTell("delete", func(Payload) error { wrong <- "type"; return nil }))
	require.NoError(t, receiver.HandleAsk("set", func(context.Context, Payload) (any, error) {
		wrong <- "action"
		return nil, nil
	}))
	require.NoError(t, receiver.HandleTell("set", func(Payload) error { delivered <- struct{}{}; return nil }))

	require.NoError(t, sender.Tell("set", setBody{}))

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("tell not delivered")
	}
	select {
	case which := <-wrong:
		t.Fatalf("handler with mismatched %s fired", which)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnrelatedTrafficIgnored(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	receiver := newConnector(t, right)

	got := make(chan struct{}, 1)
	require.NoError(t, receiver.HandleTell("set", func(Payload) error { got <- struct{}{}; return nil }))

	require.NoError(t, left.Send([]byte("garbage")))
	require.NoError(t, left.Send([]byte(`{"tag":"test#tell"}`)))
	require.NoError(t, left.Send([]byte(`{"tag":"test#tell#set","body":null}`)))
	require.NoError(t, sender.Tell("set", setBody{}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("tell not delivered after unrelated traffic")
	}
	select {
	case <-got:
		t.Fatal("malformed record reached the handler")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAskRoundTrip(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	answerer := newConnector(t, right)

	require.NoError(t, answerer.HandleAsk("upper", func(_ context.Context, body Payload) (any, error) {
		var in setBody
		if err := body.Decode(&in); err != nil {
			return nil, err
		}
		return setBody{Key: in.Key, Value: in.Value + "!"}, nil
	}))

	resp, err := asker.Ask(context.Background(), "upper", setBody{Key: "k", Value: "v"}, time.Second)
	require.NoError(t, err)

	var out setBody
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, setBody{Key: "k", Value: "v!"}, out)
}

func TestAskTimeout(t *testing.T) {
	left, _ := newPipe(t)
	obs := newRecordingObserver()
	asker := newConnector(t, left, WithObserver(obs))

	start := time.Now()
	_, err := asker.Ask(context.Background(), "get", setBody{}, 50*time.Millisecond)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "get", terr.Type)
	assert.Equal(t, "test", terr.Namespace)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, time.Second)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.asks, 1)
	assert.ErrorIs(t, obs.asks[0], ErrTimeout)
	assert.Equal(t, 1, obs.sent["test#ask#get"])
}

func TestAskTimeoutRemovesSubscription(t *testing.T) {
	left, _ := newPipe(t)
	asker := newConnector(t, left)
	before := left.Len()

	_, err := asker.Ask(context.Background(), "get", setBody{}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, before, left.Len())
}

func TestAskDefaultTimeoutOption(t *testing.T) {
	left, _ := newPipe(t)
	asker := newConnector(t, left, WithAskTimeout(30*time.Millisecond))

	_, err := asker.Ask(context.Background(), "get", setBody{}, 0)
	var terr *TimeoutError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, 30*time.Millisecond, terr.Timeout)
}

func TestAskContextCancel(t *testing.T) {
	left, _ := newPipe(t)
	asker := newConnector(t, left)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := asker.Ask(ctx, "get", setBody{}, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAsksOfSameType(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	answerer := newConnector(t, right)

	require.NoError(t, answerer.HandleAsk("double", func(_ context.Context, body Payload) (any, error) {
		var n int
		if err := body.Decode(&n); err != nil {
			return nil, err
		}
		// Later requests answer first.
		time.Sleep(time.Duration(20-n) * time.Millisecond)
		return n * 2, nil
	}))

	const calls = 20
	var wg sync.WaitGroup
	errs := make(chan error, calls)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := asker.Ask(context.Background(), "double", n, 2*time.Second)
			if err != nil {
				errs <- err
				return
			}
			var got int
			if err := resp.Decode(&got); err != nil {
				errs <- err
				return
			}
			if got != n*2 {
				errs <- fmt.Errorf("ask %d got %d", n, got)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestAskHandlerFailureLeavesAskerToTimeout(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	obs := newRecordingObserver()
	answerer := newConnector(t, right, WithObserver(obs))

	require.NoError(t, answerer.HandleAsk("get", func(context.Context, Payload) (any, error) {
		return nil, errors.New("store offline")
	}))

	_, err := asker.Ask(context.Background(), "get", setBody{}, 100*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Eventually(t, func() bool { return obs.handlerFailures() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAskHandlerNilResponse(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	answerer := newConnector(t, right)

	require.NoError(t, answerer.HandleAsk("noop", func(context.Context, Payload) (any, error) {
		return nil, nil
	}))
	resp, err := asker.Ask(context.Background(), "noop", struct{}{}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(resp.Raw()))
}

func TestDestroyIsIdempotent(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	receiver, err := New(testProtocol, right, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	require.NoError(t, receiver.HandleTell("set", func(Payload) error { fired <- struct{}{}; return nil }))
	require.Equal(t, 2, right.Len())

	receiver.Destroy()
	receiver.Destroy()
	assert.Equal(t, 0, right.Len())

	require.NoError(t, sender.Tell("set", setBody{}))
	select {
	case <-fired:
		t.Fatal("handler fired after Destroy")
	case <-time.After(50 * time.Millisecond):
	}

	assert.ErrorIs(t, receiver.HandleTell("set", func(Payload) error { return nil }), ErrDestroyed)
	assert.ErrorIs(t, sender.Ping(context.Background(), 50*time.Millisecond), ErrTimeout)

	// The transport itself is untouched.
	require.NoError(t, right.Send([]byte("still open")))
}

func TestPingBeforeAndAfterPeer(t *testing.T) {
	left, right := newPipe(t)
	pinger := newConnector(t, left)

	err := pinger.Ping(context.Background(), 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	newConnector(t, right)
	require.NoError(t, pinger.Ping(context.Background(), time.Second))
}

func TestPingIgnoresOtherProtocols(t *testing.T) {
	left, right := newPipe(t)
	pinger := newConnector(t, left)
	other, err := New(Protocol{Namespace: "other"}, right, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(other.Destroy)

	assert.ErrorIs(t, pinger.Ping(context.Background(), 50*time.Millisecond), ErrTimeout)
}

func TestConnectWaitsForLatePeer(t *testing.T) {
	left, right := newPipe(t)
	pinger := newConnector(t, left)

	late := make(chan *Pubsub, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		p, err := New(testProtocol, right, WithLogger(zerolog.Nop()))
		if err == nil {
			late <- p
		}
	}()

	err := pinger.Connect(context.Background(), ConnectOptions{Retries: 50, Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	(<-late).Destroy()
}

func TestConnectExhaustsRetries(t *testing.T) {
	left, _ := newPipe(t)
	pinger := newConnector(t, left)

	err := pinger.Connect(context.Background(), ConnectOptions{Retries: 3, Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrConnectionFailed)
	require.ErrorIs(t, err, ErrTimeout)

	var cerr *ConnectionFailedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.Retries)
	assert.Equal(t, "test", cerr.Namespace)
	assert.GreaterOrEqual(t, cerr.Elapsed, 60*time.Millisecond)
}

func TestConnectStopsOnContext(t *testing.T) {
	left, _ := newPipe(t)
	pinger := newConnector(t, left)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := pinger.Connect(ctx, ConnectOptions{
		Retries: 100,
		Timeout: 20 * time.Millisecond,
		Backoff: BackoffConfig{InitialDelay: 10 * time.Millisecond},
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPublisherAndSubscriber(t *testing.T) {
	left, right := newPipe(t)
	pub, err := NewPublisher(testProtocol, left, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	sub, err := NewSubscriber(testProtocol, right, WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(sub.Destroy)

	assert.Equal(t, 0, left.Len())
	assert.Equal(t, 0, right.Len())

	got := make(chan struct{}, 1)
	require.NoError(t, sub.HandleTell("set", func(Payload) error { got <- struct{}{}; return nil }))
	require.NoError(t, pub.Tell("set", setBody{}))

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("tell not delivered")
	}
}

func TestNewRejectsInvalidProtocol(t *testing.T) {
	left, _ := newPipe(t)
	_, err := New(Protocol{}, left)
	assert.ErrorIs(t, err, ErrInvalidNamespace)
}

func TestCBORConnectors(t *testing.T) {
	cb, err := CBOR()
	require.NoError(t, err)
	left, right := newPipe(t)
	asker := newConnector(t, left, WithCodec(cb))
	answerer := newConnector(t, right, WithCodec(cb))

	require.NoError(t, answerer.HandleAsk("echo", func(_ context.Context, body Payload) (any, error) {
		var in setBody
		if err := body.Decode(&in); err != nil {
			return nil, err
		}
		return in, nil
	}))
	require.NoError(t, asker.Ping(context.Background(), time.Second))

	resp, err := asker.Ask(context.Background(), "echo", setBody{Key: "a", Value: "b"}, time.Second)
	require.NoError(t, err)
	var out setBody
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, setBody{Key: "a", Value: "b"}, out)
}

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for handlers")
	}
}

func TestTellHandlerCanAsk(t *testing.T) {
	left, right := newPipe(t)
	a := newConnector(t, left)
	b := newConnector(t, right)

	require.NoError(t, a.HandleAsk("double", func(_ context.Context, body Payload) (any, error) {
		var n int
		if err := body.Decode(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	}))

	results := make(chan error, 1)
	answers := make(chan int, 1)
	require.NoError(t, b.HandleTell("start", func(Payload) error {
		resp, err := b.Ask(context.Background(), "double", 21, time.Second)
		if err != nil {
			results <- err
			return nil
		}
		var n int
		if err := resp.Decode(&n); err != nil {
			results <- err
			return nil
		}
		answers <- n
		return nil
	}))

	require.NoError(t, a.Tell("start", struct{}{}))
	select {
	case n := <-answers:
		assert.Equal(t, 42, n)
	case err := <-results:
		t.Fatalf("ask from tell handler: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("tell handler never finished")
	}
}

func TestTellHandlersKeepArrivalOrder(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	receiver := newConnector(t, right)

	const n = 50
	var (
		mu  sync.Mutex
		got []int
	)
	done := make(chan struct{})
	require.NoError(t, receiver.HandleTell("seq", func(body Payload) error {
		var i int
		if err := body.Decode(&i); err != nil {
			return err
		}
		if i == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		defer mu.Unlock()
		got = append(got, i)
		if len(got) == n {
			close(done)
		}
		return nil
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, sender.Tell("seq", i))
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not every tell was handled")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestAskSeesEarlierTell(t *testing.T) {
	left, right := newPipe(t)
	client := newConnector(t, left)
	server := newConnector(t, right)

	var (
		mu    sync.Mutex
		value string
	)
	require.NoError(t, server.HandleTell("set", func(body Payload) error {
		var b setBody
		if err := body.Decode(&b); err != nil {
			return err
		}
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		value = b.Value
		return nil
	}))
	require.NoError(t, server.HandleAsk("get", func(context.Context, Payload) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		return setBody{Value: value}, nil
	}))

	require.NoError(t, client.Tell("set", setBody{Key: "k", Value: "v1"}))
	resp, err := client.Ask(context.Background(), "get", setBody{Key: "k"}, time.Second)
	require.NoError(t, err)
	var out setBody
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "v1", out.Value)
}

func TestTellHandlerFailureIsCounted(t *testing.T) {
	left, right := newPipe(t)
	sender := newConnector(t, left)
	obs := newRecordingObserver()
	receiver := newConnector(t, right, WithObserver(obs))

	require.NoError(t, receiver.HandleTell("set", func(Payload) error {
		return errors.New("store offline")
	}))
	require.NoError(t, sender.Tell("set", setBody{}))
	assert.Eventually(t, func() bool { return obs.handlerFailures() == 1 }, time.Second, 10*time.Millisecond)
}

func TestDestroyKeepsPendingAsk(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	answerer := newConnector(t, right)

	require.NoError(t, answerer.HandleAsk("slow", func(context.Context, Payload) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "done", nil
	}))

	type result struct {
		resp Payload
		err  error
	}
	out := make(chan result, 1)
	go func() {
		resp, err := asker.Ask(context.Background(), "slow", struct{}{}, time.Second)
		out <- result{resp, err}
	}()

	time.Sleep(10 * time.Millisecond)
	asker.Destroy()

	select {
	case r := <-out:
		require.NoError(t, r.err)
		var s string
		require.NoError(t, r.resp.Decode(&s))
		assert.Equal(t, "done", s)
	case <-time.After(2 * time.Second):
		t.Fatal("ask never resolved")
	}
}

func TestLateResponseIsIgnored(t *testing.T) {
	left, right := newPipe(t)
	asker := newConnector(t, left)
	answerer := newConnector(t, right)

	// The first request is answered after its asker gave up; the second is
	// still waiting when that stale response arrives.
	require.NoError(t, answerer.HandleAsk("echo", func(_ context.Context, body Payload) (any, error) {
		var n int
		if err := body.Decode(&n); err != nil {
			return nil, err
		}
		if n == 1 {
			time.Sleep(150 * time.Millisecond)
		} else {
			time.Sleep(250 * time.Millisecond)
		}
		return n, nil
	}))

	_, err := asker.Ask(context.Background(), "echo", 1, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	resp, err := asker.Ask(context.Background(), "echo", 2, time.Second)
	require.NoError(t, err)
	var n int
	require.NoError(t, resp.Decode(&n))
	assert.Equal(t, 2, n)
}

func TestSendRejectsMissingBody(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"json", nil},
		{"cbor", []Option{WithCodec(mustCBOR(t))}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			left, _ := newPipe(t)
			c := newConnector(t, left, tc.opts...)

			assert.ErrorIs(t, c.Tell("set", nil), ErrMissingBody)
			var m map[string]string
			assert.ErrorIs(t, c.Tell("set", m), ErrMissingBody)
			_, err := c.Ask(context.Background(), "get", nil, 50*time.Millisecond)
			assert.ErrorIs(t, err, ErrMissingBody)
		})
	}
}

func mustCBOR(t *testing.T) Codec {
	t.Helper()
	cb, err := CBOR()
	require.NoError(t, err)
	return cb
}

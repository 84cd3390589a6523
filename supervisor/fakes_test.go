package supervisor

import (
	"context"
	"sync"
	"time"
)

// Scripted test doubles for the transport contract. They are deliberately
// small: a dialer that replays outcomes, transports and channels whose close
// events the tests fire by hand, and recorders for the advisory signals.

type dialOutcome struct {
	transport *fakeTransport
	err       error
}

type fakeDialer struct {
	mu     sync.Mutex
	script []dialOutcome
	urls   []string
	dialed []*fakeTransport
}

func (d *fakeDialer) enqueue(outcomes ...dialOutcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, outcomes...)
}

func (d *fakeDialer) Dial(url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)

	if len(d.script) > 0 {
		out := d.script[0]
		d.script = d.script[1:]
		if out.err != nil {
			return nil, out.err
		}
		d.dialed = append(d.dialed, out.transport)
		return out.transport, nil
	}

	t := newFakeTransport()
	d.dialed = append(d.dialed, t)
	return t, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) lastTransport() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialed) == 0 {
		return nil
	}
	return d.dialed[len(d.dialed)-1]
}

type fakeTransport struct {
	mu       sync.Mutex
	closeRcv chan *CloseError
	errRcv   chan error
	closed   bool
	openErr  error
	channels []*fakeChannel

	// Error injection for channels opened on this transport.
	chanQosErr     error
	chanConsumeErr error
	chanCheckErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (t *fakeTransport) OpenChannel() (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.openErr != nil {
		return nil, t.openErr
	}
	ch := &fakeChannel{
		qosErr:     t.chanQosErr,
		consumeErr: t.chanConsumeErr,
		checkErr:   t.chanCheckErr,
	}
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *fakeTransport) NotifyClose(receiver chan *CloseError) chan *CloseError {
	t.mu.Lock()
	t.closeRcv = receiver
	alreadyClosed := t.closed
	t.mu.Unlock()
	if alreadyClosed {
		close(receiver)
	}
	return receiver
}

func (t *fakeTransport) NotifyError(receiver chan error) chan error {
	t.mu.Lock()
	t.errRcv = receiver
	t.mu.Unlock()
	return receiver
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	receiver := t.closeRcv
	t.mu.Unlock()
	if receiver != nil {
		close(receiver)
	}
	return nil
}

// emitClose simulates a broker-initiated close. It waits for the watch
// goroutine to register its receiver so no event is lost.
func (t *fakeTransport) emitClose(reason *CloseError) {
	t.waitForCloseReceiver()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	receiver := t.closeRcv
	t.mu.Unlock()

	if receiver != nil {
		if reason != nil {
			receiver <- reason
		}
		close(receiver)
	}
}

// emitError simulates an out-of-band transport error.
func (t *fakeTransport) emitError(err error) {
	for i := 0; i < 200; i++ {
		t.mu.Lock()
		receiver := t.errRcv
		t.mu.Unlock()
		if receiver != nil {
			receiver <- err
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (t *fakeTransport) waitForCloseReceiver() {
	for i := 0; i < 200; i++ {
		t.mu.Lock()
		registered := t.closeRcv != nil
		t.mu.Unlock()
		if registered {
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) openChannels() []*fakeChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*fakeChannel, len(t.channels))
	copy(out, t.channels)
	return out
}

type consumeCall struct {
	queue   string
	handler MessageHandler
}

type fakeChannel struct {
	mu         sync.Mutex
	prefetch   int
	qosErr     error
	consumeErr error
	checkErr   error
	consumes   []consumeCall
	checked    []string
	closeRcv   chan *CloseError
	closed     bool
}

func (c *fakeChannel) Qos(prefetchCount int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.qosErr != nil {
		return c.qosErr
	}
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return c.consumeErr
	}
	c.consumes = append(c.consumes, consumeCall{queue: queue, handler: handler})
	return nil
}

func (c *fakeChannel) CheckExchange(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checked = append(c.checked, name)
	return c.checkErr
}

func (c *fakeChannel) NotifyClose(receiver chan *CloseError) chan *CloseError {
	c.mu.Lock()
	c.closeRcv = receiver
	alreadyClosed := c.closed
	c.mu.Unlock()
	if alreadyClosed {
		close(receiver)
	}
	return receiver
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	receiver := c.closeRcv
	c.mu.Unlock()
	if receiver != nil {
		close(receiver)
	}
	return nil
}

func (c *fakeChannel) emitClose(reason *CloseError) {
	for i := 0; i < 200; i++ {
		c.mu.Lock()
		registered := c.closeRcv != nil
		c.mu.Unlock()
		if registered {
			break
		}
		time.Sleep(time.Millisecond)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	receiver := c.closeRcv
	c.mu.Unlock()

	if receiver != nil {
		if reason != nil {
			receiver <- reason
		}
		close(receiver)
	}
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) consumedQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.consumes))
	for i, call := range c.consumes {
		out[i] = call.queue
	}
	return out
}

func (c *fakeChannel) prefetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefetch
}

type fakeDelivery struct {
	mu      sync.Mutex
	body    []byte
	acked   bool
	nacked  bool
	requeue bool
}

func (d *fakeDelivery) Body() []byte {
	return d.body
}

func (d *fakeDelivery) Headers() map[string]interface{} {
	return nil
}

func (d *fakeDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	d.requeue = requeue
	return nil
}

type stateRecorder struct {
	mu           sync.Mutex
	connected    []string
	reconnecting []int
	failures     []error
}

func (r *stateRecorder) OnConnected(guid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, guid)
}

func (r *stateRecorder) OnReconnecting(guid string, attempt int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnecting = append(r.reconnecting, attempt)
}

func (r *stateRecorder) OnFailure(guid string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *stateRecorder) failureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.failures)
}

func (r *stateRecorder) lastFailure() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) == 0 {
		return nil
	}
	return r.failures[len(r.failures)-1]
}

func (r *stateRecorder) connectedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.connected)
}

type changeRecorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *changeRecorder) OnPoolChange(ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *changeRecorder) all() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChangeEvent, len(r.events))
	copy(out, r.events)
	return out
}

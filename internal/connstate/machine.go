package connstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1ureka/wifilink/internal/util"
)

// ErrInvalidSSID is returned by Connect when no SSID is supplied.
var ErrInvalidSSID = errors.New("ssid must not be empty")

// Connector performs the actual association and session setup. Connect must
// return once the link is usable (associated, addressed and the uplink session
// established) or the attempt has failed. It must give up when ctx is done.
type Connector interface {
	Connect(ctx context.Context, ssid, password string) error
	Disconnect() error
}

// TransitionFunc observes a state change. It runs while the machine holds its
// transition lock, so it must not call back into the Machine.
type TransitionFunc func(from, to State)

// Machine drives a Connector through the connection states. State reads are
// lock-free; transitions are serialised.
type Machine struct {
	connector Connector
	policy    RetryPolicy

	state    atomic.Int32
	attempts atomic.Int64

	mu        sync.Mutex
	ssid      string
	password  string
	retries   int
	gen       uint64 // bumped whenever in-flight attempts or timers become stale
	cancel    context.CancelFunc
	timer     *time.Timer
	observers []TransitionFunc
}

// New returns a machine in the Disconnected state.
func New(connector Connector, policy RetryPolicy) *Machine {
	m := &Machine{connector: connector, policy: policy}
	m.state.Store(int32(Disconnected))
	return m
}

// State returns the current state. Safe for concurrent use.
func (m *Machine) State() State { return State(m.state.Load()) }

// Retries returns the retry counter of the current outage.
func (m *Machine) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Attempts returns the total number of automatic reconnection attempts.
func (m *Machine) Attempts() int64 { return m.attempts.Load() }

// OnTransition registers fn to be called on every state change, in order.
func (m *Machine) OnTransition(fn TransitionFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Connect starts connecting to ssid. It returns immediately; progress is
// reported through state transitions. From Failed or Retrying it resets the
// retry counter and attempts at once.
func (m *Machine) Connect(ssid, password string) error {
	if ssid == "" {
		return ErrInvalidSSID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	same := ssid == m.ssid && password == m.password
	cur := m.State()
	if same && (cur == Connecting || cur == Connected) {
		return nil
	}

	m.invalidate()
	m.ssid, m.password = ssid, password
	m.retries = 0
	m.setState(Connecting)
	m.startAttempt()
	return nil
}

// Disconnect cancels any attempt or pending retry, moves to Disconnected and
// tears the link down.
func (m *Machine) Disconnect() error {
	m.mu.Lock()
	m.invalidate()
	m.retries = 0
	m.setState(Disconnected)
	m.mu.Unlock()

	if err := m.connector.Disconnect(); err != nil {
		return fmt.Errorf("disconnect: %w", err)
	}
	return nil
}

// LinkDown reports an asynchronous loss of the link. It only has an effect
// while Connected.
func (m *Machine) LinkDown(err error) {
	m.linkLost("link down", err)
}

// TransportFailure reports a send fault on the uplink. It only has an effect
// while Connected.
func (m *Machine) TransportFailure(err error) {
	m.linkLost("transport failure", err)
}

func (m *Machine) linkLost(reason string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Connected {
		return
	}
	util.LogWarning("%s on %q: %v", reason, m.ssid, err)

	m.invalidate()
	m.retries = 0
	m.setState(Retrying)
	m.scheduleRetry()
}

// startAttempt runs one Connect on its own goroutine. Must hold mu.
func (m *Machine) startAttempt() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	gen, ssid, password := m.gen, m.ssid, m.password

	go func() {
		err := m.connector.Connect(ctx, ssid, password)
		cancel()
		m.attemptDone(gen, err)
	}()
}

func (m *Machine) attemptDone(gen uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.State() != Connecting {
		return
	}
	m.cancel = nil

	if err == nil {
		m.retries = 0
		m.setState(Connected)
		return
	}

	util.LogWarning("failed to connect to %q: %v", m.ssid, err)
	m.setState(Retrying)
	m.scheduleRetry()
}

// scheduleRetry arms the backoff timer or gives up. Must hold mu in Retrying.
func (m *Machine) scheduleRetry() {
	if m.retries >= m.policy.MaxRetries {
		m.setState(Failed)
		return
	}

	m.retries++
	delay := m.policy.Delay(m.retries)
	gen := m.gen

	util.LogInfo("reconnecting to %q in %v (retry %d/%d)", m.ssid, delay, m.retries, m.policy.MaxRetries)
	m.timer = time.AfterFunc(delay, func() { m.retryDue(gen) })
}

func (m *Machine) retryDue(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.State() != Retrying {
		return
	}
	m.timer = nil
	m.attempts.Add(1)
	m.setState(Connecting)
	m.startAttempt()
}

// invalidate makes every in-flight attempt and pending timer stale. Must hold mu.
func (m *Machine) invalidate() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// setState records the new state and notifies observers. Must hold mu.
func (m *Machine) setState(to State) {
	from := m.State()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("connstate: illegal transition %s -> %s", from, to))
	}

	m.state.Store(int32(to))
	util.LogDebug("connection state %s -> %s", from, to)

	for _, fn := range m.observers {
		fn(from, to)
	}
}

// Package wifi implements the wireless side of the bridge: station
// association plus the uplink session carried over it.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/1ureka/wifilink/internal/link"
	"github.com/1ureka/wifilink/internal/transport"
	"github.com/1ureka/wifilink/internal/util"
)

// ErrInvalidSSID is returned by Connect when no SSID is supplied.
var ErrInvalidSSID = errors.New("ssid must not be empty")

const readBufferSize = 4096

// Adapter associates with an access point, opens one uplink session over it
// and exposes the session as a link.Adapter. Received data is delivered in
// arbitrary chunks; frame boundaries are restored by the codec above it.
type Adapter struct {
	station Station
	dialer  transport.Dialer

	// recvMu orders data delivery with session changes: once a session has
	// been replaced, none of its bytes reach onRecv.
	recvMu sync.Mutex

	mu      sync.Mutex
	session transport.Session
	ssid    string

	cbMu    sync.RWMutex
	onRecv  link.ReceiveFunc
	onDown  func(error)
	onStart func()
}

var _ link.Adapter = (*Adapter)(nil)

// New returns a disconnected adapter.
func New(station Station, dialer transport.Dialer) *Adapter {
	return &Adapter{station: station, dialer: dialer}
}

// Connect associates with ssid (an empty password means an open network) and
// opens the uplink session. Any previous session is closed first. If ctx is
// cancelled before the session is installed, the session is discarded.
func (a *Adapter) Connect(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return ErrInvalidSSID
	}
	a.closeSession()

	if err := a.station.Associate(ctx, ssid, password); err != nil {
		return fmt.Errorf("associate with %q: %w", ssid, err)
	}

	s, err := a.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("open uplink session: %w", err)
	}

	a.recvMu.Lock()
	a.mu.Lock()
	if err := ctx.Err(); err != nil {
		a.mu.Unlock()
		a.recvMu.Unlock()
		s.Close()
		return err
	}
	a.session = s
	a.ssid = ssid
	a.mu.Unlock()

	a.cbMu.RLock()
	start := a.onStart
	a.cbMu.RUnlock()
	if start != nil {
		start()
	}
	a.recvMu.Unlock()

	util.LogSuccess("uplink session %s established over %q", transport.ShortID(s.ID()), ssid)
	go a.readLoop(s)
	return nil
}

// Disconnect closes the uplink session and leaves the network. It does not
// raise a link-down event.
func (a *Adapter) Disconnect() error {
	a.closeSession()
	if err := a.station.Disassociate(); err != nil {
		return fmt.Errorf("disassociate: %w", err)
	}
	return nil
}

// IsConnected reports whether an uplink session is established.
func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil
}

// IsReady is IsConnected: the adapter can send only over a live session.
func (a *Adapter) IsReady() bool { return a.IsConnected() }

// OnReceive registers the callback receiving uplink data.
func (a *Adapter) OnReceive(fn link.ReceiveFunc) {
	a.cbMu.Lock()
	a.onRecv = fn
	a.cbMu.Unlock()
}

// OnLinkDown registers the callback invoked when an established session is
// lost. It is not invoked for sessions closed by Connect or Disconnect.
func (a *Adapter) OnLinkDown(fn func(err error)) {
	a.cbMu.Lock()
	a.onDown = fn
	a.cbMu.Unlock()
}

// OnSessionStart registers a callback invoked when a new session is installed,
// before any of its data is delivered.
func (a *Adapter) OnSessionStart(fn func()) {
	a.cbMu.Lock()
	a.onStart = fn
	a.cbMu.Unlock()
}

// Send writes data to the uplink session. A failure other than ErrBusy closes
// the session without a link-down event; the caller reports it.
func (a *Adapter) Send(data []byte) error {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()

	if s == nil {
		return fmt.Errorf("wifi: %w: %w", link.ErrFail, link.ErrNotReady)
	}

	_, err := s.Write(data)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrBusy):
		return fmt.Errorf("wifi: %w: %v", link.ErrBusy, err)
	default:
		a.dropSession(s)
		return fmt.Errorf("wifi: %w: %v", link.ErrFail, err)
	}
}

// dropSession closes s if it is still the current session.
func (a *Adapter) dropSession(s transport.Session) {
	a.mu.Lock()
	current := a.session == s
	if current {
		a.session = nil
	}
	a.mu.Unlock()

	if current {
		s.Close()
		util.Logf("uplink session %s closed after a failed send", transport.ShortID(s.ID()))
	}
}

// deliver hands chunk to the receive callback if s is still current.
func (a *Adapter) deliver(s transport.Session, chunk []byte) {
	a.recvMu.Lock()
	defer a.recvMu.Unlock()

	a.mu.Lock()
	current := a.session == s
	a.mu.Unlock()
	if !current {
		return
	}

	a.cbMu.RLock()
	fn := a.onRecv
	a.cbMu.RUnlock()
	if fn != nil {
		fn(chunk)
	}
}

func (a *Adapter) closeSession() {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s != nil {
		s.Close()
		util.Logf("uplink session %s closed", transport.ShortID(s.ID()))
	}
}

func (a *Adapter) readLoop(s transport.Session) {
	buf := make([]byte, readBufferSize)

	for {
		n, err := s.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			a.deliver(s, chunk)
		}
		if err != nil {
			a.sessionLost(s, err)
			return
		}
	}
}

// sessionLost clears s if it is still current and reports the loss.
func (a *Adapter) sessionLost(s transport.Session, err error) {
	a.mu.Lock()
	current := a.session == s
	if current {
		a.session = nil
	}
	ssid := a.ssid
	a.mu.Unlock()

	s.Close()
	if !current {
		return
	}

	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("uplink session closed by relay: %w", err)
	}
	util.LogWarning("uplink session %s over %q lost: %v", transport.ShortID(s.ID()), ssid, err)

	a.cbMu.RLock()
	fn := a.onDown
	a.cbMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

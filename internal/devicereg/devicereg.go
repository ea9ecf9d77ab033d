// Package devicereg discovers LED controllers over mDNS, probes their
// liveness, and fans UDP packets out to the ones currently reachable.
package devicereg

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/ivanli-cn/ambient-light-go/internal/types"
	"github.com/ivanli-cn/ambient-light-go/pkg/wire"
	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"
)

// ServiceType is the mDNS service type browsed for LED controllers.
const ServiceType = "_ambient_light._udp"

// PingInterval is the minimum liveness-probe cadence.
const PingInterval = time.Second

// PingTimeout is how long a ping waits for a pong before counting as a
// failure.
const PingTimeout = time.Second

// Device is a discovered LED controller and its liveness state.
type Device struct {
	Host          string
	Address       string
	Port          int
	Status        types.DeviceStatus
	RetryCount    int
	RTT           time.Duration
	LastCheckedAt time.Time
}

func (d Device) key() string { return d.Address + ":" + strconv.Itoa(d.Port) }

// dialer opens a UDP "connection" to a device; split out as an
// interface so liveness tests can fake the network.
type dialer interface {
	Ping(ctx context.Context, addr string, port int) (time.Duration, error)
	Send(addr string, port int, packet []byte)
}

// udpDialer is the real dialer, used in production.
type udpDialer struct{}

func (udpDialer) Ping(ctx context.Context, addr string, port int) (time.Duration, error) {
	raddr := net.JoinHostPort(addr, strconv.Itoa(port))
	conn, err := net.DialTimeout("udp", raddr, PingTimeout)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	start := time.Now()
	if _, err := conn.Write(wire.PingPacket()); err != nil {
		return 0, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(PingTimeout))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	if err != nil {
		return 0, err
	}
	if n != 1 || !wire.IsPong(buf[:n]) {
		return 0, context.DeadlineExceeded
	}
	return time.Since(start), nil
}

func (udpDialer) Send(addr string, port int, packet []byte) {
	raddr := net.JoinHostPort(addr, strconv.Itoa(port))
	conn, err := net.Dial("udp", raddr)
	if err != nil {
		return
	}
	defer conn.Close()
	_, _ = conn.Write(packet)
}

// Registry is the process-wide device set. Construct one with New and
// share the pointer.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	dial    dialer
	log     *zap.Logger
	watch   chan struct{}
}

// New returns an empty Registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		devices: make(map[string]Device),
		dial:    udpDialer{},
		log:     log,
		watch:   make(chan struct{}, 1),
	}
}

// Watch returns a channel that receives a value (coalesced) whenever
// the device set changes.
func (r *Registry) Watch() <-chan struct{} {
	return r.watch
}

func (r *Registry) notify() {
	select {
	case r.watch <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of all known devices.
func (r *Registry) Snapshot() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Register inserts a newly discovered device if it is not already known.
func (r *Registry) Register(host, address string, port int) {
	d := Device{Host: host, Address: address, Port: port, Status: types.DeviceUnknown}
	r.mu.Lock()
	if _, exists := r.devices[d.key()]; !exists {
		r.devices[d.key()] = d
	}
	r.mu.Unlock()
	r.notify()
}

// Discover browses ServiceType until ctx is cancelled, registering each
// resolved entry. On a lost browse channel it logs ErrMdnsFailed, backs
// off 5s, and retries, unless ctx is already done.
func (r *Registry) Discover(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := r.discoverOnce(ctx); err != nil {
			if r.log != nil {
				r.log.Warn("mdns discovery failed, backing off", zap.Error(err),
					zap.NamedError("kind", types.ErrMdnsFailed))
			}
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Registry) discoverOnce(ctx context.Context) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}
	entries := make(chan *zeroconf.ServiceEntry, 16)

	go func() {
		for entry := range entries {
			addr := ""
			if len(entry.AddrIPv4) > 0 {
				addr = entry.AddrIPv4[0].String()
			} else if len(entry.AddrIPv6) > 0 {
				addr = entry.AddrIPv6[0].String()
			}
			if addr == "" {
				continue
			}
			r.Register(entry.HostName, addr, entry.Port)
		}
	}()

	return resolver.Browse(ctx, ServiceType, "local.", entries)
}

// RunLiveness probes every known device at least once per PingInterval
// until ctx is cancelled.
func (r *Registry) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	for _, d := range r.Snapshot() {
		d := d
		go r.probeOne(ctx, d)
	}
}

func (r *Registry) probeOne(ctx context.Context, d Device) {
	rtt, err := r.dial.Ping(ctx, d.Address, d.Port)
	now := time.Now()

	r.mu.Lock()
	cur, ok := r.devices[d.key()]
	if !ok {
		r.mu.Unlock()
		return
	}
	prevStatus := cur.Status
	if err == nil {
		cur.Status = types.DeviceConnected
		cur.RTT = rtt
		cur.RetryCount = 0
	} else {
		switch cur.Status {
		case types.DeviceConnected, types.DeviceUnknown:
			cur.Status = types.DeviceConnecting
			cur.RetryCount = 1
		case types.DeviceConnecting:
			if cur.RetryCount >= types.MaxConnectRetries {
				cur.Status = types.DeviceDisconnected
			} else {
				cur.RetryCount++
			}
		case types.DeviceDisconnected:
			// stays Disconnected; only a successful pong (handled above) revives it
		}
	}
	cur.LastCheckedAt = now
	r.devices[d.key()] = cur
	changed := cur.Status != prevStatus
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// SendToAll UDP-sends packet to every Connected device. Implements
// arbiter.Sender. Per-device send errors are swallowed so one bad device
// never blocks delivery to the others.
func (r *Registry) SendToAll(packet []byte) {
	for _, d := range r.Snapshot() {
		if d.Status != types.DeviceConnected {
			continue
		}
		d := d
		r.dial.Send(d.Address, d.Port, packet)
	}
}

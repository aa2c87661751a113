// Package netctl provides a dialer whose connections can be cut, limited and observed at runtime.
// It is used to simulate network failures against a local server.
package netctl

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

var (
	ErrDialDisabled  = errors.New("dialing is disabled")
	ErrDialLimit     = errors.New("dial limit reached")
	ErrReadDisabled  = errors.New("reading is disabled")
	ErrReadLimit     = errors.New("read limit reached")
	ErrWriteDisabled = errors.New("writing is disabled")
	ErrWriteLimit    = errors.New("write limit reached")
)

// NetCtl can be used to control whether a dialer can dial, and whether the resulting
// connection can read or write.
type NetCtl struct {
	canDial   atomic.Bool
	dialLimit atomic.Uint64

	canRead   atomic.Bool
	readLimit atomic.Uint64

	canWrite   atomic.Bool
	writeLimit atomic.Uint64

	onDial  []func(net.Conn)
	onRead  []func([]byte)
	onWrite []func([]byte)

	lock sync.Mutex
}

// New returns a new NetCtl that allows dialing, reading and writing.
func New() *NetCtl {
	ctl := &NetCtl{}

	ctl.Enable()

	return ctl
}

func (c *NetCtl) SetCanDial(canDial bool) {
	c.canDial.Store(canDial)
}

// SetDialLimit sets the maximum number of times dialers using this controller can dial.
func (c *NetCtl) SetDialLimit(limit uint64) {
	c.dialLimit.Store(limit)
}

func (c *NetCtl) SetCanRead(canRead bool) {
	c.canRead.Store(canRead)
}

// SetReadLimit sets the maximum number of bytes that can be read.
func (c *NetCtl) SetReadLimit(limit uint64) {
	c.readLimit.Store(limit)
}

func (c *NetCtl) SetCanWrite(canWrite bool) {
	c.canWrite.Store(canWrite)
}

// SetWriteLimit sets the maximum number of bytes that can be written.
func (c *NetCtl) SetWriteLimit(limit uint64) {
	c.writeLimit.Store(limit)
}

// OnDial adds a callback that is called with the created connection when a dial is successful.
func (c *NetCtl) OnDial(f func(net.Conn)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onDial = append(c.onDial, f)
}

// OnRead adds a callback that is called with the read bytes when a read is successful.
func (c *NetCtl) OnRead(f func([]byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onRead = append(c.onRead, f)
}

// OnWrite adds a callback that is called with the written bytes when a write is successful.
func (c *NetCtl) OnWrite(f func([]byte)) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.onWrite = append(c.onWrite, f)
}

// Disable is equivalent to disallowing dial, read and write.
func (c *NetCtl) Disable() {
	c.SetCanDial(false)
	c.SetCanRead(false)
	c.SetCanWrite(false)
}

// Enable is equivalent to allowing dial, read and write.
func (c *NetCtl) Enable() {
	c.SetCanDial(true)
	c.SetCanRead(true)
	c.SetCanWrite(true)
}

func (c *NetCtl) callbacks(fns *[]func([]byte)) []func([]byte) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]func([]byte){}, *fns...)
}

// Conn is a net.Conn whose reads and writes are gated by its controller.
// Refused reads and writes fail like a dropped connection.
type Conn struct {
	net.Conn

	ctl *NetCtl

	readLimiter  *limiter
	writeLimiter *limiter
}

func (c *Conn) Read(b []byte) (int, error) {
	if !c.ctl.canRead.Load() {
		return 0, c.opError("read", ErrReadDisabled)
	}

	n, err := c.readLimiter.do(c.Conn.Read, b)
	if err != nil {
		return n, err
	}

	for _, f := range c.ctl.callbacks(&c.ctl.onRead) {
		f(b[:n])
	}

	return n, nil
}

func (c *Conn) Write(b []byte) (int, error) {
	if !c.ctl.canWrite.Load() {
		return 0, c.opError("write", ErrWriteDisabled)
	}

	n, err := c.writeLimiter.do(c.Conn.Write, b)
	if err != nil {
		return n, err
	}

	for _, f := range c.ctl.callbacks(&c.ctl.onWrite) {
		f(b[:n])
	}

	return n, nil
}

func (c *Conn) opError(op string, err error) error {
	return &net.OpError{
		Op:     op,
		Net:    c.LocalAddr().Network(),
		Source: c.LocalAddr(),
		Addr:   c.RemoteAddr(),
		Err:    fmt.Errorf("%w: %w", err, io.ErrUnexpectedEOF),
	}
}

// Dialer performs network dialing, but only if the controller allows it.
type Dialer struct {
	ctl *NetCtl

	netDialer *net.Dialer
	tlsDialer *tls.Dialer
	tlsConfig *tls.Config

	readLimiter  *limiter
	writeLimiter *limiter

	dialCount atomic.Uint64
}

// NewDialer returns a new dialer using the given net controller.
// It optionally uses a provided tls config.
func NewDialer(ctl *NetCtl, tlsConfig *tls.Config) *Dialer {
	return &Dialer{
		ctl: ctl,

		netDialer: &net.Dialer{},
		tlsDialer: &tls.Dialer{Config: tlsConfig},
		tlsConfig: tlsConfig,

		readLimiter:  &limiter{limit: &ctl.readLimit, err: ErrReadLimit},
		writeLimiter: &limiter{limit: &ctl.writeLimit, err: ErrWriteLimit},
	}
}

func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialWithDialer(ctx, network, addr, d.netDialer)
}

func (d *Dialer) DialTLSContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.dialWithDialer(ctx, network, addr, d.tlsDialer)
}

// dialWithDialer fails like an unreachable host when the controller forbids dialing.
func (d *Dialer) dialWithDialer(ctx context.Context, network, addr string, dialer dialer) (net.Conn, error) {
	if !d.ctl.canDial.Load() {
		return nil, &net.OpError{Op: "dial", Net: network, Err: ErrDialDisabled}
	}

	if limit := d.ctl.dialLimit.Load(); limit > 0 && d.dialCount.Load() >= limit {
		return nil, &net.OpError{Op: "dial", Net: network, Err: ErrDialLimit}
	}

	d.dialCount.Add(1)

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}

	d.ctl.lock.Lock()
	defer d.ctl.lock.Unlock()

	for _, f := range d.ctl.onDial {
		f(conn)
	}

	return &Conn{
		Conn: conn,
		ctl:  d.ctl,

		readLimiter:  d.readLimiter,
		writeLimiter: d.writeLimiter,
	}, nil
}

// GetRoundTripper returns a new http.RoundTripper that uses the dialer.
func (d *Dialer) GetRoundTripper() http.RoundTripper {
	return &http.Transport{
		DialContext:     d.DialContext,
		DialTLSContext:  d.DialTLSContext,
		TLSClientConfig: d.tlsConfig,
	}
}

type dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// limiter counts the bytes moved through all connections of a dialer and fails once the limit is reached.
type limiter struct {
	limit *atomic.Uint64
	err   error

	count atomic.Uint64
}

func (l *limiter) do(fn func([]byte) (int, error), b []byte) (int, error) {
	if limit := l.limit.Load(); limit > 0 && l.count.Load() >= limit {
		return 0, fmt.Errorf("refusing transfer: %w: %w", l.err, io.ErrUnexpectedEOF)
	}

	n, err := fn(b)
	if err != nil {
		return n, err
	}

	if limit := l.limit.Load(); limit > 0 {
		if total := l.count.Add(uint64(n)); total >= limit {
			return 0, fmt.Errorf("transfer failed: %w: %w", l.err, io.ErrUnexpectedEOF)
		}
	}

	return n, nil
}

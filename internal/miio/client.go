package miio

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Client is the transport contract the core depends on: batched property
// reads, fire-and-forget set commands, and teardown of the network handle.
type Client interface {
	Connect() error
	Close() error
	IsConnected() bool
	GetProperties(keys []string) ([]any, error)
	Send(method string, params []any) error
}

const (
	defaultPort     = 54321
	responseTimeout = 5 * time.Second
	maxDatagram     = 4096

	// readErrorBackoff paces receive-loop retries after a socket read error.
	// A connected UDP socket can surface the same ICMP-driven error on every
	// read, so the loop must not spin.
	readErrorBackoff = 250 * time.Millisecond
)

// UDPClient implements Client over the miIO UDP protocol.
type UDPClient struct {
	host   string
	token  [16]byte
	cs     cipherState
	logger *zap.Logger

	conn      *net.UDPConn
	connected bool
	connMu    sync.RWMutex

	deviceID uint32
	stamp    uint32
	stampAt  time.Time
	stampMu  sync.Mutex

	msgID     int
	msgIDMu   sync.Mutex
	pending   map[int]chan rpcResponse
	pendingMu sync.Mutex

	writeMu sync.Mutex // serializes datagram writes
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewUDPClient creates a client for the device at host. token is the 32-hex
// device token.
func NewUDPClient(host, token string, logger *zap.Logger) (*UDPClient, error) {
	raw, err := hex.DecodeString(token)
	if err != nil || len(raw) != 16 {
		return nil, fmt.Errorf("device token must be 32 hex characters")
	}

	c := &UDPClient{
		host:    host,
		logger:  logger.Named("miio"),
		pending: make(map[int]chan rpcResponse),
	}
	copy(c.token[:], raw)
	c.cs = newCipherState(c.token)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// Connect opens the socket, performs the hello handshake to learn the device
// ID and clock stamp, and starts the receive loop.
func (c *UDPClient) Connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.host, fmt.Sprint(defaultPort)))
	if err != nil {
		return fmt.Errorf("resolve device address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial device: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to device",
		zap.String("host", c.host),
		zap.Uint32("device_id", c.deviceID))

	go c.receiveLoop()
	return nil
}

// handshake sends the hello datagram and records the device's ID and stamp.
func (c *UDPClient) handshake(conn *net.UDPConn) error {
	if _, err := conn.Write(buildHello()); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(responseTimeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, maxDatagram)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read hello reply: %w", err)
	}
	p, err := decodePacket(c.token, c.cs, buf[:n])
	if err != nil {
		return fmt.Errorf("decode hello reply: %w", err)
	}

	c.stampMu.Lock()
	c.deviceID = p.DeviceID
	c.stamp = p.Stamp
	c.stampAt = time.Now()
	c.stampMu.Unlock()
	return nil
}

// Close tears down the socket. Safe to call repeatedly and before Connect.
func (c *UDPClient) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false
	c.cancel()
	err := c.conn.Close()
	c.conn = nil
	c.logger.Info("Disconnected from device", zap.String("host", c.host))
	return err
}

// IsConnected reports whether the socket is open.
func (c *UDPClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// GetProperties issues one get_prop call. The device answers with positional
// values, one per requested key; the caller validates the count.
func (c *UDPClient) GetProperties(keys []string) ([]any, error) {
	params := make([]any, len(keys))
	for i, k := range keys {
		params[i] = k
	}
	result, err := c.call("get_prop", params)
	if err != nil {
		return nil, err
	}

	var values []any
	if err := json.Unmarshal(result, &values); err != nil {
		return nil, fmt.Errorf("unmarshal get_prop result: %w", err)
	}
	return values, nil
}

// Send issues a set command. The device acknowledges with ["ok"]; anything
// else is a failure.
func (c *UDPClient) Send(method string, params []any) error {
	result, err := c.call(method, params)
	if err != nil {
		return err
	}

	var ack []any
	if err := json.Unmarshal(result, &ack); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	if len(ack) != 1 || ack[0] != "ok" {
		return fmt.Errorf("%s rejected: %v", method, ack)
	}
	return nil
}

// call sends one JSON-RPC request and waits for its matching response.
func (c *UDPClient) call(method string, params []any) (json.RawMessage, error) {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	c.connMu.RUnlock()
	if !connected {
		return nil, fmt.Errorf("not connected")
	}

	if params == nil {
		params = []any{}
	}
	id := c.nextMsgID()
	payload, err := json.Marshal(rpcRequest{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.stampMu.Lock()
	stamp := c.stamp + uint32(time.Since(c.stampAt)/time.Second)
	deviceID := c.deviceID
	c.stampMu.Unlock()

	data, err := encodePacket(c.token, c.cs, deviceID, stamp, payload)
	if err != nil {
		return nil, err
	}

	respChan := make(chan rpcResponse, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	_, err = conn.Write(data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-time.After(responseTimeout):
		return nil, fmt.Errorf("timeout waiting for %s response", method)
	case <-c.ctx.Done():
		return nil, fmt.Errorf("client closed")
	}
}

// pauseAfterReadError waits out the retry backoff. It returns false if the
// client closed while waiting, so the receive loop can exit promptly.
func (c *UDPClient) pauseAfterReadError() bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(readErrorBackoff):
		return true
	}
}

func (c *UDPClient) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// receiveLoop reads datagrams and routes responses to waiting callers.
// Responses arriving after Close are discarded.
func (c *UDPClient) receiveLoop() {
	buf := make([]byte, maxDatagram)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()
		if conn == nil {
			return
		}

		n, err := conn.Read(buf)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("Read failed", zap.Error(err))
			if !c.pauseAfterReadError() {
				return
			}
			continue
		}

		p, err := decodePacket(c.token, c.cs, buf[:n])
		if err != nil {
			c.logger.Warn("Dropping malformed packet", zap.Error(err))
			continue
		}
		if len(p.Payload) == 0 {
			continue
		}

		var resp rpcResponse
		if err := json.Unmarshal(p.Payload, &resp); err != nil {
			c.logger.Warn("Dropping undecodable response", zap.Error(err))
			continue
		}

		c.pendingMu.Lock()
		if ch, ok := c.pending[resp.ID]; ok {
			select {
			case ch <- resp:
			default:
				c.logger.Warn("Response channel full", zap.Int("msg_id", resp.ID))
			}
		}
		c.pendingMu.Unlock()
	}
}

// Package electrum speaks the ElectrumX JSON-RPC protocol over TCP/TLS
// (newline-delimited) and WS/WSS (whole-frame), with heartbeat and an
// explicit Reconnect; a dropped connection is not redialed automatically.
// Client is the single-connection primitive; pool.go
// builds multi-server management on top of it.
package electrum

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/btcbuilder/txbuilder/txerrors"
)

// Transport identifies which framing a server URL resolves to.
type Transport string

const (
	TransportTCP Transport = "tcp"
	TransportSSL Transport = "ssl"
	TransportWS  Transport = "ws"
	TransportWSS Transport = "wss"
)

const (
	defaultDialTimeout    = 30 * time.Second
	defaultCallTimeout    = 30 * time.Second
	defaultHeartbeat      = 60 * time.Second
	clientVersionProtocol = "1.4"
)

// Client is a single connection to one ElectrumX server.
type Client struct {
	url       string
	transport Transport
	host      string
	port      string
	logger    hclog.Logger

	mu         sync.Mutex
	conn       net.Conn
	wsConn     *websocket.Conn
	closed     bool
	lastActive time.Time

	id       atomic.Uint64
	respMu   sync.Mutex
	respChan map[uint64]chan *rpcResponse

	heartbeatInterval time.Duration
	callTimeout       time.Duration
	stopHeartbeat     chan struct{}
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithLogger overrides the client's logger (defaults to a discarding one).
func WithLogger(l hclog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHeartbeat overrides the server.ping keepalive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Client) { c.heartbeatInterval = d }
}

// WithCallTimeout overrides the per-request response deadline.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) { c.callTimeout = d }
}

// NewClient dials url (tcp://, ssl://, ws://, or wss://; ssl:// is assumed
// when no scheme is given) and negotiates the protocol version.
func NewClient(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:               url,
		respChan:          make(map[uint64]chan *rpcResponse),
		logger:            hclog.NewNullLogger(),
		heartbeatInterval: defaultHeartbeat,
		callTimeout:       defaultCallTimeout,
		stopHeartbeat:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := c.parseURL(url); err != nil {
		return nil, err
	}
	if err := c.connect(context.Background()); err != nil {
		return nil, err
	}

	switch c.transport {
	case TransportWS, TransportWSS:
		go c.readWS()
	default:
		go c.readLines()
	}

	if err := c.negotiateVersion(); err != nil {
		c.Close()
		return nil, err
	}

	go c.heartbeatLoop()

	return c, nil
}

func (c *Client) parseURL(raw string) error {
	rest := raw
	switch {
	case strings.HasPrefix(raw, "ssl://"):
		c.transport = TransportSSL
		rest = strings.TrimPrefix(raw, "ssl://")
	case strings.HasPrefix(raw, "tcp://"):
		c.transport = TransportTCP
		rest = strings.TrimPrefix(raw, "tcp://")
	case strings.HasPrefix(raw, "wss://"):
		c.transport = TransportWSS
		return nil // keep full URL for the websocket dialer
	case strings.HasPrefix(raw, "ws://"):
		c.transport = TransportWS
		return nil
	default:
		c.transport = TransportSSL
	}

	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return fmt.Errorf("electrum: invalid server address %q: %w", raw, err)
	}
	c.host, c.port = host, port
	return nil
}

func (c *Client) connect(ctx context.Context) error {
	switch c.transport {
	case TransportWS, TransportWSS:
		dialer := websocket.Dialer{HandshakeTimeout: defaultDialTimeout}
		conn, _, err := dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return txerrors.Wrap(classifyNetError(err), err, "failed to dial %s", c.url).WithServer(c.url)
		}
		c.mu.Lock()
		c.wsConn = conn
		c.closed = false
		c.lastActive = time.Now()
		c.mu.Unlock()
		return nil
	default:
		addr := net.JoinHostPort(c.host, c.port)
		var conn net.Conn
		var err error
		dialer := &net.Dialer{Timeout: defaultDialTimeout}
		if c.transport == TransportSSL {
			conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: c.host,
			})
		} else {
			conn, err = dialer.DialContext(ctx, "tcp", addr)
		}
		if err != nil {
			return txerrors.Wrap(classifyNetError(err), err, "failed to dial %s", addr).WithServer(addr)
		}
		c.mu.Lock()
		c.conn = conn
		c.closed = false
		c.lastActive = time.Now()
		c.mu.Unlock()
		return nil
	}
}

// classifyNetError maps a raw dial/read error to the most specific Network
// Kind spec.md §7 names, following the teacher's isConnectionError string
// matching (backend.go) rather than platform-specific type assertions.
func classifyNetError(err error) txerrors.Kind {
	if err == nil {
		return txerrors.KindConnectionLost
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection refused"):
		return txerrors.KindConnectionRefused
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return txerrors.KindConnectionReset
	case strings.Contains(msg, "tls:"), strings.Contains(msg, "x509:"), strings.Contains(msg, "certificate"):
		return txerrors.KindTlsError
	case strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "deadline exceeded"):
		return txerrors.KindTimeout
	case strings.Contains(msg, "use of closed network connection"), strings.Contains(msg, "EOF"):
		return txerrors.KindDisconnected
	default:
		return txerrors.KindConnectionLost
	}
}

// Reconnect tears down the current connection (if any) and redials with
// exponential backoff. Nothing in this package calls it; the caller decides
// when to reconnect.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	if c.wsConn != nil {
		c.wsConn.Close()
	}
	c.mu.Unlock()

	policy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	err := backoff.Retry(func() error {
		return c.connect(ctx)
	}, policy)
	if err != nil {
		return txerrors.Wrap(classifyNetError(err), err, "reconnect to %s exhausted retries", c.url).WithServer(c.url)
	}

	switch c.transport {
	case TransportWS, TransportWSS:
		go c.readWS()
	default:
		go c.readLines()
	}
	return c.negotiateVersion()
}

func (c *Client) readLines() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	decoder := json.NewDecoder(conn)
	for {
		var resp rpcResponse
		if err := decoder.Decode(&resp); err != nil {
			c.onReadError()
			return
		}
		c.dispatch(&resp)
	}
}

func (c *Client) readWS() {
	c.mu.Lock()
	conn := c.wsConn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.onReadError()
			return
		}
		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("electrum: malformed ws frame", "error", err)
			continue
		}
		c.dispatch(&resp)
	}
}

func (c *Client) dispatch(resp *rpcResponse) {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()

	if resp.isNotification() {
		return
	}

	c.respMu.Lock()
	if ch, ok := c.respChan[resp.ID]; ok {
		ch <- resp
		delete(c.respChan, resp.ID)
	}
	c.respMu.Unlock()
}

func (c *Client) onReadError() {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.respMu.Lock()
	for _, ch := range c.respChan {
		close(ch)
	}
	c.respChan = make(map[uint64]chan *rpcResponse)
	c.respMu.Unlock()
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Ping(); err != nil {
				c.logger.Warn("electrum: heartbeat ping failed", "server", c.url, "error", err)
			}
		case <-c.stopHeartbeat:
			return
		}
	}
}

func (c *Client) call(method string, params ...interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, txerrors.New(txerrors.KindConnectionLost, "client for %s is closed", c.url).WithServer(c.url)
	}
	c.mu.Unlock()

	id := c.id.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}

	respCh := make(chan *rpcResponse, 1)
	c.respMu.Lock()
	c.respChan[id] = respCh
	c.respMu.Unlock()

	if err := c.send(req); err != nil {
		c.respMu.Lock()
		delete(c.respChan, id)
		c.respMu.Unlock()
		return nil, txerrors.Wrap(txerrors.KindConnectionLost, err, "failed to send %s to %s", method, c.url).WithServer(c.url)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.callTimeout)
	defer cancel()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return nil, txerrors.New(txerrors.KindDisconnected, "connection to %s closed mid-request", c.url).WithServer(c.url)
		}
		if resp.Error != nil {
			return nil, txerrors.New(txerrors.KindServerError, "%s rejected by %s", method, c.url).
				WithServer(c.url).WithServerCode(resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.respMu.Lock()
		delete(c.respChan, id)
		c.respMu.Unlock()
		return nil, txerrors.New(txerrors.KindTimeout, "%s timed out after %s", method, c.callTimeout).WithServer(c.url)
	}
}

func (c *Client) send(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.transport {
	case TransportWS, TransportWSS:
		return c.wsConn.WriteMessage(websocket.TextMessage, data)
	default:
		data = append(data, '\n')
		_, err := c.conn.Write(data)
		return err
	}
}

func (c *Client) negotiateVersion() error {
	result, err := c.call("server.version", "txbuilder", clientVersionProtocol)
	if err != nil {
		return fmt.Errorf("electrum: version negotiation with %s failed: %w", c.url, err)
	}

	var version []string
	if err := json.Unmarshal(result, &version); err != nil {
		return txerrors.Wrap(txerrors.KindProtocolError, err, "malformed version response from %s", c.url).WithServer(c.url)
	}
	return nil
}

// Close shuts down the connection and stops the heartbeat goroutine.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	select {
	case <-c.stopHeartbeat:
	default:
		close(c.stopHeartbeat)
	}
	if c.conn != nil {
		c.conn.Close()
	}
	if c.wsConn != nil {
		c.wsConn.Close()
	}
}

// LastActive reports when the client last saw any server traffic.
func (c *Client) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// GetBalance returns the balance for a scripthash.
func (c *Client) GetBalance(scripthash string) (*Balance, error) {
	result, err := c.call("blockchain.scripthash.get_balance", scripthash)
	if err != nil {
		return nil, err
	}
	var balance Balance
	if err := json.Unmarshal(result, &balance); err != nil {
		return nil, fmt.Errorf("electrum: failed to parse balance: %w", err)
	}
	return &balance, nil
}

// ListUnspent returns unspent outputs for a scripthash.
func (c *Client) ListUnspent(scripthash string) ([]UTXO, error) {
	result, err := c.call("blockchain.scripthash.listunspent", scripthash)
	if err != nil {
		return nil, err
	}
	var utxos []UTXO
	if err := json.Unmarshal(result, &utxos); err != nil {
		return nil, fmt.Errorf("electrum: failed to parse UTXOs: %w", err)
	}
	return utxos, nil
}

// GetHistory returns transaction history for a scripthash.
func (c *Client) GetHistory(scripthash string) ([]Transaction, error) {
	result, err := c.call("blockchain.scripthash.get_history", scripthash)
	if err != nil {
		return nil, err
	}
	var txs []Transaction
	if err := json.Unmarshal(result, &txs); err != nil {
		return nil, fmt.Errorf("electrum: failed to parse history: %w", err)
	}
	return txs, nil
}

// GetTransaction returns raw transaction hex.
func (c *Client) GetTransaction(txhash string) (string, error) {
	result, err := c.call("blockchain.transaction.get", txhash)
	if err != nil {
		return "", err
	}
	var rawtx string
	if err := json.Unmarshal(result, &rawtx); err != nil {
		return "", fmt.Errorf("electrum: failed to parse transaction: %w", err)
	}
	return rawtx, nil
}

// BroadcastTransaction broadcasts a raw transaction and returns its txid.
func (c *Client) BroadcastTransaction(rawtx string) (string, error) {
	result, err := c.call("blockchain.transaction.broadcast", rawtx)
	if err != nil {
		return "", err
	}
	var txid string
	if err := json.Unmarshal(result, &txid); err != nil {
		return "", fmt.Errorf("electrum: failed to parse broadcast result: %w", err)
	}
	return txid, nil
}

// EstimateFee returns the estimated fee in BTC/kB for confirmation within
// the given number of blocks, or -1 if the server has no estimate.
func (c *Client) EstimateFee(blocks int) (float64, error) {
	result, err := c.call("blockchain.estimatefee", blocks)
	if err != nil {
		return 0, err
	}
	var fee float64
	if err := json.Unmarshal(result, &fee); err != nil {
		return 0, fmt.Errorf("electrum: failed to parse fee estimate: %w", err)
	}
	return fee, nil
}

// GetBlockHeader returns the raw header hex at the given height.
func (c *Client) GetBlockHeader(height int64) (string, error) {
	result, err := c.call("blockchain.block.header", height)
	if err != nil {
		return "", err
	}
	var header string
	if err := json.Unmarshal(result, &header); err != nil {
		return "", fmt.Errorf("electrum: failed to parse block header: %w", err)
	}
	return header, nil
}

// Ping keeps the connection alive and doubles as a liveness probe.
func (c *Client) Ping() error {
	_, err := c.call("server.ping")
	return err
}

// Subscribe subscribes to a scripthash and returns its current status
// hash, or nil if the address has no history yet.
func (c *Client) Subscribe(scripthash string) (*string, error) {
	result, err := c.call("blockchain.scripthash.subscribe", scripthash)
	if err != nil {
		return nil, err
	}
	if string(result) == "null" {
		return nil, nil
	}
	var status string
	if err := json.Unmarshal(result, &status); err != nil {
		return nil, fmt.Errorf("electrum: failed to parse subscribe result: %w", err)
	}
	return &status, nil
}

// GetBlockHeight returns the current chain tip height.
func (c *Client) GetBlockHeight() (int64, error) {
	result, err := c.call("blockchain.headers.subscribe")
	if err != nil {
		return 0, err
	}
	var headerInfo struct {
		Height int64  `json:"height"`
		Hex    string `json:"hex"`
	}
	if err := json.Unmarshal(result, &headerInfo); err != nil {
		return 0, fmt.Errorf("electrum: failed to parse header info: %w", err)
	}
	return headerInfo.Height, nil
}

// AddressToScriptHash converts a scriptPubKey to an ElectrumX scripthash:
// SHA256 of the script, byte-reversed to little-endian, hex-encoded.
func AddressToScriptHash(scriptPubKey []byte) string {
	hash := sha256.Sum256(scriptPubKey)
	for i, j := 0, len(hash)-1; i < j; i, j = i+1, j-1 {
		hash[i], hash[j] = hash[j], hash[i]
	}
	return hex.EncodeToString(hash[:])
}

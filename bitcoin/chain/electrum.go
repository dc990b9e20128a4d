// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package chain

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

const (
	methodListUnspent = "blockchain.scripthash.listunspent"
	methodBroadcast   = "blockchain.transaction.broadcast"

	defaultDialTimeout = 10 * time.Second
	defaultCallTimeout = 30 * time.Second
)

// RPCError is an error returned by electrum server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("electrum error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

type listUnspentEntry struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  int64  `json:"value"`
}

// transport is a JSON message stream to electrum server.
type transport interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	SetDeadline(t time.Time) error
	Close() error
}

type websocketTransport struct {
	*websocket.Conn
}

// SetDeadline sets both read and write deadlines of websocket connection.
func (t websocketTransport) SetDeadline(deadline time.Time) error {
	return errors.Join(t.SetReadDeadline(deadline), t.SetWriteDeadline(deadline))
}

// lineTransport speaks newline delimited JSON over raw TCP stream.
type lineTransport struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
}

func newLineTransport(conn net.Conn) *lineTransport {
	return &lineTransport{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}
}

func (t *lineTransport) WriteJSON(v interface{}) error        { return t.encoder.Encode(v) }
func (t *lineTransport) ReadJSON(v interface{}) error         { return t.decoder.Decode(v) }
func (t *lineTransport) SetDeadline(deadline time.Time) error { return t.conn.SetDeadline(deadline) }
func (t *lineTransport) Close() error                         { return t.conn.Close() }

// Electrum is a Source backed by electrum JSON-RPC server.
// Supported URL schemes: tcp://, ssl:// (raw stream) and ws://, wss:// (websocket).
// Requests are serialized over a single lazily established connection.
type Electrum struct {
	url         *url.URL
	dialTimeout time.Duration
	callTimeout time.Duration

	mu        sync.Mutex
	conn      transport
	requestID uint64
	closed    bool
}

// ElectrumOption configures Electrum client.
type ElectrumOption func(*Electrum)

// WithDialTimeout sets connection establishment timeout.
func WithDialTimeout(timeout time.Duration) ElectrumOption {
	return func(e *Electrum) {
		e.dialTimeout = timeout
	}
}

// WithCallTimeout sets per request timeout applied when context has no deadline.
func WithCallTimeout(timeout time.Duration) ElectrumOption {
	return func(e *Electrum) {
		e.callTimeout = timeout
	}
}

// NewElectrum creates electrum client, connection is established on first call.
// Host without scheme is treated as tcp://host.
func NewElectrum(host string, opts ...ElectrumOption) (*Electrum, error) {
	if !strings.Contains(host, "://") {
		host = "tcp://" + host
	}

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid electrum url: %w", err)
	}

	switch u.Scheme {
	case "tcp", "ssl", "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %s, expected tcp://, ssl://, ws:// or wss://", u.Scheme)
	}

	electrum := &Electrum{
		url:         u,
		dialTimeout: defaultDialTimeout,
		callTimeout: defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(electrum)
	}

	return electrum, nil
}

// ListUnspent implements Source.
func (e *Electrum) ListUnspent(ctx context.Context, pkScript []byte) ([]Unspent, error) {
	var entries []listUnspentEntry
	if err := e.call(ctx, methodListUnspent, []interface{}{utils.ElectrumScriptHash(pkScript)}, &entries); err != nil {
		return nil, err
	}

	unspents := make([]Unspent, 0, len(entries))
	for _, entry := range entries {
		hash, err := chainhash.NewHashFromStr(entry.TxHash)
		if err != nil {
			return nil, fmt.Errorf("invalid tx_hash %q: %w", entry.TxHash, err)
		}

		unspents = append(unspents, Unspent{
			OutPoint: *wire.NewOutPoint(hash, entry.TxPos),
			Value:    btcutil.Amount(entry.Value),
			Height:   entry.Height,
		})
	}

	return unspents, nil
}

// Broadcast implements Source.
func (e *Electrum) Broadcast(ctx context.Context, tx *wire.MsgTx) (*chainhash.Hash, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}

	var txid string
	if err := e.call(ctx, methodBroadcast, []interface{}{hex.EncodeToString(buf.Bytes())}, &txid); err != nil {
		return nil, err
	}

	return chainhash.NewHashFromStr(txid)
}

// Close closes underlying connection, client is not usable after.
func (e *Electrum) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	return e.dropConn()
}

func (e *Electrum) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}

	conn, err := e.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect to electrum: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(e.callTimeout)
	}
	if err = conn.SetDeadline(deadline); err != nil {
		return errors.Join(err, e.dropConn())
	}

	e.requestID++
	id := e.requestID
	log.WithFields(log.Fields{"method": method, "id": id}).Debug("electrum: request")

	if err = conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return errors.Join(err, e.dropConn())
	}

	for {
		var resp response
		if err = conn.ReadJSON(&resp); err != nil {
			return errors.Join(err, e.dropConn())
		}

		// notifications and stale responses.
		if resp.ID == nil || *resp.ID != id {
			log.WithField("method", resp.Method).Debug("electrum: skipping unrelated message")
			continue
		}

		if len(resp.Error) > 0 && !bytes.Equal(resp.Error, []byte("null")) {
			return parseRPCError(resp.Error)
		}

		if err = json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}

		return nil
	}
}

func (e *Electrum) connect(ctx context.Context) (transport, error) {
	if e.conn != nil {
		return e.conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.dialTimeout)
	defer cancel()

	switch e.url.Scheme {
	case "ws", "wss":
		dialer := websocket.Dialer{HandshakeTimeout: e.dialTimeout}
		conn, _, err := dialer.DialContext(dialCtx, e.url.String(), nil)
		if err != nil {
			return nil, err
		}

		e.conn = websocketTransport{conn}
	case "ssl":
		dialer := tls.Dialer{Config: &tls.Config{ServerName: e.url.Hostname(), MinVersion: tls.VersionTLS12}}
		conn, err := dialer.DialContext(dialCtx, "tcp", e.url.Host)
		if err != nil {
			return nil, err
		}

		e.conn = newLineTransport(conn)
	default:
		var dialer net.Dialer
		conn, err := dialer.DialContext(dialCtx, "tcp", e.url.Host)
		if err != nil {
			return nil, err
		}

		e.conn = newLineTransport(conn)
	}

	log.WithField("url", e.url.Redacted()).Debug("electrum: connected")
	return e.conn, nil
}

func (e *Electrum) dropConn() error {
	if e.conn == nil {
		return nil
	}

	err := e.conn.Close()
	e.conn = nil

	return err
}

func parseRPCError(raw json.RawMessage) error {
	rpcErr := new(RPCError)
	if err := json.Unmarshal(raw, rpcErr); err == nil && rpcErr.Message != "" {
		return rpcErr
	}

	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return &RPCError{Message: message}
	}

	return &RPCError{Message: string(raw)}
}

// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package chain_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/BoostyLabs/coinjoin/bitcoin/chain"
	"github.com/BoostyLabs/coinjoin/bitcoin/utils"
)

const fundingTxID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"

type rpcRequest struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// fakeElectrum answers electrum requests for a single script hash.
type fakeElectrum struct {
	t          *testing.T
	scriptHash string
	reject     bool

	mu        sync.Mutex
	broadcast []string
}

func (f *fakeElectrum) handle(req rpcRequest) []interface{} {
	notification := map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "blockchain.headers.subscribe",
		"params":  []interface{}{map[string]interface{}{"height": 100}},
	}

	switch req.Method {
	case "blockchain.scripthash.listunspent":
		result := []interface{}{}
		if req.Params[0] == f.scriptHash {
			result = append(result, map[string]interface{}{
				"tx_hash": fundingTxID,
				"tx_pos":  1,
				"height":  101,
				"value":   150000,
			})
		}

		return []interface{}{notification, map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result}}
	case "blockchain.transaction.broadcast":
		raw := req.Params[0].(string)
		if f.reject {
			return []interface{}{map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"error":   map[string]interface{}{"code": 1, "message": "bad-txns"},
			}}
		}

		f.mu.Lock()
		f.broadcast = append(f.broadcast, raw)
		f.mu.Unlock()

		txBytes, err := hex.DecodeString(raw)
		require.NoError(f.t, err)
		tx, err := btcutil.NewTxFromBytes(txBytes)
		require.NoError(f.t, err)

		return []interface{}{map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": tx.Hash().String()}}
	default:
		return []interface{}{map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "error": "unknown method"}}
	}
}

func (f *fakeElectrum) websocketServer() *httptest.Server {
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var req rpcRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}

			for _, msg := range f.handle(req) {
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}))
}

func (f *fakeElectrum) tcpServer(t *testing.T) string {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func() {
				defer func() { _ = conn.Close() }()

				decoder := json.NewDecoder(conn)
				encoder := json.NewEncoder(conn)
				for {
					var req rpcRequest
					if err := decoder.Decode(&req); err != nil {
						return
					}

					for _, msg := range f.handle(req) {
						if err := encoder.Encode(msg); err != nil {
							return
						}
					}
				}
			}()
		}
	}()

	return listener.Addr().String()
}

func testScript(t *testing.T) []byte {
	script, err := hex.DecodeString("0014c0cebcd6c3d3ca8c75dc5ec62ebe55330ef910e2")
	require.NoError(t, err)

	return script
}

func testTx(t *testing.T, script []byte) *wire.MsgTx {
	hash, err := chainhash.NewHashFromStr(fundingTxID)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 1), nil, nil))
	tx.AddTxOut(wire.NewTxOut(140000, script))

	return tx
}

func testElectrumSource(t *testing.T, source *chain.Electrum, fake *fakeElectrum) {
	ctx := context.Background()
	script := testScript(t)

	unspents, err := source.ListUnspent(ctx, script)
	require.NoError(t, err)
	require.Len(t, unspents, 1)
	require.Equal(t, fundingTxID, unspents[0].OutPoint.Hash.String())
	require.EqualValues(t, 1, unspents[0].OutPoint.Index)
	require.Equal(t, btcutil.Amount(150000), unspents[0].Value)
	require.EqualValues(t, 101, unspents[0].Height)

	unspents, err = source.ListUnspent(ctx, []byte{0x51})
	require.NoError(t, err)
	require.Empty(t, unspents)

	tx := testTx(t, script)
	txid, err := source.Broadcast(ctx, tx)
	require.NoError(t, err)
	require.Equal(t, tx.TxHash(), *txid)

	fake.mu.Lock()
	require.Len(t, fake.broadcast, 1)
	fake.mu.Unlock()

	require.NoError(t, source.Close())
	_, err = source.ListUnspent(ctx, script)
	require.ErrorIs(t, err, chain.ErrClosed)
}

func TestElectrumWebsocket(t *testing.T) {
	fake := &fakeElectrum{t: t, scriptHash: utils.ElectrumScriptHash(testScript(t))}
	server := fake.websocketServer()
	defer server.Close()

	source, err := chain.NewElectrum("ws" + strings.TrimPrefix(server.URL, "http"))
	require.NoError(t, err)

	testElectrumSource(t, source, fake)
}

func TestElectrumTCP(t *testing.T) {
	fake := &fakeElectrum{t: t, scriptHash: utils.ElectrumScriptHash(testScript(t))}
	address := fake.tcpServer(t)

	source, err := chain.NewElectrum(address)
	require.NoError(t, err)

	testElectrumSource(t, source, fake)
}

func TestElectrumRPCError(t *testing.T) {
	fake := &fakeElectrum{t: t, reject: true}
	address := fake.tcpServer(t)

	source, err := chain.NewElectrum("tcp://" + address)
	require.NoError(t, err)
	defer func() { _ = source.Close() }()

	_, err = source.Broadcast(context.Background(), testTx(t, testScript(t)))
	var rpcErr *chain.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, 1, rpcErr.Code)
	require.Equal(t, "bad-txns", rpcErr.Message)

	// connection survives server side errors.
	unspents, err := source.ListUnspent(context.Background(), testScript(t))
	require.NoError(t, err)
	require.Empty(t, unspents)
}

func TestNewElectrumScheme(t *testing.T) {
	_, err := chain.NewElectrum("http://127.0.0.1:50001")
	require.Error(t, err)

	for _, host := range []string{"127.0.0.1:50001", "tcp://127.0.0.1:50001", "ssl://electrum.example:50002", "wss://electrum.example/ws"} {
		_, err = chain.NewElectrum(host)
		require.NoError(t, err, host)
	}
}

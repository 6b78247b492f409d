// Package api implements the node's externally-facing JSON-RPC service:
// the mikan namespace over HTTP (gorilla/mux, rs/cors) plus a websocket
// new-heads feed (gorilla/websocket), covering transaction submission,
// chain height, and blob queries.
package api

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/mikan-network/mikan-node/pkg/blob"
	"github.com/mikan-network/mikan-node/pkg/block"
	"github.com/mikan-network/mikan-node/pkg/store"
	"github.com/mikan-network/mikan-node/pkg/txpool"
	"github.com/mikan-network/mikan-node/pkg/types"
)

// Server serves the mikan JSON-RPC namespace and the newHeads websocket
// feed over a shared mempool and store reference; it never touches the
// consensus engine's inbound channel directly.
type Server struct {
	pool      *txpool.Pool
	store     *store.AsyncStore
	committer blob.Committer

	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
}

// NewServer builds a Server over the node's shared mempool, store, and
// blob committer.
func NewServer(pool *txpool.Pool, st *store.AsyncStore, committer blob.Committer, log *zap.SugaredLogger) *Server {
	s := &Server{
		pool:      pool,
		store:     st,
		committer: committer,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		log:       log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleRPC).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start begins serving, blocking until the listener fails or is closed.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})

	s.log.Infow("api_server_starting", "addr", addr)
	return http.ListenAndServe(addr, c.Handler(s.router))
}

// NotifyNewHead satisfies app.NewHeadsNotifier, broadcasting to every
// websocket client subscribed to the newHeads channel.
func (s *Server) NotifyNewHead(height types.Height, blockHash [32]byte) {
	s.hub.BroadcastToChannel(newHeadsChannel, newHeadNotification{
		Height:    uint64(height),
		BlockHash: "0x" + hex.EncodeToString(blockHash[:]),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, errResponse(nil, "invalid json-rpc request: "+err.Error()))
		return
	}

	result, err := s.dispatch(req.Method, req.Params)
	if err != nil {
		s.log.Errorw("rpc_method_failed", "method", req.Method, "err", err)
		writeJSON(w, errResponse(req.ID, err.Error()))
		return
	}
	writeJSON(w, okResponse(req.ID, result))
}

func (s *Server) dispatch(method string, params []interface{}) (interface{}, error) {
	switch method {
	case "mikan_sendTransaction":
		return s.sendTransaction(params)
	case "mikan_blockNumber":
		return s.blockNumber()
	case "mikan_sampleBlob":
		return s.sampleBlob(params)
	case "mikan_getBlob":
		return s.getBlob(params)
	default:
		return nil, fmt.Errorf("unknown method %q", method)
	}
}

func (s *Server) sendTransaction(params []interface{}) (interface{}, error) {
	var p transactionParam
	if err := decodeParam(params, 0, &p); err != nil {
		return nil, err
	}

	fromPub, err := hex.DecodeString(trimHex(p.From))
	if err != nil {
		return nil, fmt.Errorf("invalid from: %w", err)
	}
	toPub, err := hex.DecodeString(trimHex(p.To))
	if err != nil {
		return nil, fmt.Errorf("invalid to: %w", err)
	}
	sig, err := hex.DecodeString(trimHex(p.Signature))
	if err != nil {
		return nil, fmt.Errorf("invalid signature: %w", err)
	}
	if len(p.Data) != 4 {
		return nil, fmt.Errorf("data must carry exactly 4 blobs, got %d", len(p.Data))
	}
	var blobs [4]blob.Blob
	for i, d := range p.Data {
		raw, err := hex.DecodeString(trimHex(d))
		if err != nil {
			return nil, fmt.Errorf("invalid blob %d: %w", i, err)
		}
		b, err := blob.New(raw)
		if err != nil {
			return nil, fmt.Errorf("blob %d: %w", i, err)
		}
		blobs[i] = b
	}

	tx, err := txpool.NewSignedTransaction(fromPub, toPub, p.Value, blobs, p.Nonce, p.GasPrice, sig)
	if err != nil {
		return nil, err
	}
	if !tx.Validate() {
		return nil, fmt.Errorf("transaction failed signature validation")
	}

	s.pool.Add(tx)

	h := tx.Hash()
	return "0x" + hex.EncodeToString(h[:]), nil
}

func (s *Server) blockNumber() (interface{}, error) {
	h, ok := s.store.MaxDecidedValueHeight()
	if !ok {
		return uint64(0), nil
	}
	return uint64(h), nil
}

func (s *Server) sampleBlob(params []interface{}) (interface{}, error) {
	var p sampleBlobParam
	if err := decodeParam(params, 0, &p); err != nil {
		return nil, err
	}
	b, header, err := s.loadBlob(p.Height, p.BlobIndex)
	if err != nil {
		return nil, err
	}
	proof, err := s.committer.Sample(b, header.DACommitment[p.BlobIndex], p.Seed, blob.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("sample: %w", err)
	}
	return hex.EncodeToString(proof), nil
}

func (s *Server) getBlob(params []interface{}) (interface{}, error) {
	var p getBlobParam
	if err := decodeParam(params, 0, &p); err != nil {
		return nil, err
	}
	b, _, err := s.loadBlob(p.Height, p.BlobIndex)
	if err != nil {
		return nil, err
	}
	return hex.EncodeToString(b), nil
}

// loadBlob fetches the decided block at height and returns the requested
// blob alongside its header, shared by sampleBlob and getBlob.
func (s *Server) loadBlob(height uint64, blobIndex int) (blob.Blob, block.Header, error) {
	data, err := s.store.GetDecidedBlock(types.Height(height))
	if err != nil {
		return nil, block.Header{}, fmt.Errorf("height %d: %w", height, err)
	}
	b, err := block.UnmarshalBinary(data)
	if err != nil {
		return nil, block.Header{}, fmt.Errorf("corrupt block at height %d: %w", height, err)
	}
	blobs := b.Blobs()
	if blobIndex < 0 || blobIndex >= len(blobs) {
		return nil, block.Header{}, fmt.Errorf("blob index %d out of range (block carries %d)", blobIndex, len(blobs))
	}
	return blobs[blobIndex], b.Header, nil
}

// decodeParam re-marshals params[i] to JSON and unmarshals it into dst,
// since encoding/json decodes untyped params into interface{} first.
func decodeParam(params []interface{}, i int, dst interface{}) error {
	if i >= len(params) {
		return fmt.Errorf("missing param %d", i)
	}
	raw, err := json.Marshal(params[i])
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

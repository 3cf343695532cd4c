// Package server is a reference remote for the replica: a small REST API
// over the sqlite block store plus a websocket push channel.
//
// The server owns versioning. Every accepted write is stamped with a
// version strictly greater than anything it has seen, so a block echoed
// back over the push channel always supersedes the optimistic copy the
// writing client already holds.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/store"
	"github.com/roach88/boardreplica/internal/wire"
)

// UserHeader carries the id of the user making a request.
const UserHeader = "X-User-ID"

// maxBodyBytes bounds a POSTed batch.
const maxBodyBytes = 4 << 20

// Server serves blocks of every workspace in one store.
//
// Thread-safety: Server is safe for concurrent use. Writes are stamped,
// committed and broadcast under one lock, so versions reach the database
// and the push channel in increasing order and a client that has seen
// version v can catch up with ?since=v.
type Server struct {
	store  *store.Store
	codec  *wire.Codec
	clock  *block.Clock
	hub    *hub
	logger *slog.Logger

	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock sets the clock used to stamp accepted writes.
func WithClock(c *block.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// New creates a server over st.
func New(st *store.Store, codec *wire.Codec, opts ...Option) *Server {
	s := &Server{
		store:  st,
		codec:  codec,
		clock:  block.NewClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s.logger)
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	api := r.PathPrefix("/api/v1/workspaces/{workspaceID}").Subrouter()
	api.Methods(http.MethodGet).Path("/blocks").HandlerFunc(s.handleGetBlocks)
	api.Methods(http.MethodPost).Path("/blocks").HandlerFunc(s.handlePostBlocks)
	api.Methods(http.MethodDelete).Path("/blocks/{blockID}").HandlerFunc(s.handleDeleteBlock)
	api.Methods(http.MethodGet).Path("/blocks/{blockID}/history").HandlerFunc(s.handleGetHistory)

	r.Methods(http.MethodGet).Path("/ws/onchange").HandlerFunc(s.hub.serve)
	return r
}

// Close disconnects all push channel clients.
func (s *Server) Close() {
	s.hub.close()
}

// Prime makes the stamp clock aware of every version already stored, so a
// restarted server never issues a version older than one it handed out.
func (s *Server) Prime(ctx context.Context, workspaceIDs ...string) error {
	for _, ws := range workspaceIDs {
		v, err := s.store.MaxUpdateAt(ctx, ws)
		if err != nil {
			return fmt.Errorf("prime clock: %w", err)
		}
		s.clock.Observe(v)
	}
	return nil
}

// Followers returns how many push channel clients follow rootID.
func (s *Server) Followers(rootID string) int {
	return s.hub.followers(rootID)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

// GET /api/v1/workspaces/{workspaceID}/blocks?root_id=a&root_id=b[&since=v]
//
// An empty root_id selects root-level blocks. With since, only blocks
// written after version since are returned, oldest first, and root_id
// becomes optional. Without since at least one root_id is required.
func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["workspaceID"]
	query := r.URL.Query()
	roots := query["root_id"]

	var (
		blocks []block.Block
		err    error
	)
	if query.Has("since") {
		since, perr := strconv.ParseInt(query.Get("since"), 10, 64)
		if perr != nil || since < 0 {
			errorResponse(w, http.StatusBadRequest, "since must be a non-negative version")
			return
		}
		blocks, err = s.store.ListModifiedSince(r.Context(), ws, since)
		if err == nil && len(roots) > 0 {
			blocks = slices.DeleteFunc(blocks, func(b block.Block) bool { return !underRoots(b, roots) })
		}
	} else {
		if len(roots) == 0 {
			errorResponse(w, http.StatusBadRequest, "root_id is required")
			return
		}
		blocks, err = s.store.ListByRoots(r.Context(), ws, roots)
	}
	if err != nil {
		s.logger.Error("list blocks failed", "workspace_id", ws, "error", err)
		errorResponse(w, http.StatusInternalServerError, "list blocks failed")
		return
	}
	data, err := s.codec.EncodeBatch(blocks)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonBytesResponse(w, http.StatusOK, data)
}

// underRoots matches ListByRoots: the empty root id selects root-level
// blocks.
func underRoots(b block.Block, roots []string) bool {
	if slices.Contains(roots, b.RootID) {
		return true
	}
	return b.IsRoot() && slices.Contains(roots, "")
}

// GET /api/v1/workspaces/{workspaceID}/blocks/{blockID}/history
//
// Every accepted version of one block, oldest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ws, id := vars["workspaceID"], vars["blockID"]

	versions, err := s.store.History(r.Context(), ws, id)
	if err != nil {
		s.logger.Error("block history failed", "workspace_id", ws, "block_id", id, "error", err)
		errorResponse(w, http.StatusInternalServerError, "block history failed")
		return
	}
	if len(versions) == 0 {
		errorResponse(w, http.StatusNotFound, "block not found")
		return
	}
	data, err := s.codec.EncodeBatch(versions)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonBytesResponse(w, http.StatusOK, data)
}

// POST /api/v1/workspaces/{workspaceID}/blocks
//
// Body is a JSON array of wire blocks. Each block is stamped with a fresh
// version; the response holds the stamped blocks.
func (s *Server) handlePostBlocks(w http.ResponseWriter, r *http.Request) {
	ws := mux.Vars(r)["workspaceID"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		errorResponse(w, http.StatusBadRequest, "read body failed")
		return
	}

	blocks, err := s.codec.DecodeBatch(body)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, b := range blocks {
		if b.CreateAt <= 0 {
			errorResponse(w, http.StatusBadRequest, fmt.Sprintf("block %s: invalid createAt", b.ID))
			return
		}
		if b.UpdateAt <= 0 {
			errorResponse(w, http.StatusBadRequest, fmt.Sprintf("block %s: invalid updateAt", b.ID))
			return
		}
	}

	accepted, err := s.write(r.Context(), ws, r.Header.Get(UserHeader), blocks)
	if err != nil {
		s.logger.Error("insert blocks failed", "workspace_id", ws, "error", err)
		errorResponse(w, http.StatusInternalServerError, "insert blocks failed")
		return
	}
	s.logger.Debug("blocks inserted", "workspace_id", ws, "count", len(accepted))

	data, err := s.codec.EncodeBatch(accepted)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonBytesResponse(w, http.StatusOK, data)
}

// DELETE /api/v1/workspaces/{workspaceID}/blocks/{blockID}
func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ws, id := vars["workspaceID"], vars["blockID"]

	s.writeMu.Lock()
	tomb, err := s.store.Delete(r.Context(), ws, id, s.clock.Next(), r.Header.Get(UserHeader))
	if err == nil {
		s.broadcast([]block.Block{tomb})
	}
	s.writeMu.Unlock()
	if errors.Is(err, store.ErrNotFound) {
		errorResponse(w, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		s.logger.Error("delete block failed", "workspace_id", ws, "block_id", id, "error", err)
		errorResponse(w, http.StatusInternalServerError, "delete block failed")
		return
	}

	s.logger.Debug("block deleted", "workspace_id", ws, "block_id", id)
	jsonBytesResponse(w, http.StatusOK, []byte("{}"))
}

// write stamps, stores and broadcasts blocks, returning the ones the store
// accepted.
func (s *Server) write(ctx context.Context, ws, user string, blocks []block.Block) ([]block.Block, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i := range blocks {
		s.stamp(&blocks[i], ws, user)
	}
	applied, err := s.store.UpsertBatch(ctx, ws, blocks)
	if err != nil {
		return nil, err
	}
	accepted := make([]block.Block, 0, len(blocks))
	for i, b := range blocks {
		if applied[i] {
			accepted = append(accepted, b)
		}
	}
	s.broadcast(accepted)
	return accepted, nil
}

// stamp assigns a version above both the client's and every version the
// server issued before.
func (s *Server) stamp(b *block.Block, ws, user string) {
	s.clock.Observe(b.UpdateAt)
	b.UpdateAt = s.clock.Next()
	if b.IsDeleted() {
		b.DeleteAt = b.UpdateAt
	}
	b.WorkspaceID = ws
	if user != "" {
		b.ModifiedBy = user
	}
}

func (s *Server) broadcast(blocks []block.Block) {
	for _, b := range blocks {
		data, err := s.codec.Encode(b)
		if err != nil {
			s.logger.Error("encode update failed", "block_id", b.ID, "error", err)
			continue
		}
		msg, err := json.Marshal(wire.Update{Action: wire.ActionUpdateBlock, Block: data})
		if err != nil {
			continue
		}
		s.hub.publish(b, msg)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func errorResponse(w http.ResponseWriter, code int, message string) {
	data, _ := json.Marshal(errorBody{Error: message})
	jsonBytesResponse(w, code, data)
}

func jsonBytesResponse(w http.ResponseWriter, code int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

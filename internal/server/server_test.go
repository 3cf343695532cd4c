package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/store"
	"github.com/roach88/boardreplica/internal/testutil"
	"github.com/roach88/boardreplica/internal/wire"
)

func TestMain(m *testing.M) {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
	os.Exit(m.Run())
}

type fixture struct {
	srv   *Server
	http  *httptest.Server
	store *store.Store
	codec *wire.Codec
}

func setup(t *testing.T) *fixture {
	t.Helper()
	codec, err := wire.NewCodec(block.DefaultRegistry())
	require.NoError(t, err)
	st, err := store.Open(filepath.Join(t.TempDir(), "server.db"), codec)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	srv := New(st, codec, WithClock(block.NewClockWith(func() int64 { return 1000 })))
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Close()
		hs.Close()
	})
	return &fixture{srv: srv, http: hs, store: st, codec: codec}
}

func (f *fixture) blocksURL(ws string) string {
	return f.http.URL + "/api/v1/workspaces/" + ws + "/blocks"
}

func (f *fixture) post(t *testing.T, ws string, blocks ...block.Block) *http.Response {
	t.Helper()
	body, err := f.codec.EncodeBatch(blocks)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.blocksURL(ws), bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(UserHeader, "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, ws, query string) []block.Block {
	t.Helper()
	resp, err := http.Get(f.blocksURL(ws) + "?" + query)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	blocks, err := f.codec.DecodeBatch(data)
	require.NoError(t, err)
	return blocks
}

func TestPostBlocks_StampsFreshVersions(t *testing.T) {
	f := setup(t)

	card := testutil.Card("c1", "b1", "First", 10)
	card.UpdateAt = 5000
	resp := f.post(t, "ws1", testutil.Board("b1", "Board"), card)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	stamped, err := f.codec.DecodeBatch(data)
	require.NoError(t, err)
	require.Len(t, stamped, 2)

	assert.Equal(t, int64(1000), stamped[0].UpdateAt)
	assert.Equal(t, int64(5001), stamped[1].UpdateAt, "server version must exceed the client's")
	assert.Equal(t, "u1", stamped[1].ModifiedBy)
	assert.Equal(t, "ws1", stamped[1].WorkspaceID)

	got, err := f.store.Get(context.Background(), "ws1", "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(5001), got.UpdateAt)
}

func TestGetBlocks_ByRoot(t *testing.T) {
	f := setup(t)
	f.post(t, "ws1", testutil.StatusBoard()...)
	f.post(t, "ws1", testutil.Board("b2", "Other"), testutil.Card("x1", "b2", "X", 5))

	roots := f.get(t, "ws1", "root_id=")
	assert.ElementsMatch(t, []string{"b1", "b2"}, ids(roots))

	b1 := f.get(t, "ws1", "root_id=b1")
	assert.ElementsMatch(t, []string{"b1", "v1", "c1", "c2"}, ids(b1))

	both := f.get(t, "ws1", "root_id=b1&root_id=b2")
	assert.Len(t, both, 6)

	assert.Empty(t, f.get(t, "other", "root_id=b1"))
}

func TestGetBlocks_RequiresRoot(t *testing.T) {
	f := setup(t)
	resp, err := http.Get(f.blocksURL("ws1"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetBlocks_Since(t *testing.T) {
	f := setup(t)
	f.post(t, "ws1", testutil.StatusBoard()...)
	mark, err := f.store.MaxUpdateAt(context.Background(), "ws1")
	require.NoError(t, err)

	f.post(t, "ws1", testutil.Board("b2", "Other"), testutil.Card("x1", "b2", "X", 5))
	f.post(t, "ws1", testutil.Card("c3", "b1", "Third", 30))

	since := "since=" + strconv.FormatInt(mark, 10)
	assert.Equal(t, []string{"b2", "x1", "c3"}, ids(f.get(t, "ws1", since)), "oldest first")
	assert.Equal(t, []string{"c3"}, ids(f.get(t, "ws1", since+"&root_id=b1")))
	assert.Equal(t, []string{"b2"}, ids(f.get(t, "ws1", since+"&root_id=")))
	assert.Len(t, f.get(t, "ws1", "since=0"), 7)

	resp, err := http.Get(f.blocksURL("ws1") + "?since=yesterday")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetHistory(t *testing.T) {
	f := setup(t)
	card := testutil.Card("c1", "b1", "First", 10)
	f.post(t, "ws1", card)
	card.Title = "Renamed"
	f.post(t, "ws1", card)

	req, err := http.NewRequest(http.MethodDelete, f.blocksURL("ws1")+"/c1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(f.blocksURL("ws1") + "/c1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	versions, err := f.codec.DecodeBatch(data)
	require.NoError(t, err)

	require.Len(t, versions, 3)
	assert.Equal(t, "First", versions[0].Title)
	assert.Equal(t, "Renamed", versions[1].Title)
	assert.True(t, versions[2].IsDeleted())
	assert.Less(t, versions[0].UpdateAt, versions[1].UpdateAt)
	assert.Less(t, versions[1].UpdateAt, versions[2].UpdateAt)

	missing, err := http.Get(f.blocksURL("ws1") + "/nope/history")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestPostBlocks_Rejects(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"not an array", `{"id":"c1"}`},
		{"unknown type", `[{"id":"x","type":"bogus","createAt":1,"updateAt":1}]`},
		{"missing createAt", `[{"id":"c1","rootId":"b1","parentId":"b1","type":"card","updateAt":1}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(f.blocksURL("ws1"), "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var body errorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.NotEmpty(t, body.Error)
		})
	}

	all, err := f.store.ListModifiedSince(context.Background(), "ws1", 0)
	require.NoError(t, err)
	assert.Empty(t, all, "a rejected batch writes nothing")
}

func TestDeleteBlock(t *testing.T) {
	f := setup(t)
	f.post(t, "ws1", testutil.StatusBoard()...)

	req, err := http.NewRequest(http.MethodDelete, f.blocksURL("ws1")+"/c1", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "u2")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := f.store.Get(context.Background(), "ws1", "c1")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted())
	assert.Equal(t, "u2", got.ModifiedBy)

	req, err = http.NewRequest(http.MethodDelete, f.blocksURL("ws1")+"/missing", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPrime_ObservesStoredVersions(t *testing.T) {
	f := setup(t)
	_, err := f.store.Upsert(context.Background(), "ws1", testutil.Card("c1", "b1", "Old", 9000))
	require.NoError(t, err)

	require.NoError(t, f.srv.Prime(context.Background(), "ws1"))
	assert.Equal(t, int64(9001), f.srv.clock.Next())
}

func (f *fixture) dial(t *testing.T, roots ...string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws/onchange"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(wire.Command{Action: wire.ActionSubscribeBlocks, BlockIDs: roots}))
	require.Eventually(t, func() bool {
		for _, r := range roots {
			if f.srv.Followers(r) == 0 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
	return conn
}

func (f *fixture) readUpdate(t *testing.T, conn *websocket.Conn) block.Block {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var u wire.Update
	require.NoError(t, conn.ReadJSON(&u))
	assert.Equal(t, wire.ActionUpdateBlock, u.Action)
	b, err := f.codec.Decode(u.Block)
	require.NoError(t, err)
	return b
}

func TestPush_DeliversToRootSubscribers(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, "b1")

	f.post(t, "ws1", testutil.Card("x1", "b2", "Elsewhere", 5))
	f.post(t, "ws1", testutil.Card("c1", "b1", "First", 10))

	got := f.readUpdate(t, conn)
	assert.Equal(t, "c1", got.ID, "blocks of unfollowed roots are not pushed")
}

func TestPush_WorkspaceRootGetsBoards(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, "")

	f.post(t, "ws1", testutil.Card("c1", "b1", "First", 10))
	f.post(t, "ws1", testutil.Board("b9", "New board"))

	got := f.readUpdate(t, conn)
	assert.Equal(t, "b9", got.ID)
}

func TestPush_DeleteIsPushed(t *testing.T) {
	f := setup(t)
	f.post(t, "ws1", testutil.StatusBoard()...)
	conn := f.dial(t, "b1")

	req, err := http.NewRequest(http.MethodDelete, f.blocksURL("ws1")+"/c2", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	got := f.readUpdate(t, conn)
	assert.Equal(t, "c2", got.ID)
	assert.True(t, got.IsDeleted())
}

func TestPush_Unsubscribe(t *testing.T) {
	f := setup(t)
	conn := f.dial(t, "b1", "b2")

	require.NoError(t, conn.WriteJSON(wire.Command{Action: wire.ActionUnsubscribeBlocks, BlockIDs: []string{"b1"}}))
	require.Eventually(t, func() bool { return f.srv.Followers("b1") == 0 }, time.Second, 5*time.Millisecond)

	f.post(t, "ws1", testutil.Card("c1", "b1", "First", 10))
	f.post(t, "ws1", testutil.Card("x1", "b2", "Other", 10))

	got := f.readUpdate(t, conn)
	assert.Equal(t, "x1", got.ID)
}

func ids(blocks []block.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.ID
	}
	return out
}

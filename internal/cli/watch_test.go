package cli

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardreplica/internal/block"
	"github.com/roach88/boardreplica/internal/remote"
	"github.com/roach88/boardreplica/internal/testutil"
	"github.com/roach88/boardreplica/internal/wire"
)

type watchFixture struct {
	url    string
	client *remote.Client
}

func newWatchFixture(t *testing.T) *watchFixture {
	t.Helper()
	url := startServe(t, filepath.Join(t.TempDir(), "watch.db"))

	codec, err := wire.NewCodec(block.DefaultRegistry())
	require.NoError(t, err)
	client, err := remote.NewClient(url, "0", codec, remote.WithClientUser("writer"))
	require.NoError(t, err)
	for _, b := range testutil.StatusBoard() {
		require.NoError(t, client.Create(context.Background(), b))
	}
	return &watchFixture{url: url, client: client}
}

// startWatch runs the watch command until the test ends and returns its
// output buffer.
func startWatch(t *testing.T, args ...string) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"watch"}, args...))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("watch did not stop")
		}
	})
	return out
}

func TestWatch_PrintsAndFollowsChanges(t *testing.T) {
	f := newWatchFixture(t)
	out := startWatch(t, "b1", "--server-url", f.url, "--reconnect-interval", "50ms")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "    - First (c1)")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, out.String(), "Board: Board (b1)")

	card := testutil.Card("c3", "b1", "Third", 30, "status", "done")
	require.NoError(t, f.client.Create(context.Background(), card))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "  Done (1)\n    - Third (c3)\n")
	}, 5*time.Second, 20*time.Millisecond)

	board := testutil.StatusBoard()[0]
	require.NoError(t, f.client.Delete(context.Background(), board))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Board b1 is no longer available")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_JSONLines(t *testing.T) {
	f := newWatchFixture(t)
	out := startWatch(t, "b1", "--server-url", f.url, "--format", "json")

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), `"groupById":"status"`)
	}, 5*time.Second, 20*time.Millisecond)

	line, _, _ := strings.Cut(out.String(), "\n")
	assert.True(t, strings.HasPrefix(line, "{"))
	assert.Contains(t, line, `"id":"b1"`)
}

func TestWatch_InvalidServerURL(t *testing.T) {
	isolate(t)
	_, err := execute(t, "watch", "b1", "--server-url", "ftp://example.com")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCompactInterval(t *testing.T) {
	assert.Equal(t, time.Second, compactInterval(0))
	assert.Equal(t, time.Second, compactInterval(2*time.Second))
	assert.Equal(t, 150*time.Second, compactInterval(10*time.Minute))
}

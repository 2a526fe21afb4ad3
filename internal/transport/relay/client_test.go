package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fogha/raiken-sub000/internal/bridge"
	"github.com/fogha/raiken-sub000/internal/report"
	"github.com/fogha/raiken-sub000/internal/runner"
	"github.com/fogha/raiken-sub000/internal/testfiles"
)

const passingJSON = `{"stats":{"expected":1,"unexpected":0},"duration":42,"suites":[]}`

func newTestHandler(t *testing.T) *bridge.Handler {
	t.Helper()
	root := t.TempDir()

	script := filepath.Join(root, "fake-runner.sh")
	body := "#!/bin/sh\n" +
		"for arg in \"$@\"; do\n" +
		"  if [ \"$arg\" = \"--version\" ]; then echo '1.0.0'; exit 0; fi\n" +
		"done\n" +
		"echo '" + passingJSON + "'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	files := testfiles.NewStore(root, "tests")
	run := runner.New(runner.Options{
		ProjectRoot:      root,
		TestDir:          "tests",
		ReportsDir:       filepath.Join(root, ".raiken", "reports"),
		Bin:              script,
		PreflightTimeout: 2 * time.Second,
		GracePeriod:      time.Second,
		HardTimeout:      10 * time.Second,
	}, files, zerolog.Nop())

	reports := report.NewStore(filepath.Join(root, ".raiken", "reports"))
	assembler := report.NewAssembler(root, reports, nil, report.DefaultCaps(), 4000, zerolog.Nop())

	return bridge.New(files, run, assembler, reports, nil, zerolog.Nop())
}

// relayStub plays the relay side of the socket: it records the query
// string of each connection and hands the upgraded conn to the test.
type relayStub struct {
	t *testing.T

	mu      sync.Mutex
	conns   chan *websocket.Conn
	queries []string
}

func newRelayStub(t *testing.T) (*relayStub, *httptest.Server) {
	stub := &relayStub{t: t, conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.queries = append(stub.queries, r.URL.RawQuery)
		stub.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		stub.conns <- conn
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *relayStub) wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func (s *relayStub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("bridge never connected")
		return nil
	}
}

// call sends one rpc envelope and waits for the reply with the same id,
// discarding keepalive traffic in between.
func call(t *testing.T, conn *websocket.Conn, msg Message) Message {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	return awaitReply(t, conn, msg.ID)
}

func awaitReply(t *testing.T, conn *websocket.Conn, id string) Message {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var reply Message
		require.NoError(t, conn.ReadJSON(&reply))
		if reply.Type == TypePing {
			continue
		}
		if reply.ID == id {
			return reply
		}
	}
}

func resultMap(t *testing.T, msg Message) map[string]any {
	t.Helper()
	raw, err := json.Marshal(msg.Result)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func startClient(t *testing.T, url string, h *bridge.Handler) (*Client, context.CancelFunc) {
	t.Helper()
	client := New(Options{
		URL:            url,
		SessionID:      "sess_test",
		PingInterval:   time.Hour,
		ReconnectDelay: 50 * time.Millisecond,
	}, h, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go client.Run(ctx)
	t.Cleanup(cancel)
	return client, cancel
}

func TestConnectCarriesRoleAndSession(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	stub.mu.Lock()
	query := stub.queries[0]
	stub.mu.Unlock()
	assert.Contains(t, query, "role=bridge")
	assert.Contains(t, query, "session=sess_test")
}

func TestRPCPing(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	reply := call(t, conn, Message{ID: "1", Type: TypeRPC, Method: MethodPing})
	assert.Empty(t, reply.Error)
	assert.Equal(t, true, resultMap(t, reply)["pong"])
}

func TestSaveExecuteOverRelay(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	reply := call(t, conn, Message{
		ID: "save-1", Type: TypeRPC, Method: MethodSaveTest,
		Params: json.RawMessage(`{"content":"test('x', async () => {})","filename":"remote"}`),
	})
	require.Empty(t, reply.Error)
	saved := resultMap(t, reply)
	assert.Equal(t, true, saved["success"])
	path := saved["path"].(string)
	require.NotEmpty(t, path)

	reply = call(t, conn, Message{
		ID: "exec-1", Type: TypeRPC, Method: MethodExecuteTest,
		Params: json.RawMessage(`{"testPath":"` + path + `","config":{"browserType":"chromium"}}`),
	})
	require.Empty(t, reply.Error)
	executed := resultMap(t, reply)
	assert.Equal(t, true, executed["success"])
	assert.NotEmpty(t, executed["reportId"])

	reply = call(t, conn, Message{ID: "reports-1", Type: TypeRPC, Method: MethodGetReports})
	require.Empty(t, reply.Error)
	reports := resultMap(t, reply)["reports"].([]any)
	assert.Len(t, reports, 1)
}

func TestUnknownMethodKeepsConnectionAlive(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	reply := call(t, conn, Message{ID: "bad-1", Type: TypeRPC, Method: "selfDestruct"})
	assert.Contains(t, reply.Error, "unknown method")

	// The same connection still answers.
	reply = call(t, conn, Message{ID: "ok-1", Type: TypeRPC, Method: MethodPing})
	assert.Empty(t, reply.Error)
}

func TestAnswersServerPingWithPong(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(Message{ID: "ping-7", Type: TypePing}))
	reply := awaitReply(t, conn, "ping-7")
	assert.Equal(t, TypePong, reply.Type)
}

func TestReconnectsAfterServerClose(t *testing.T) {
	stub, srv := newRelayStub(t)
	startClient(t, stub.wsURL(srv), newTestHandler(t))

	first := stub.accept(t)
	first.Close()

	second := stub.accept(t)
	defer second.Close()

	reply := call(t, second, Message{ID: "again", Type: TypeRPC, Method: MethodPing})
	assert.Empty(t, reply.Error)
}

func TestNotifyPushesEnvelope(t *testing.T) {
	stub, srv := newRelayStub(t)
	client, _ := startClient(t, stub.wsURL(srv), newTestHandler(t))

	conn := stub.accept(t)
	defer conn.Close()

	// Wait until the client's write path is wired before pushing.
	reply := call(t, conn, Message{ID: "warm", Type: TypeRPC, Method: MethodPing})
	require.Empty(t, reply.Error)

	client.Notify(MethodFilesChanged, map[string]any{"dir": "tests"})

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Method == MethodFilesChanged {
			var params map[string]any
			require.NoError(t, json.Unmarshal(msg.Params, &params))
			assert.Equal(t, "tests", params["dir"])
			return
		}
	}
}

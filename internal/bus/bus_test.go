package bus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orchestra-dev/orchestra/internal/bus"
	"github.com/orchestra-dev/orchestra/internal/engine"
	"github.com/orchestra-dev/orchestra/internal/registry"
	"github.com/orchestra-dev/orchestra/internal/store"
	"github.com/orchestra-dev/orchestra/internal/workflow"
)

func newTestBus(t *testing.T) (*bus.Bus, *engine.Engine) {
	t.Helper()
	root := t.TempDir()

	fileStore := store.New(root)
	require.NoError(t, fileStore.Ensure())

	def, err := workflow.ParseYAML([]byte(`
name: review
states:
  - name: REVIEW
    assign: reviewer
    gate:
      options: [approved]
    transitions:
      approved: DONE
  - name: DONE
    type: terminal
    result: success
roles:
  reviewer:
    agent: claude
`))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Put(def))

	e := engine.New(fileStore, reg, nil)
	b, err := bus.New(root, e, bus.WithDefinitions(reg), bus.WithInboxTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return b, e
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func getJSON(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestSendMessage_DeliveredToInbox(t *testing.T) {
	b, _ := newTestBus(t)
	h := b.Handler()

	rec := postJSON(t, h, "/messages", map[string]interface{}{
		"from": "agent-a", "to": "agent-b", "type": "ping", "payload": map[string]string{"x": "1"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var sendResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sendResp))
	require.NotEmpty(t, sendResp["id"])

	inboxRec := getJSON(t, h, "/inbox/agent-b")
	require.Equal(t, http.StatusOK, inboxRec.Code)

	var messages []workflow.Message
	require.NoError(t, json.Unmarshal(inboxRec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "ping", messages[0].Type)
	assert.Equal(t, sendResp["id"], messages[0].ID)
}

func TestInbox_TimesOutEmpty(t *testing.T) {
	b, _ := newTestBus(t)
	h := b.Handler()

	start := time.Now()
	rec := getJSON(t, h, "/inbox/nobody-waiting")
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, rec.Code)
	var messages []workflow.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &messages))
	assert.Empty(t, messages)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestAck_RemovesMessageFromInbox(t *testing.T) {
	b, _ := newTestBus(t)
	h := b.Handler()

	sendRec := postJSON(t, h, "/messages", map[string]interface{}{
		"from": "agent-a", "to": "agent-c", "type": "task", "requires_ack": true,
	})
	var sendResp map[string]string
	require.NoError(t, json.Unmarshal(sendRec.Body.Bytes(), &sendResp))

	first := getJSON(t, h, "/inbox/agent-c")
	var messages []workflow.Message
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &messages))
	require.Len(t, messages, 1, "requires_ack message stays queued after a read")

	ackRec := postJSON(t, h, "/ack", map[string]string{"id": sendResp["id"]})
	require.Equal(t, http.StatusOK, ackRec.Code)

	ackAgainRec := postJSON(t, h, "/ack", map[string]string{"id": sendResp["id"]})
	assert.Equal(t, http.StatusNotFound, ackAgainRec.Code)
}

func TestNoAckMessage_RemovedOnFirstRead(t *testing.T) {
	b, _ := newTestBus(t)
	h := b.Handler()

	postJSON(t, h, "/messages", map[string]interface{}{
		"from": "agent-a", "to": "agent-d", "type": "fyi",
	})

	first := getJSON(t, h, "/inbox/agent-d")
	var firstMessages []workflow.Message
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstMessages))
	require.Len(t, firstMessages, 1)

	second := getJSON(t, h, "/inbox/agent-d")
	var secondMessages []workflow.Message
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondMessages))
	assert.Empty(t, secondMessages)
}

func TestNoAckMessage_NotReplayedAfterRestart(t *testing.T) {
	root := t.TempDir()
	fileStore := store.New(root)
	require.NoError(t, fileStore.Ensure())
	reg := registry.New()
	e := engine.New(fileStore, reg, nil)

	b1, err := bus.New(root, e)
	require.NoError(t, err)

	postJSON(t, b1.Handler(), "/messages", map[string]interface{}{
		"from": "agent-a", "to": "agent-f", "type": "fyi",
	})

	first := getJSON(t, b1.Handler(), "/inbox/agent-f")
	var firstMessages []workflow.Message
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstMessages))
	require.Len(t, firstMessages, 1, "no-ack message delivered on first read")

	require.NoError(t, b1.Close())

	b2, err := bus.New(root, e, bus.WithInboxTimeout(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close() })

	second := getJSON(t, b2.Handler(), "/inbox/agent-f")
	var secondMessages []workflow.Message
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondMessages))
	assert.Empty(t, secondMessages, "a crash before compact must not resurrect an already-delivered no-ack message")
}

func TestHeartbeat_SurfacedInStatus(t *testing.T) {
	b, e := newTestBus(t)
	h := b.Handler()

	st, err := e.Start("review", nil)
	require.NoError(t, err)

	heartbeatRec := postJSON(t, h, "/heartbeat/"+st.WorkflowID+"-reviewer", nil)
	require.Equal(t, http.StatusOK, heartbeatRec.Code)

	statusRec := getJSON(t, h, "/status")
	require.Equal(t, http.StatusOK, statusRec.Code)

	var statusResp struct {
		Workflows []struct {
			WorkflowID    string     `json:"workflow_id"`
			LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
		} `json:"workflows"`
	}
	require.NoError(t, json.Unmarshal(statusRec.Body.Bytes(), &statusResp))

	require.Len(t, statusResp.Workflows, 1)
	assert.Equal(t, st.WorkflowID, statusResp.Workflows[0].WorkflowID)
	require.NotNil(t, statusResp.Workflows[0].LastHeartbeat)
}

func TestGetWorkflow_UnknownReturnsErrorBody(t *testing.T) {
	b, _ := newTestBus(t)
	h := b.Handler()

	rec := getJSON(t, h, "/workflow/does-not-exist")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unknown_workflow", body["error"])
}

func TestSubmitEvidence_AdvancesThroughBus(t *testing.T) {
	b, e := newTestBus(t)
	h := b.Handler()

	st, err := e.Start("review", nil)
	require.NoError(t, err)

	rec := postJSON(t, h, "/evidence/"+st.WorkflowID, map[string]interface{}{
		"state": "REVIEW", "result": "approved", "evidence": map[string]interface{}{},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome engine.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.Equal(t, "advanced", outcome.Status)
	assert.Equal(t, "DONE", outcome.To)
}

func TestWAL_ReplaysPendingMessagesAcrossRestart(t *testing.T) {
	root := t.TempDir()
	fileStore := store.New(root)
	require.NoError(t, fileStore.Ensure())
	reg := registry.New()
	e := engine.New(fileStore, reg, nil)

	b1, err := bus.New(root, e)
	require.NoError(t, err)

	rec := postJSON(t, b1.Handler(), "/messages", map[string]interface{}{
		"from": "agent-a", "to": "agent-e", "type": "task", "requires_ack": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, b1.Close())

	b2, err := bus.New(root, e)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b2.Close() })

	inboxRec := getJSON(t, b2.Handler(), "/inbox/agent-e")
	var messages []workflow.Message
	require.NoError(t, json.Unmarshal(inboxRec.Body.Bytes(), &messages))
	require.Len(t, messages, 1)
	assert.Equal(t, "task", messages[0].Type)
}

func TestServe_OverUnixSocket(t *testing.T) {
	b, _ := newTestBus(t)
	socketPath := filepath.Join(t.TempDir(), "bus.sock")

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- b.Serve(ctx, socketPath) }()

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
		Timeout: 2 * time.Second,
	}

	require.Eventually(t, func() bool {
		resp, err := client.Get("http://unix/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-serveErr)
}

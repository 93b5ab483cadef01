package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	method string
	path   string
	query  string
	body   map[string]any
}

// fakeAPI отвечает фиксированным ответом и запоминает запрос.
func fakeAPI(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.method = r.Method
		captured.path = r.URL.Path
		captured.query = r.URL.RawQuery

		b, _ := io.ReadAll(r.Body)
		if len(b) > 0 {
			_ = json.Unmarshal(b, &captured.body)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)

	return srv, captured
}

func runCmd(t *testing.T, srvURL string, jsonMode bool, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer

	clientFn := func() *Client { return NewClient(srvURL) }
	outputFn := func() *Output { return NewOutputTo(jsonMode, &stdout, &stderr) }

	root := NewRecordCmd(clientFn, outputFn)
	if args[0] == "queue" {
		root = NewQueueCmd(clientFn, outputFn)
	}
	root.SetArgs(args[1:])
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

const recordJSON = `{"id":"7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10","owning_user_id":"u-1","target_account_id":"acct-1",
"scheduled_at":"2026-05-10T10:00:00Z","content":{"channel":"story"},"status":"pending","job_generation":42,
"live_jobs":["post:7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10:42"]}`

func TestClient_CreateRecord(t *testing.T) {
	srv, captured := fakeAPI(t, http.StatusCreated, `{"data":`+recordJSON+`}`)
	client := NewClient(srv.URL)

	at := time.Date(2026, 5, 10, 10, 0, 0, 0, time.UTC)
	rec, err := client.CreateRecord(CreateRecordRequest{
		OwningUserID:    "u-1",
		TargetAccountID: "acct-1",
		ScheduledAt:     at,
		Content:         ContentDescriptor{Channel: "story"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/api/v1/records", captured.path)
	assert.Equal(t, "2026-05-10T10:00:00Z", captured.body["scheduled_at"])
	assert.Equal(t, "pending", rec.Status)
	assert.Equal(t, int64(42), rec.JobGeneration)
}

func TestClient_APIError(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusServiceUnavailable,
		`{"error":{"code":"BROKER_UNAVAILABLE","message":"scheduling is temporarily unavailable"}}`)
	client := NewClient(srv.URL)

	_, err := client.QueueStats()
	require.Error(t, err)
	assert.True(t, IsAPIErrorCode(err, "BROKER_UNAVAILABLE"))
	assert.Contains(t, err.Error(), "temporarily unavailable")
}

func TestClient_APIErrorWithoutBody(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusBadGateway, `upstream down`)
	client := NewClient(srv.URL)

	err := client.DeleteRecord("x")
	require.Error(t, err)
	assert.Equal(t, "API error: HTTP 502", err.Error())
}

func TestClient_ListRecordsQuery(t *testing.T) {
	srv, captured := fakeAPI(t, http.StatusOK, `{"data":[`+recordJSON+`],"total":1}`)
	client := NewClient(srv.URL)

	records, err := client.ListRecords(ListRecordsOpts{UserID: "u-1", Status: "pending", Limit: 10})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "limit=10&status=pending&user_id=u-1", captured.query)
}

func TestRecordShowCmd_Detail(t *testing.T) {
	srv, captured := fakeAPI(t, http.StatusOK, `{"data":`+recordJSON+`}`)

	stdout, _, err := runCmd(t, srv.URL, false, "record", "show", "7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/records/7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10", captured.path)
	assert.Contains(t, stdout, "Live jobs:")
	assert.Contains(t, stdout, "post:7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10:42")
	assert.NotContains(t, stdout, "Fired at:")
}

func TestRecordCreateCmd_JSON(t *testing.T) {
	srv, captured := fakeAPI(t, http.StatusCreated, `{"data":`+recordJSON+`}`)

	stdout, stderr, err := runCmd(t, srv.URL, true, "record", "create",
		"--user", "u-1", "--account", "acct-1", "--at", "2026-05-10T10:00:00Z",
		"--channel", "story", "--media", "image=https://cdn.example.com/a.jpg")
	require.NoError(t, err)

	assert.Contains(t, stderr, "Post scheduled")

	var out RecordResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "acct-1", out.TargetAccountID)

	content := captured.body["content"].(map[string]any)
	media := content["media"].([]any)
	require.Len(t, media, 1)
	assert.Equal(t, "image", media[0].(map[string]any)["kind"])
}

func TestRecordRescheduleCmd_RequiresAt(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusOK, `{"data":`+recordJSON+`}`)

	_, _, err := runCmd(t, srv.URL, false, "record", "reschedule", "some-id")
	require.Error(t, err)
}

func TestQueueRedriveCmd(t *testing.T) {
	srv, captured := fakeAPI(t, http.StatusNoContent, ``)

	_, stderr, err := runCmd(t, srv.URL, false, "queue", "redrive", "post:7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10:42")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, captured.method)
	assert.Equal(t, "/api/v1/queue/dead/post:7d6f3a52-1b0e-4c4b-9a57-0c2f4f7f6a10:42/redrive", captured.path)
	assert.Contains(t, stderr, "redriven")
}

func TestParseScheduledAt(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 0, 0, 500, time.UTC)

	got, err := parseScheduledAt("+90m", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 10, 10, 30, 0, 0, time.UTC), got)

	got, err = parseScheduledAt("2026-05-11T12:00:00+03:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 11, 9, 0, 0, 0, time.UTC), got)

	_, err = parseScheduledAt("tomorrow", now)
	assert.Error(t, err)

	_, err = parseScheduledAt("+soon", now)
	assert.Error(t, err)
}

func TestParseMedia(t *testing.T) {
	refs, err := parseMedia([]string{"https://cdn.example.com/a.jpg", "video=https://cdn.example.com/b.mp4"})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, MediaRef{URL: "https://cdn.example.com/a.jpg"}, refs[0])
	assert.Equal(t, MediaRef{URL: "https://cdn.example.com/b.mp4", Kind: "video"}, refs[1])

	_, err = parseMedia([]string{"image="})
	assert.Error(t, err)
}

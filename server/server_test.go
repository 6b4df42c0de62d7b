package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/quizpack/internal/models"
	"github.com/xhad/quizpack/internal/types"
	"github.com/xhad/quizpack/pkg/llm"
	"github.com/xhad/quizpack/pkg/metrics"
	"github.com/xhad/quizpack/pkg/packager"
	"github.com/xhad/quizpack/pkg/prompt"
	"github.com/xhad/quizpack/pkg/roster"
	"github.com/xhad/quizpack/pkg/testsupport"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, mock *llm.MockGenerator) (*Server, *httptest.Server) {
	t.Helper()

	builder, err := prompt.NewBuilder("en")
	require.NoError(t, err)

	s, err := New(Config{
		Layout: roster.DefaultLayout(),
		NewGenerator: func(string) (types.Generator, error) {
			return mock, nil
		},
		Builder: builder,
		WorkDir: t.TempDir(),
		Lang:    "en",
		Metrics: metrics.New(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func uploadForm(t *testing.T, fields map[string]string, workbook []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if workbook != nil {
		part, err := w.CreateFormFile("file", "roster.xlsx")
		require.NoError(t, err)
		_, err = part.Write(workbook)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func createRun(t *testing.T, ts *httptest.Server, fields map[string]string, workbook []byte) (*http.Response, map[string]interface{}) {
	t.Helper()

	body, contentType := uploadForm(t, fields, workbook)
	resp, err := http.Post(ts.URL+"/api/runs", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func readMessages(t *testing.T, ts *httptest.Server, id string) []Message {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/runs/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var msgs []Message
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		msgs = append(msgs, msg)
		if msg.Type == "done" || msg.Type == "error" {
			break
		}
	}
	return msgs
}

func TestHealthAndIndex(t *testing.T) {
	_, ts := newTestServer(t, llm.NewMockGenerator())

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
}

func TestRunLifecycle(t *testing.T) {
	mock := llm.NewMockGenerator(
		llm.MockReply{Text: "<p>questions for Ali</p>"},
		llm.MockReply{Text: "<p>questions for Sara</p>"},
	)
	s, ts := newTestServer(t, mock)

	workbook := testsupport.Workbook(t, testsupport.Fractions(), []models.StudentRecord{
		{FullName: "Ali", AverageScore: 14},
		{FullName: "Sara", AverageScore: 18.5},
	})

	resp, out := createRun(t, ts, map[string]string{"token": "secret", "temperature": "0.7"}, workbook)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	assert.Equal(t, "configured", out["state"])
	assert.Equal(t, float64(2), out["students"])
	id := out["id"].(string)

	msgs := readMessages(t, ts, id)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "status", msgs[0].Type)
	last := msgs[len(msgs)-1]
	require.Equal(t, "done", last.Type, last.Content)
	assert.Equal(t, packager.DefaultArchiveName, last.Content)

	var progress int
	for _, m := range msgs {
		if m.Type == "progress" {
			progress++
		}
	}
	assert.Equal(t, 2, progress)
	assert.Equal(t, 2, mock.CallCount())
	for _, call := range mock.Calls {
		assert.InDelta(t, 0.7, call.Temperature, 1e-9)
	}

	sess, ok := s.lookup(id)
	require.True(t, ok)
	files := sess.run.Files()
	require.Len(t, files, 2)

	archiveResp, err := http.Get(ts.URL + "/api/runs/" + id + "/archive")
	require.NoError(t, err)
	defer archiveResp.Body.Close()
	require.Equal(t, http.StatusOK, archiveResp.StatusCode)
	assert.Equal(t, "application/zip", archiveResp.Header.Get("Content-Type"))
	assert.Contains(t, archiveResp.Header.Get("Content-Disposition"), packager.DefaultArchiveName)

	data := new(bytes.Buffer)
	_, err = data.ReadFrom(archiveResp.Body)
	require.NoError(t, err)
	entries, err := packager.Extract(data.Bytes())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Contains(t, entries, "Ali.html")
	assert.Contains(t, entries, "Sara.html")

	for _, f := range files {
		_, err := os.Stat(f)
		assert.True(t, os.IsNotExist(err), f)
	}

	_, ok = s.lookup(id)
	assert.False(t, ok)

	gone, err := http.Get(ts.URL + "/api/runs/" + id)
	require.NoError(t, err)
	gone.Body.Close()
	assert.Equal(t, http.StatusNotFound, gone.StatusCode)
}

func TestRunFailureReported(t *testing.T) {
	mock := llm.NewMockGenerator(
		llm.MockReply{Text: "<p>ok</p>"},
		llm.MockReply{Err: &llm.GenerationError{Kind: llm.KindRateLimit, Err: assert.AnError}},
	)
	_, ts := newTestServer(t, mock)

	workbook := testsupport.Workbook(t, testsupport.Fractions(), []models.StudentRecord{
		{FullName: "Ali", AverageScore: 14},
		{FullName: "Sara", AverageScore: 18},
	})
	resp, out := createRun(t, ts, map[string]string{"token": "secret"}, workbook)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	id := out["id"].(string)

	msgs := readMessages(t, ts, id)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "error", msgs[len(msgs)-1].Type)

	status, err := http.Get(ts.URL + "/api/runs/" + id)
	require.NoError(t, err)
	defer status.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(status.Body).Decode(&body))
	assert.Equal(t, "failed", body["state"])
	assert.Contains(t, body["error"], "Sara")

	archiveResp, err := http.Get(ts.URL + "/api/runs/" + id + "/archive")
	require.NoError(t, err)
	archiveResp.Body.Close()
	assert.Equal(t, http.StatusConflict, archiveResp.StatusCode)
}

func TestCreateRunValidation(t *testing.T) {
	_, ts := newTestServer(t, llm.NewMockGenerator())
	workbook := testsupport.Workbook(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})

	tests := []struct {
		name     string
		fields   map[string]string
		workbook []byte
	}{
		{name: "missing token", fields: map[string]string{"temperature": "0.5"}, workbook: workbook},
		{name: "temperature too high", fields: map[string]string{"token": "x", "temperature": "1.5"}, workbook: workbook},
		{name: "temperature not a number", fields: map[string]string{"token": "x", "temperature": "warm"}, workbook: workbook},
		{name: "missing file", fields: map[string]string{"token": "x"}},
		{name: "not a workbook", fields: map[string]string{"token": "x"}, workbook: []byte("hello")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := createRun(t, ts, tt.fields, tt.workbook)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestStreamUnknownRun(t *testing.T) {
	_, ts := newTestServer(t, llm.NewMockGenerator())

	resp, err := http.Get(ts.URL + "/api/runs/nope/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, llm.NewMockGenerator())

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestArchiveDeliveredOnce(t *testing.T) {
	mock := llm.NewMockGenerator(llm.MockReply{Text: "<p>questions for Ali</p>"})
	_, ts := newTestServer(t, mock)

	workbook := testsupport.Workbook(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})
	resp, out := createRun(t, ts, map[string]string{"token": "secret"}, workbook)
	require.Equal(t, http.StatusCreated, resp.StatusCode, out)
	id := out["id"].(string)

	msgs := readMessages(t, ts, id)
	require.Equal(t, "done", msgs[len(msgs)-1].Type)

	const clients = 8
	codes := make([]int, clients)
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := http.Get(ts.URL + "/api/runs/" + id + "/archive")
			if err != nil {
				return
			}
			r.Body.Close()
			codes[i] = r.StatusCode
		}(i)
	}
	wg.Wait()

	var served, missing int
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			served++
		case http.StatusNotFound:
			missing++
		}
	}
	assert.Equal(t, 1, served)
	assert.Equal(t, clients-1, missing)
}

func TestCreateRunWithoutCredential(t *testing.T) {
	builder, err := prompt.NewBuilder("en")
	require.NoError(t, err)

	newServer := func(optional bool) *httptest.Server {
		s, err := New(Config{
			Layout: roster.DefaultLayout(),
			NewGenerator: func(string) (types.Generator, error) {
				return llm.NewMockGenerator(), nil
			},
			Builder:            builder,
			WorkDir:            t.TempDir(),
			CredentialOptional: optional,
		})
		require.NoError(t, err)
		ts := httptest.NewServer(s.Handler())
		t.Cleanup(ts.Close)
		return ts
	}

	workbook := testsupport.Workbook(t, testsupport.Fractions(), []models.StudentRecord{{FullName: "Ali", AverageScore: 14}})

	resp, out := createRun(t, newServer(true), map[string]string{"temperature": "0.5"}, workbook)
	assert.Equal(t, http.StatusCreated, resp.StatusCode, out)

	resp, out = createRun(t, newServer(false), map[string]string{"temperature": "0.5"}, workbook)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, out)
}

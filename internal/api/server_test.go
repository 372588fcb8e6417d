package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"moneywright/internal/config"
	"moneywright/internal/kvstore"
	"moneywright/internal/parsercache"
	"moneywright/internal/pipeline"
	"moneywright/internal/records"
	"moneywright/internal/trials"
)

type stubTrier struct {
	result trials.Result
	err    error
}

func (s *stubTrier) TryVersions(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary) (trials.Result, error) {
	return s.result, s.err
}

type stubGenerator struct {
	set     records.Set
	version int
	err     error
}

func (s *stubGenerator) Generate(ctx context.Context, key, documentText string, mode records.ParsingMode, expected *records.ExpectedSummary, priorFailures []string) (records.Set, int, error) {
	return s.set, s.version, s.err
}

func newTestServer(t *testing.T, trier pipeline.Trier, gen pipeline.Generator) *fiber.App {
	t.Helper()

	store, err := kvstore.New(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	pool := pipeline.New(config.PipelineConfig{Workers: 1, QueueSize: 4}, trier, gen)
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Close() })

	return NewServer(pool, store).App()
}

func parsedSet() records.Set {
	return records.Set{
		Mode: records.ModeTransaction,
		Transactions: []records.Transaction{
			{Date: "2024-01-05", Description: "COFFEE", Type: "DEBIT", Amount: 4.5},
			{Date: "2024-01-06", Description: "SALARY", Type: "CREDIT", Amount: 5000},
		},
	}
}

func postJSON(t *testing.T, app *fiber.App, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	app := newTestServer(t, &stubTrier{}, &stubGenerator{})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestParseFromCachedVersion(t *testing.T) {
	trier := &stubTrier{result: trials.Result{Success: true, Set: parsedSet(), UsedVersion: 2, TriedVersions: []int{3, 2}}}
	app := newTestServer(t, trier, &stubGenerator{})

	resp := postJSON(t, app, "/api/v1/parse", parseRequest{
		Source:       "HDFC Bank",
		FileType:     "pdf",
		Mode:         "transaction",
		DocumentText: "statement text",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[parseResponse](t, resp)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.JobID)
	assert.Equal(t, 2, body.UsedVersion)
	assert.Equal(t, 2, body.Count)
	assert.False(t, body.FreshlyGenerated)
	assert.Len(t, body.Transactions, 2)
}

func TestParseFallsBackToGeneration(t *testing.T) {
	trier := &stubTrier{result: trials.Result{Success: false, TriedVersions: []int{1}}}
	gen := &stubGenerator{set: parsedSet(), version: 2}
	app := newTestServer(t, trier, gen)

	resp := postJSON(t, app, "/api/v1/parse", parseRequest{
		Source:       "HDFC Bank",
		Mode:         "transaction",
		DocumentText: "statement text",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[parseResponse](t, resp)
	assert.True(t, body.FreshlyGenerated)
	assert.Equal(t, 2, body.UsedVersion)
	assert.Equal(t, []int{1}, body.TriedVersions)
}

func TestParseRejectsBadRequests(t *testing.T) {
	app := newTestServer(t, &stubTrier{}, &stubGenerator{})

	tests := []struct {
		name string
		req  parseRequest
	}{
		{"unknown mode", parseRequest{Source: "x", Mode: "sideways", DocumentText: "doc"}},
		{"missing source", parseRequest{Mode: "transaction", DocumentText: "doc"}},
		{"missing document text", parseRequest{Source: "x", Mode: "transaction"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, app, "/api/v1/parse", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestParseFailedJobReturns422(t *testing.T) {
	trier := &stubTrier{result: trials.Result{Success: false, TriedVersions: []int{2, 1}}}
	gen := &stubGenerator{err: errors.New("response contained no code")}
	app := newTestServer(t, trier, gen)

	resp := postJSON(t, app, "/api/v1/parse", parseRequest{
		Source:       "HDFC Bank",
		Mode:         "transaction",
		DocumentText: "statement text",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.False(t, body.Success)
	assert.Contains(t, body.Error, "generation failed")
}

func TestParseMultipartUpload(t *testing.T) {
	trier := &stubTrier{result: trials.Result{Success: true, Set: parsedSet(), UsedVersion: 1}}
	app := newTestServer(t, trier, &stubGenerator{})

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("source", "HDFC Bank"))
	require.NoError(t, w.WriteField("mode", "transaction"))
	part, err := w.CreateFormFile("file", "statement.csv")
	require.NoError(t, err)
	_, err = io.WriteString(part, "Date,Description,Amount\n2024-01-05,COFFEE,-4.50\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[parseResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, 1, body.UsedVersion)
}

func TestListAndDeleteParsers(t *testing.T) {
	store, err := kvstore.New(filepath.Join(t.TempDir(), "config.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	statements := parsercache.ForMode(store, false)
	_, err = statements.SaveVersion("hdfc_bank:pdf", "code v1", parsercache.Meta{})
	require.NoError(t, err)
	_, err = statements.SaveVersion("hdfc_bank:pdf", "code v2", parsercache.Meta{})
	require.NoError(t, err)

	pool := pipeline.New(config.PipelineConfig{}, &stubTrier{}, &stubGenerator{})
	pool.Start(context.Background())
	t.Cleanup(func() { _ = pool.Close() })
	app := NewServer(pool, store).App()

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/parsers", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	listing := decode[parsersResponse](t, resp)
	require.Len(t, listing.Statements, 1)
	assert.Equal(t, "hdfc_bank:pdf", listing.Statements[0].Key)
	assert.Equal(t, 2, listing.Statements[0].VersionCount)
	assert.Empty(t, listing.Investments)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/parsers/HDFC%20Bank/pdf", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	deleted := decode[map[string]interface{}](t, resp)
	assert.Equal(t, "hdfc_bank:pdf", deleted["key"])
	assert.Equal(t, float64(2), deleted["removed"])

	entries, err := statements.ListVersions("hdfc_bank:pdf")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

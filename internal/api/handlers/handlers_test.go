package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/analyze"
	"github.com/benjamincozon/shoplens/internal/api"
	"github.com/benjamincozon/shoplens/internal/checklist"
	"github.com/benjamincozon/shoplens/internal/config"
	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
	"github.com/benjamincozon/shoplens/internal/pipeline"
	"github.com/benjamincozon/shoplens/internal/scrape"
	"github.com/benjamincozon/shoplens/internal/validate"
)

const listingPage = `<html><head>
<title>スーパーファンデーション SPF50 | MarketPlace</title>
<meta name="keywords" content="ファンデーション,コスメ">
</head><body>
<h1 class="goods-name">スーパーファンデーション SPF50</h1>
<div class="price-box"><strong class="price">1,980円</strong></div>
<dd class="point-info">最大100ポイント</dd>
<div class="goods-description">高品質なファンデーションです。</div>
</body></html>`

type stubFetcher struct{}

func (stubFetcher) Fetch(ctx context.Context, url string) (*scrape.FetchResult, error) {
	return &scrape.FetchResult{Status: 200, Body: listingPage, Source: models.SourceHTMLFetch}, nil
}

func newTestServer(t *testing.T, allowedHosts ...string) (*api.Server, *learn.MemoryStore) {
	t.Helper()
	store := learn.NewMemoryStore(nil, nil)
	log := zerolog.Nop()

	p := pipeline.New(pipeline.Config{Workers: 2}, pipeline.Deps{
		Jobs:     pipeline.NewJobStore(),
		Monitor:  pipeline.NewMonitor(nil, log),
		Store:    store,
		Fetcher:  stubFetcher{},
		Parser:   scrape.NewParser(store, log),
		Analyzer: analyze.NewAnalyzer(log),
		Checker:  checklist.NewEvaluator(log),
		Verifier: validate.NewValidator(store, log),
	}, log)

	cfg := &config.Config{}
	cfg.Server.AllowedOrigins = []string{"*"}
	cfg.Server.AllowedHosts = allowedHosts
	return api.NewServer(cfg, p, store, log), store
}

func do(s *api.Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func submitAndWait(t *testing.T, s *api.Server, url string) string {
	t.Helper()
	rec := do(s, http.MethodPost, "/analyze", fmt.Sprintf(`{"url":%q}`, url))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted struct {
		JobID   string `json:"job_id"`
		Status  string `json:"status"`
		URLKind string `json:"url_kind"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.Equal(t, "queued", accepted.Status)
	require.NotEmpty(t, accepted.JobID)

	require.Eventually(t, func() bool {
		rec := do(s, http.MethodGet, "/analyze/"+accepted.JobID, "")
		var job models.Job
		if err := json.Unmarshal(rec.Body.Bytes(), &job); err != nil {
			return false
		}
		return job.Status == models.JobCompleted || job.Status == models.JobFailed
	}, 10*time.Second, 20*time.Millisecond)
	return accepted.JobID
}

func TestAnalyzeAndPoll(t *testing.T) {
	s, _ := newTestServer(t)

	id := submitAndWait(t, s, "https://www.example.test/g/1093098159")

	rec := do(s, http.MethodGet, "/analyze/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var job models.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.Equal(t, 100, job.Progress.Percent)
	require.NotNil(t, job.Result)
	assert.Equal(t, "1093098159", job.Result.Product.Code)
}

func TestAnalyzeRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/analyze", `{"url":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodPost, "/analyze", `{"url":"not a url"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Valid URL whose kind cannot be detected.
	rec = do(s, http.MethodPost, "/analyze", `{"url":"https://www.example.test/event/sale"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEnforcesAllowedHosts(t *testing.T) {
	s, _ := newTestServer(t, "example.test")

	rec := do(s, http.MethodPost, "/analyze", `{"url":"https://elsewhere.test/g/123"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "target marketplace")

	rec = do(s, http.MethodPost, "/analyze", `{"url":"https://www.example.test/g/123"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestGetJobNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/analyze/unknown-id", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownloadReport(t *testing.T) {
	s, _ := newTestServer(t)
	id := submitAndWait(t, s, "https://www.example.test/g/1234")

	rec := do(s, http.MethodGet, "/analyze/"+id+"/download?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	assert.Contains(t, rec.Body.String(), "リスティング分析レポート")

	// Rendering for pdf/excel lives outside this service.
	rec = do(s, http.MethodGet, "/analyze/"+id+"/download?format=pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDownloadIncompleteJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/analyze", `{"url":"https://www.example.test/g/555"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))

	// The job may still be queued or running; if it already finished the
	// download succeeds, so only assert on the not-completed window.
	dl := do(s, http.MethodGet, "/analyze/"+accepted.JobID+"/download", "")
	if dl.Code != http.StatusOK {
		assert.Equal(t, http.StatusBadRequest, dl.Code)
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := do(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestMonitorEndpoints(t *testing.T) {
	s, _ := newTestServer(t)
	submitAndWait(t, s, "https://www.example.test/g/777")

	rec := do(s, http.MethodGet, "/monitor/success-rates?period=day", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var rates struct {
		Period string                          `json:"period"`
		Stages map[string][]pipeline.Aggregate `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rates))
	require.Contains(t, rates.Stages, pipeline.StageCrawling)
	agg := rates.Stages[pipeline.StageCrawling][0]
	assert.Equal(t, agg.Total, agg.Success+agg.Failure)

	rec = do(s, http.MethodGet, "/monitor/success-rates?period=year", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodGet, "/monitor/stages/"+pipeline.StageCrawling+"?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), pipeline.StageCrawling)
}

func TestReportLifecycle(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	id := submitAndWait(t, s, "https://www.example.test/g/888")

	body := fmt.Sprintf(`{"job_id":%q,"field":"price","detail":"価格が違います"}`, id)
	rec := do(s, http.MethodPost, "/reports", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var filed models.ErrorReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &filed))
	assert.Equal(t, "open", filed.Status)

	// The reported field now leads the priority list.
	fields, err := store.PriorityFields(ctx, 10)
	require.NoError(t, err)
	require.NotEmpty(t, fields)
	assert.Equal(t, "price", fields[0])

	rec = do(s, http.MethodPost, "/reports/"+filed.ID+"/resolve", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Chunks persist after resolution.
	chunks, err := store.ChunksForField(ctx, "price")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)

	rec = do(s, http.MethodPost, "/reports/does-not-exist/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportRequiresCompletedJob(t *testing.T) {
	s, _ := newTestServer(t)

	rec := do(s, http.MethodPost, "/reports", `{"job_id":"missing","field":"price"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(s, http.MethodPost, "/reports", `{"job_id":"","field":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

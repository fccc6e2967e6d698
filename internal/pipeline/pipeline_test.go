package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benjamincozon/shoplens/internal/analyze"
	"github.com/benjamincozon/shoplens/internal/checklist"
	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
	"github.com/benjamincozon/shoplens/internal/scrape"
	"github.com/benjamincozon/shoplens/internal/validate"
)

const listingPage = `<html><head>
<title>スーパーファンデーション SPF50 | MarketPlace</title>
<meta name="keywords" content="ファンデーション,コスメ">
</head><body>
<div class="goods-detail">
  <h1 class="goods-name">スーパーファンデーション SPF50</h1>
  <div class="price-box"><del class="original-price">2,500円</del><strong class="price">1,980円</strong></div>
  <div class="review-summary"><strong class="rating">4.5</strong><span class="review-count">128件</span></div>
  <dd class="shipping-fee">送料無料</dd>
  <dd class="point-info">最大100ポイント</dd>
  <div class="coupon-info">お気に入りクーポン 300円引き</div>
  <div class="goods-description">高品質なファンデーションです。肌に優しい成分を使用しています。
    <img src="/images/detail1.jpg"><img src="/images/detail2.jpg"><img src="/images/detail3.jpg">
  </div>
</div>
</body></html>`

type stubFetcher struct {
	body string
	err  error
}

func (s stubFetcher) Fetch(ctx context.Context, url string) (*scrape.FetchResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scrape.FetchResult{Status: 200, Body: s.body, Source: models.SourceHTMLFetch}, nil
}

func newTestPipeline(t *testing.T, fetcher Fetcher) (*Pipeline, *learn.MemoryStore) {
	t.Helper()
	store := learn.NewMemoryStore(nil, nil)
	log := zerolog.Nop()

	return New(Config{Workers: 4}, Deps{
		Jobs:     NewJobStore(),
		Monitor:  NewMonitor(nil, log),
		Store:    store,
		Fetcher:  fetcher,
		Parser:   scrape.NewParser(store, log),
		Analyzer: analyze.NewAnalyzer(log),
		Checker:  checklist.NewEvaluator(log),
		Verifier: validate.NewValidator(store, log),
	}, log), store
}

func waitTerminal(t *testing.T, p *Pipeline, id string) models.Job {
	t.Helper()
	var job models.Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = p.Jobs().Get(id)
		return ok && (job.Status == models.JobCompleted || job.Status == models.JobFailed)
	}, 10*time.Second, 10*time.Millisecond)
	return job
}

type stubRenderer struct {
	body string
}

func (s stubRenderer) Fetch(ctx context.Context, url string) (*scrape.FetchResult, error) {
	return &scrape.FetchResult{Status: 200, Body: s.body, Source: models.SourceJSRender}, nil
}

func TestPipelineRendererFallbackOnShellPage(t *testing.T) {
	// The plain fetch returns a JS shell that parses to an empty record; the
	// renderer then supplies the hydrated page.
	shell := `<html><body><div id="app"></div></body></html>`

	store := learn.NewMemoryStore(nil, nil)
	log := zerolog.Nop()
	p := New(Config{Workers: 2}, Deps{
		Jobs:     NewJobStore(),
		Monitor:  NewMonitor(nil, log),
		Store:    store,
		Fetcher:  stubFetcher{body: shell},
		Renderer: stubRenderer{body: listingPage},
		Parser:   scrape.NewParser(store, log),
		Analyzer: analyze.NewAnalyzer(log),
		Checker:  checklist.NewEvaluator(log),
		Verifier: validate.NewValidator(store, log),
	}, log)

	job, err := p.Submit("https://www.example.test/g/31337")
	require.NoError(t, err)

	done := waitTerminal(t, p, job.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.Result)
	require.NotNil(t, done.Result.Product)
	assert.Equal(t, "スーパーファンデーション SPF50", done.Result.Product.Name)
	assert.Equal(t, models.SourceJSRender, done.Result.DataSource)
}

func TestPipelineHappyProduct(t *testing.T) {
	p, store := newTestPipeline(t, stubFetcher{body: listingPage})

	job, err := p.Submit("https://www.example.test/g/1093098159")
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, job.Status)
	assert.Equal(t, models.URLKindProduct, job.URLKind)

	done := waitTerminal(t, p, job.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, 100, done.Progress.Percent)
	assert.Nil(t, done.Error)

	require.NotNil(t, done.Result)
	report := done.Result
	require.NotNil(t, report.Product)
	assert.Equal(t, "1093098159", report.Product.Code)
	require.NotNil(t, report.Product.Price.Sale)
	assert.GreaterOrEqual(t, *report.Product.Price.Sale, models.MinValidPrice)
	assert.LessOrEqual(t, *report.Product.Price.Sale, models.MaxValidPrice)

	require.NotNil(t, report.AnalyzerResult)
	assert.GreaterOrEqual(t, report.AnalyzerResult.OverallScore, 0)
	require.NotNil(t, report.ValidationOutcome)
	assert.True(t, report.ValidationOutcome.Valid)
	assert.Equal(t, models.SourceHTMLFetch, report.DataSource)

	// Every stage recorded a success sample.
	for _, stage := range []string{StageCrawling, StageAnalyzing, StageRecommend, StageChecklist, StageValidating, StageFinalizing} {
		rows := p.Monitor().GetStageDetails(stage, 1)
		require.Len(t, rows, 1, stage)
		assert.Equal(t, "success", rows[0].Status, stage)
	}

	// The record was persisted as a side effect.
	rec := store.Record("1093098159")
	require.NotNil(t, rec)
}

func TestPipelineURLNormalizationConverges(t *testing.T) {
	p, _ := newTestPipeline(t, stubFetcher{body: listingPage})

	urls := []string{
		"https://www.example.test/Goods/Goods.aspx?goodscode=1234",
		"https://www.example.test/g/1234",
		"https://www.example.test/item/foo/1234",
	}
	for _, u := range urls {
		job, err := p.Submit(u)
		require.NoError(t, err)
		done := waitTerminal(t, p, job.ID)
		require.Equal(t, models.JobCompleted, done.Status, u)
		assert.Equal(t, "1234", done.Result.Product.Code, u)
		assert.Equal(t, "https://www.example.test/g/1234", done.Result.Product.URL, u)
	}
}

func TestPipelineUnknownKindRejected(t *testing.T) {
	p, _ := newTestPipeline(t, stubFetcher{body: listingPage})

	_, err := p.Submit("https://www.example.test/event/sale")
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestPipelineFetchFailure(t *testing.T) {
	p, _ := newTestPipeline(t, stubFetcher{err: &scrape.FetchError{
		URL:    "https://www.example.test/g/42",
		Status: 429,
	}})

	job, err := p.Submit("https://www.example.test/g/42")
	require.NoError(t, err)

	done := waitTerminal(t, p, job.ID)
	assert.Equal(t, models.JobFailed, done.Status)
	assert.Nil(t, done.Result)
	require.NotNil(t, done.Error)
	assert.Equal(t, "network error", *done.Error)

	rows := p.Monitor().GetStageDetails(StageCrawling, 1)
	require.Len(t, rows, 1)
	assert.Equal(t, "failure", rows[0].Status)
}

func TestPipelineFallbackNameOnPartialCrawl(t *testing.T) {
	bare := `<html><body><strong class="price">1,980円</strong></body></html>`
	p, _ := newTestPipeline(t, stubFetcher{body: bare})

	job, err := p.Submit("https://www.example.test/g/9999")
	require.NoError(t, err)

	done := waitTerminal(t, p, job.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, "商品 9999", done.Result.Product.Name)
}

func TestPipelineShopJob(t *testing.T) {
	shopPage := `<html><body>
<h1 class="shop-name">ビューティーショップ</h1>
<span class="follower-count">2,340</span>
<div class="items"><a href="/g/111">商品A 1,200円</a></div>
</body></html>`
	p, _ := newTestPipeline(t, stubFetcher{body: shopPage})

	job, err := p.Submit("https://www.example.test/shop/beauty-store")
	require.NoError(t, err)

	done := waitTerminal(t, p, job.ID)
	require.Equal(t, models.JobCompleted, done.Status)
	require.NotNil(t, done.Result.Shop)
	assert.Equal(t, "beauty-store", done.Result.Shop.ID)
	assert.Nil(t, done.Result.Product)
}

func TestPipelineMonitorScenario(t *testing.T) {
	good, _ := newTestPipeline(t, stubFetcher{body: listingPage})

	// 8 succeeding jobs, then 2 with a failing fetch, all through the same
	// monitor.
	bad := New(Config{Workers: 4}, Deps{
		Jobs:     good.jobs,
		Monitor:  good.monitor,
		Store:    learn.NewMemoryStore(nil, nil),
		Fetcher:  stubFetcher{err: &scrape.FetchError{Status: 503}},
		Parser:   good.parser,
		Analyzer: good.analyzer,
		Checker:  good.checker,
		Verifier: good.verifier,
	}, zerolog.Nop())

	ids := make([]string, 0, 10)
	for i := 0; i < 8; i++ {
		job, err := good.Submit(fmt.Sprintf("https://www.example.test/g/%d", 1000+i))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for i := 0; i < 2; i++ {
		job, err := bad.Submit(fmt.Sprintf("https://www.example.test/g/%d", 2000+i))
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitTerminal(t, good, id)
	}

	series := good.Monitor().GetSuccessRates(PeriodDay, 1)[StageCrawling]
	require.Len(t, series, 1)
	assert.Equal(t, 10, series[0].Total)
	assert.Equal(t, 8, series[0].Success)
	assert.Equal(t, 2, series[0].Failure)
	assert.InDelta(t, 80.0, series[0].SuccessRate, 1e-9)
}

func TestTranslateError(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&scrape.FetchError{Status: 429}, "network error"},
		{&scrape.FetchError{Err: context.DeadlineExceeded}, "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{&scrape.ExtractionError{URL: "u"}, "could not extract listing data"},
		{ErrUnknownKind, "could not detect URL kind"},
		{fmt.Errorf("boom"), "internal error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, translateError(tc.err))
	}
}

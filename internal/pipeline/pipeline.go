package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/benjamincozon/shoplens/internal/analyze"
	"github.com/benjamincozon/shoplens/internal/checklist"
	"github.com/benjamincozon/shoplens/internal/learn"
	"github.com/benjamincozon/shoplens/internal/models"
	"github.com/benjamincozon/shoplens/internal/recommend"
	"github.com/benjamincozon/shoplens/internal/scrape"
	"github.com/benjamincozon/shoplens/internal/validate"
)

// Stage names, in execution order.
const (
	StageCrawling   = "crawling"
	StageAnalyzing  = "analyzing"
	StageRecommend  = "generating_recommendations"
	StageChecklist  = "evaluating_checklist"
	StageValidating = "validating"
	StageFinalizing = "finalizing"
)

// Progress percent reached after each stage completes.
var stagePercent = map[string]int{
	StageCrawling:   20,
	StageAnalyzing:  50,
	StageRecommend:  60,
	StageChecklist:  75,
	StageValidating: 85,
	StageFinalizing: 100,
}

// ErrUnknownKind rejects URLs whose kind cannot be detected.
var ErrUnknownKind = errors.New("could not detect url kind type")

// Fetcher retrieves one page. Satisfied by scrape.Fetcher and by the
// js-render adapter.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*scrape.FetchResult, error)
}

// HistorySink receives completed jobs for durable history. Optional;
// failures never change job outcome.
type HistorySink interface {
	SaveJobHistory(ctx context.Context, job models.Job) error
}

// Config bounds the pipeline's parallelism and stage deadlines.
type Config struct {
	Workers          int64
	CrawlTimeout     time.Duration
	ChecklistTimeout time.Duration
}

func (c *Config) defaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.CrawlTimeout <= 0 {
		c.CrawlTimeout = 30 * time.Second
	}
	if c.ChecklistTimeout <= 0 {
		c.ChecklistTimeout = 5 * time.Second
	}
}

// Pipeline drives one job through {crawl, analyze, recommend, checklist,
// validate, finalize}. Stages within a job are strictly sequential; jobs run
// in parallel bounded by the worker semaphore.
type Pipeline struct {
	cfg      Config
	jobs     *JobStore
	monitor  *Monitor
	store    learn.Store
	fetcher  Fetcher
	renderer Fetcher // optional js-render fallback
	parser   *scrape.Parser
	analyzer *analyze.Analyzer
	checker  *checklist.Evaluator
	verifier *validate.Validator
	history  HistorySink // optional
	sem      *semaphore.Weighted
	log      zerolog.Logger
}

// Deps wires the pipeline's collaborators. Renderer and History may be nil.
type Deps struct {
	Jobs     *JobStore
	Monitor  *Monitor
	Store    learn.Store
	Fetcher  Fetcher
	Renderer Fetcher
	Parser   *scrape.Parser
	Analyzer *analyze.Analyzer
	Checker  *checklist.Evaluator
	Verifier *validate.Validator
	History  HistorySink
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:      cfg,
		jobs:     deps.Jobs,
		monitor:  deps.Monitor,
		store:    deps.Store,
		fetcher:  deps.Fetcher,
		renderer: deps.Renderer,
		parser:   deps.Parser,
		analyzer: deps.Analyzer,
		checker:  deps.Checker,
		verifier: deps.Verifier,
		history:  deps.History,
		sem:      semaphore.NewWeighted(cfg.Workers),
		log:      log,
	}
}

// Jobs exposes the job store for read access by the HTTP layer.
func (p *Pipeline) Jobs() *JobStore { return p.jobs }

// Monitor exposes the stage monitor for read access by the HTTP layer.
func (p *Pipeline) Monitor() *Monitor { return p.monitor }

// Submit validates the URL kind, enqueues a job and starts its worker.
func (p *Pipeline) Submit(url string) (models.Job, error) {
	kind := scrape.DetectKind(url)
	if kind == models.URLKindUnknown {
		return models.Job{}, ErrUnknownKind
	}

	job := p.jobs.Create(url, kind)
	go p.run(job)
	return job, nil
}

// run executes all stages for one job. It owns every write to the job entry.
func (p *Pipeline) run(job models.Job) {
	ctx := context.Background()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	log := p.log.With().Str("job_id", job.ID).Str("url", job.URL).Logger()
	log.Info().Str("kind", string(job.URLKind)).Msg("job started")

	// crawling
	var (
		product *models.Product
		shop    *models.Shop
		source  models.Source
	)
	err := p.stage(ctx, &job, StageCrawling, "ページを取得しています", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.CrawlTimeout)
		defer cancel()

		res, err := p.fetch(ctx, job.URL)
		if err != nil {
			return err
		}

		parse := func(res *scrape.FetchResult) error {
			source = res.Source
			var perr error
			switch job.URLKind {
			case models.URLKindShop:
				shop, perr = p.parser.ParseShop(ctx, res.Body, job.URL, res.Source)
			default:
				product, perr = p.parser.ParseProduct(ctx, res.Body, job.URL, res.Source)
			}
			return perr
		}
		err = parse(res)

		// A JS shell page fetches fine but parses to nothing; retry through
		// the renderer before settling for a synthesized record.
		if p.renderer != nil && res.Source == models.SourceHTMLFetch &&
			(err != nil || (product != nil && product.Name == "") || (shop != nil && shop.Name == "")) {
			log.Warn().Msg("plain fetch parsed empty, rendering")
			if rendered, rerr := p.renderer.Fetch(ctx, job.URL); rerr == nil {
				prevProduct, prevShop, prevSource := product, shop, source
				if perr := parse(rendered); perr == nil {
					err = nil
				} else {
					product, shop, source = prevProduct, prevShop, prevSource
				}
			}
		}
		if err != nil {
			return err
		}

		if product != nil && product.Name == "" {
			// Partial crawl: keep going with a synthesized name.
			product.Name = "商品 " + product.Code
			log.Warn().Str("code", product.Code).Msg("name missing, synthesized fallback")
		}
		return nil
	})
	if err != nil {
		p.fail(&job, err, log)
		return
	}

	// analyzing
	var analysis *models.AnalyzerResult
	err = p.stage(ctx, &job, StageAnalyzing, "リスティングを採点しています", func(ctx context.Context) error {
		var aerr error
		if shop != nil {
			analysis, aerr = p.analyzer.AnalyzeShop(ctx, shop)
		} else {
			analysis, aerr = p.analyzer.AnalyzeProduct(ctx, product)
		}
		return aerr
	})
	if err != nil {
		p.fail(&job, err, log)
		return
	}

	structure := pageStructure(product, shop)

	// recommending: degrades to an empty list.
	var recs []models.Recommendation
	_ = p.stage(ctx, &job, StageRecommend, "改善提案を作成しています", func(ctx context.Context) error {
		recs = recommend.Recommend(product, analysis, structure)
		return nil
	})
	if recs == nil {
		recs = []models.Recommendation{}
	}

	// checklist: degrades to null; the monitor sees a failure when the stage
	// overran its wall-clock deadline.
	var checkOut *models.ChecklistOutcome
	_ = p.stage(ctx, &job, StageChecklist, "チェックリストを評価しています", func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.cfg.ChecklistTimeout)
		defer cancel()

		start := time.Now()
		checkOut = p.checker.Evaluate(ctx, checklist.Input{
			Product:   product,
			Shop:      shop,
			Analysis:  analysis,
			Structure: structure,
		})
		if time.Since(start) >= p.cfg.ChecklistTimeout {
			return fmt.Errorf("checklist stage exceeded %s deadline", p.cfg.ChecklistTimeout)
		}
		return nil
	})

	// validating: degrades to null.
	var validation *models.ValidationOutcome
	_ = p.stage(ctx, &job, StageValidating, "データを検証しています", func(ctx context.Context) error {
		validation = p.verifier.ValidateProduct(ctx, product, analysis, checkOut)
		return nil
	})

	// finalizing
	err = p.stage(ctx, &job, StageFinalizing, "レポートを作成しています", func(ctx context.Context) error {
		report := &models.Report{
			Product:           product,
			Shop:              shop,
			AnalyzerResult:    analysis,
			Recommendations:   recs,
			ChecklistOutcome:  checkOut,
			ValidationOutcome: validation,
			DataSource:        source,
			GeneratedAt:       time.Now().UTC(),
		}
		if err := p.jobs.SetResult(job.ID, report); err != nil {
			return err
		}
		job.Result = report
		p.sideEffects(ctx, job, product)
		return nil
	})
	if err != nil {
		p.fail(&job, err, log)
		return
	}
	log.Info().Msg("job completed")
}

// fetch tries the HTTP fetcher first and falls back to the js renderer when
// one is configured.
func (p *Pipeline) fetch(ctx context.Context, url string) (*scrape.FetchResult, error) {
	res, err := p.fetcher.Fetch(ctx, url)
	if err != nil && p.renderer != nil {
		p.log.Warn().Err(err).Str("url", url).Msg("plain fetch failed, rendering")
		return p.renderer.Fetch(ctx, url)
	}
	return res, err
}

// stage runs one stage function, times it, records the sample and advances
// progress on success.
func (p *Pipeline) stage(ctx context.Context, job *models.Job, name, message string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	rec := models.StageRecord{
		JobID:      job.ID,
		URL:        job.URL,
		URLKind:    job.URLKind,
		Stage:      name,
		Status:     "success",
		DurationMS: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		rec.Status = "failure"
		rec.Error = err.Error()
	}
	p.monitor.RecordStage(ctx, rec)

	if err == nil {
		if uerr := p.jobs.UpdateProgress(job.ID, name, stagePercent[name], message); uerr != nil {
			p.log.Warn().Err(uerr).Str("job_id", job.ID).Msg("update progress")
		}
		job.Progress = models.Progress{Stage: name, Percent: stagePercent[name], Message: message}
	}
	return err
}

func (p *Pipeline) fail(job *models.Job, cause error, log zerolog.Logger) {
	msg := translateError(cause)
	log.Error().Err(cause).Str("user_error", msg).Msg("job failed")
	if err := p.jobs.SetError(job.ID, msg); err != nil {
		log.Warn().Err(err).Msg("set job error")
	}
}

// sideEffects persists the record and job history. Both are best-effort.
func (p *Pipeline) sideEffects(ctx context.Context, job models.Job, product *models.Product) {
	if product != nil {
		if err := p.store.SaveRecord(ctx, product); err != nil {
			p.log.Warn().Err(err).Str("code", product.Code).Msg("save record")
		}
	}
	if p.history != nil {
		if err := p.history.SaveJobHistory(ctx, job); err != nil {
			p.log.Warn().Err(err).Str("job_id", job.ID).Msg("save job history")
		}
	}
}

// translateError maps an internal failure to a short user-facing message.
func translateError(err error) string {
	var fe *scrape.FetchError
	var ee *scrape.ExtractionError

	cause := strings.ToLower(err.Error())
	switch {
	case errors.As(err, &fe):
		if errors.Is(fe.Err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "network error"
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(cause, "timeout"):
		return "timeout"
	case errors.As(err, &ee):
		return "could not extract listing data"
	case strings.Contains(cause, "detect"), strings.Contains(cause, "type"):
		return "could not detect URL kind"
	}
	return "internal error"
}

func pageStructure(product *models.Product, shop *models.Shop) *models.PageStructure {
	if product != nil {
		return product.PageStructure
	}
	if shop != nil {
		return shop.PageStructure
	}
	return nil
}

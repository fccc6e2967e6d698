package scrape

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"github.com/benjamincozon/shoplens/internal/models"
)

// Renderer drives a headless browser for pages whose content only appears
// after script execution. One isolated browser context per call; everything
// is closed on every exit path.
type Renderer struct {
	log    zerolog.Logger
	settle time.Duration
}

func NewRenderer(log zerolog.Logger) *Renderer {
	return &Renderer{log: log, settle: 2 * time.Second}
}

// Render fetches the final DOM HTML of a JS-rendered page. Same contract as
// Fetcher.Fetch but with Source=js-render.
func (r *Renderer) Render(ctx context.Context, rawURL string) (*FetchResult, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
		)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	start := time.Now()
	var dom string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		// Scroll to the bottom so lazy-loaded blocks attach, then let the
		// network settle before snapshotting.
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &dom),
	)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}

	return &FetchResult{
		Status:    200,
		Body:      dom,
		ElapsedMS: time.Since(start).Milliseconds(),
		Source:    models.SourceJSRender,
	}, nil
}

// Fetch aliases Render so the renderer satisfies the same contract as the
// HTTP fetcher.
func (r *Renderer) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	return r.Render(ctx, rawURL)
}

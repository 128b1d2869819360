package export

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	logx "planboard/pkg/logx"
)

const (
	DefaultCaptureTimeout = 30 * time.Second

	cssPixelsPerInch = 96
)

var ErrEmptySVG = errors.New("export: empty svg")

// Chromium renders SVG documents to PNG or PDF with a headless browser.
// An empty ExecPath lets chromedp find the browser on PATH.
type Chromium struct {
	ExecPath string
	Timeout  time.Duration
	Log      logx.Logger
}

// PNG rasterizes svg in a width x height viewport.
func (c Chromium) PNG(ctx context.Context, svg string, width, height int) ([]byte, error) {
	var png []byte
	err := c.run(ctx, svg, width, height, chromedp.FullScreenshot(&png, 100))
	if err != nil {
		return nil, fmt.Errorf("export png: %w", err)
	}
	return png, nil
}

// PDF prints svg onto a single page sized to the drawing.
func (c Chromium) PDF(ctx context.Context, svg string, width, height int) ([]byte, error) {
	var pdf []byte
	printPDF := chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithPaperWidth(float64(width) / cssPixelsPerInch).
			WithPaperHeight(float64(height) / cssPixelsPerInch).
			WithMarginTop(0).
			WithMarginBottom(0).
			WithMarginLeft(0).
			WithMarginRight(0).
			Do(ctx)
		pdf = buf
		return err
	})
	if err := c.run(ctx, svg, width, height, printPDF); err != nil {
		return nil, fmt.Errorf("export pdf: %w", err)
	}
	return pdf, nil
}

func (c Chromium) run(parent context.Context, svg string, width, height int, capture chromedp.Action) error {
	if svg == "" {
		return ErrEmptySVG
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("export: invalid size %dx%d", width, height)
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}

	opts := chromedp.DefaultExecAllocatorOptions[:]
	if c.ExecPath != "" {
		opts = append(opts[:len(opts):len(opts)], chromedp.ExecPath(c.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, opts...)
	defer cancelAlloc()
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
	defer cancelTimeout()

	doc := `<!DOCTYPE html><html><head><style>html,body{margin:0;padding:0;background:#fff}</style></head><body>` + svg + `</body></html>`
	started := time.Now()
	err := chromedp.Run(ctx,
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, doc).Do(ctx)
		}),
		chromedp.WaitVisible("svg", chromedp.ByQuery),
		capture,
	)
	c.Log.Debug("chromium capture",
		logx.Int("width", width),
		logx.Int("height", height),
		logx.Duration("took", time.Since(started)),
		logx.Bool("ok", err == nil),
	)
	return err
}

// PixelSize rounds an SVG size up to whole pixels.
func PixelSize(width, height float64) (int, int) {
	return int(math.Ceil(width)), int(math.Ceil(height))
}

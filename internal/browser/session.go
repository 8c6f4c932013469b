// Package browser drives the broker portal through a headless Chrome session.
//
// A Session covers one batch: it is opened once, logged in once, pointed at
// the end-of-day download page once and then asked for one file per date.
// Nothing here retries; every failure is returned with the kind of the step
// that failed so the caller can decide whether the batch can go on.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/trogers1052/eod-ingest-service/internal/models"
)

// QueryDateLayout is the date format typed into the portal's date field
const QueryDateLayout = "02012006"

// Portal holds the URLs and element ids of the download flow
type Portal struct {
	LoginURL    string
	DownloadURL string

	UsernameInput string
	PasswordInput string
	LoginButton   string
	// LoginMarker appears on the landing page after a successful login
	LoginMarker string

	SecurityTypeSelect string
	FormatSelect       string
	DateInput          string
	DownloadButton     string

	SecurityType string
	Format       string
}

// DefaultPortal returns the CommSec end-of-day prices layout
func DefaultPortal() Portal {
	return Portal{
		LoginURL:           "https://www2.commsec.com.au/secure/login",
		DownloadURL:        "https://www2.commsec.com.au/Private/Charts/EndOfDayPrices.aspx",
		UsernameInput:      "username",
		PasswordInput:      "password",
		LoginButton:        "login",
		LoginMarker:        "home",
		SecurityTypeSelect: "ctl00_BodyPlaceHolder_EndOfDayPricesView1_ddlAllSecurityType_field",
		FormatSelect:       "ctl00_BodyPlaceHolder_EndOfDayPricesView1_ddlAllFormat_field",
		DateInput:          "ctl00_BodyPlaceHolder_EndOfDayPricesView1_txtAllDate_field",
		DownloadButton:     "ctl00_BodyPlaceHolder_EndOfDayPricesView1_btnAllDownload_implementation_field",
		SecurityType:       "ASX Equities",
		Format:             "Stock Easy",
	}
}

// Options configures a Session
type Options struct {
	DownloadDir string
	Headless    bool
	Portal      Portal
	// MarkerTimeout bounds each wait for a page marker
	MarkerTimeout time.Duration
	// CloseGrace lets in-flight downloads flush before the browser exits
	CloseGrace time.Duration
	// ExecPath overrides Chrome discovery when set
	ExecPath string
	Logger   *slog.Logger
}

// Session is one authenticated browser session
type Session struct {
	opts        Options
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Open starts Chrome with downloads routed to opts.DownloadDir
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.MarkerTimeout <= 0 {
		opts.MarkerTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	// The browser outlives any single request context; it is torn down by Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	s := &Session{
		opts:        opts,
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}

	// The first Run allocates the browser and binds it to the context it is given,
	// so it must be the tab context itself rather than a timeout child.
	err := chromedp.Run(tabCtx)
	if err == nil {
		err = s.run(ctx, opts.MarkerTimeout,
			cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
				WithDownloadPath(opts.DownloadDir).
				WithEventsEnabled(true),
		)
	}
	if err != nil {
		cancelTab()
		cancelAlloc()
		return nil, models.NewError(models.KindSession, "start browser", err)
	}

	logger.Info("Browser session opened",
		slog.String("download_dir", opts.DownloadDir),
		slog.Bool("headless", opts.Headless))
	return s, nil
}

// Login submits the credentials and waits for the landing marker
func (s *Session) Login(ctx context.Context, user, password string) error {
	p := s.opts.Portal
	err := s.run(ctx, s.opts.MarkerTimeout,
		chromedp.Navigate(p.LoginURL),
		chromedp.WaitVisible(p.UsernameInput, chromedp.ByID),
		chromedp.SendKeys(p.UsernameInput, user, chromedp.ByID),
		chromedp.SendKeys(p.PasswordInput, password, chromedp.ByID),
		chromedp.Click(p.LoginButton, chromedp.ByID),
		chromedp.WaitReady(p.LoginMarker, chromedp.ByID),
	)
	if err != nil {
		return models.NewError(s.failureKind(models.KindAuth), "login", err)
	}
	s.logger.Info("Logged in to portal")
	return nil
}

// NavigateToDownloadSurface opens the end-of-day prices page
func (s *Session) NavigateToDownloadSurface(ctx context.Context) error {
	p := s.opts.Portal
	err := s.run(ctx, s.opts.MarkerTimeout,
		chromedp.Navigate(p.DownloadURL),
		chromedp.WaitReady(p.SecurityTypeSelect, chromedp.ByID),
	)
	if err != nil {
		return models.NewError(s.failureKind(models.KindNavigation), "open download page", err)
	}
	return nil
}

// RequestDownload fills the filter form for date and clicks download.
// It returns as soon as the click is dispatched.
func (s *Session) RequestDownload(ctx context.Context, date models.TradingDate) error {
	p := s.opts.Portal
	err := s.run(ctx, s.opts.MarkerTimeout,
		selectByText(p.SecurityTypeSelect, p.SecurityType),
		selectByText(p.FormatSelect, p.Format),
		chromedp.Clear(p.DateInput, chromedp.ByID),
		chromedp.SendKeys(p.DateInput, QueryDate(date), chromedp.ByID),
		chromedp.Click(p.DownloadButton, chromedp.ByID),
	)
	if err != nil {
		return models.NewError(s.failureKind(models.KindDownload), "request "+date.Key(), err)
	}
	return nil
}

// failureKind reports KindSession once the browser itself is gone, since no
// later step on this session can succeed.
func (s *Session) failureKind(kind models.ErrorKind) models.ErrorKind {
	if s.ctx.Err() != nil {
		return models.KindSession
	}
	return kind
}

// Close waits the grace delay and shuts the browser down. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.opts.CloseGrace > 0 {
			time.Sleep(s.opts.CloseGrace)
		}
		if s.ctx != nil {
			s.closeErr = chromedp.Cancel(s.ctx)
		}
		if s.cancelTab != nil {
			s.cancelTab()
		}
		if s.cancelAlloc != nil {
			s.cancelAlloc()
		}
		s.logger.Info("Browser session closed")
	})
	return s.closeErr
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx
func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s: %w", timeout, err)
	}
	return err
}

// QueryDate formats a date the way the portal's date field expects
func QueryDate(date models.TradingDate) string {
	return date.Time().Format(QueryDateLayout)
}

// selectByText picks the option whose label matches text and fires change
func selectByText(selectID, text string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		var ok bool
		if err := chromedp.Evaluate(selectOptionJS(selectID, text), &ok).Do(ctx); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("option %q not found in #%s", text, selectID)
		}
		return nil
	})
}

func selectOptionJS(selectID, text string) string {
	return fmt.Sprintf(`(function(id, text) {
	const el = document.getElementById(id);
	if (!el) return false;
	for (const o of el.options) {
		if (o.text.trim() === text) {
			el.value = o.value;
			el.dispatchEvent(new Event('change', {bubbles: true}));
			return true;
		}
	}
	return false;
})(%q, %q)`, selectID, text)
}

package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// RodConfig configures the headless Chrome used for verification pages.
type RodConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches a
	// local one per session.
	RemoteURL string
	Bin       string
	Headless  bool
	Stealth   bool
}

// RodBrowser launches a fresh Chrome for every session, or, with a RemoteURL,
// opens an incognito context per session on one shared connection.
type RodBrowser struct {
	cfg    RodConfig
	logger *slog.Logger

	mu   sync.Mutex
	root *rod.Browser // shared remote connection, lazily dialed
}

func NewRodBrowser(cfg RodConfig, logger *slog.Logger) *RodBrowser {
	if logger == nil {
		logger = slog.Default()
	}
	return &RodBrowser{cfg: cfg, logger: logger}
}

func (b *RodBrowser) NewSession(ctx context.Context) (Session, error) {
	s := &rodSession{}

	if b.cfg.RemoteURL != "" {
		inc, err := b.incognito()
		if err != nil {
			return nil, fmt.Errorf("browser attach: %w", err)
		}
		s.browser = inc
	} else {
		l := launcher.New().Context(ctx).Headless(b.cfg.Headless)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		l = l.Set("window-size", "1200,1400").
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser launch: %w", err)
		}
		s.launcher = l

		s.browser = rod.New().ControlURL(u)
		if err := s.browser.Connect(); err != nil {
			s.browser = nil
			_ = s.Close()
			return nil, fmt.Errorf("browser connect: %w", err)
		}
		s.owned = true
	}

	var err error
	if b.cfg.Stealth {
		s.page, err = stealth.Page(s.browser)
	} else {
		s.page, err = s.browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("browser open tab: %w", err)
	}
	b.logger.Debug("browser session opened", "remote", b.cfg.RemoteURL != "", "stealth", b.cfg.Stealth)
	return s, nil
}

// incognito opens an isolated context on the shared remote browser. A failed
// call drops the connection so the next session redials.
func (b *RodBrowser) incognito() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.root == nil {
		root := rod.New().ControlURL(b.cfg.RemoteURL)
		if err := root.Connect(); err != nil {
			return nil, err
		}
		b.root = root
	}
	inc, err := b.root.Incognito()
	if err != nil {
		b.root = nil
		return nil, err
	}
	return inc, nil
}

type rodSession struct {
	launcher *launcher.Launcher // nil when attached to a remote browser
	browser  *rod.Browser       // launched browser, or an incognito context of a remote one
	owned    bool               // browser was launched by this session
	page     *rod.Page
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

func (s *rodSession) WaitFor(ctx context.Context, selector string) error {
	_, err := s.page.Context(ctx).Element(selector)
	return err
}

func (s *rodSession) Text(ctx context.Context, selector string) (string, error) {
	el, err := s.page.Context(ctx).Element(selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (s *rodSession) HTML(ctx context.Context) (string, error) {
	return s.page.Context(ctx).HTML()
}

// Close releases the tab, then the incognito context or, for local launches,
// the Chrome process. A shared remote browser is never closed. Safe to call
// more than once.
func (s *rodSession) Close() error {
	var errs []error
	if s.page != nil {
		errs = append(errs, s.page.Close())
		s.page = nil
	}
	if s.browser != nil {
		if s.owned || s.browser.BrowserContextID != "" {
			errs = append(errs, s.browser.Close())
		}
		s.browser = nil
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
		s.launcher = nil
	}
	return errors.Join(errs...)
}

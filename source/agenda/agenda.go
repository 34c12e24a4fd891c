// Package agenda implements the heuristic HTML adapter: it loads a fixed
// list of local agenda pages in a headless browser once per cycle and keeps
// the anchor/heading texts that pass the keyword filter.
package agenda

import (
	"context"
	"net/url"
	"os"
	"os/exec"
	"time"

	"github.com/chromedp/chromedp"

	"citypulse/config"
	"citypulse/models"
	"citypulse/utils"
)

// textNode is one extracted anchor or heading as the browser sees it.
type textNode struct {
	Tag  string `json:"tag"`
	Text string `json:"text"`
	Href string `json:"href"`
}

// Scraper extracts event candidates from the configured source pages.
type Scraper struct {
	sources []string
	filter  *Filter
	timeout time.Duration
	logger  *utils.Logger
}

// New creates a Scraper from the catalog configuration.
func New(cfg config.AgendaConfig, timeout time.Duration, logger *utils.Logger) *Scraper {
	return &Scraper{
		sources: cfg.Sources,
		filter:  NewFilter(cfg.AllowKeywords, cfg.DenyKeywords, cfg.MinTitleLen),
		timeout: timeout,
		logger:  logger,
	}
}

// FetchEvents visits every source page and returns the accepted candidates.
// A page that fails to load contributes zero candidates; the pass is never
// fatal.
func (s *Scraper) FetchEvents(ctx context.Context) []models.RawEvent {
	s.logger.Info("[agenda] Scanning %d source pages", len(s.sources))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if bin := findChromeBinary(); bin != "" {
		opts = append(opts, chromedp.ExecPath(bin))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	// Suppress chromedp log noise
	allocCtx, cancelSilent := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelSilent()

	seen := utils.NewURLSet()
	var events []models.RawEvent

	for _, src := range s.sources {
		nodes, err := s.extractNodes(allocCtx, src)
		if err != nil {
			s.logger.Warn("[agenda] %s failed: %v", src, err)
			continue
		}

		accepted := s.collect(nodes, src, seen)
		s.logger.Info("[agenda] %s: %d nodes, %d accepted", src, len(nodes), len(accepted))
		events = append(events, accepted...)
	}

	return events
}

// extractNodes loads one page and pulls out every anchor and heading.
func (s *Scraper) extractNodes(allocCtx context.Context, pageURL string) ([]textNode, error) {
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, cancelTimeout := context.WithTimeout(ctx, s.timeout)
	defer cancelTimeout()

	var nodes []textNode
	err := chromedp.Run(ctx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(2*time.Second),
		chromedp.Evaluate(`
			(function() {
				var out = [];
				var els = document.querySelectorAll('a, h2, h3');
				for (var i = 0; i < els.length; i++) {
					var el = els[i];
					out.push({
						tag:  el.tagName.toLowerCase(),
						text: (el.textContent || '').trim(),
						href: el.getAttribute('href') || ''
					});
				}
				return out;
			})()
		`, &nodes),
	)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// collect filters the extracted nodes and resolves their URLs against the
// source page. In-run duplicates are suppressed by URL.
func (s *Scraper) collect(nodes []textNode, pageURL string, seen *utils.URLSet) []models.RawEvent {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var out []models.RawEvent
	for _, n := range nodes {
		if !s.filter.Accept(n.Text) {
			continue
		}

		link := pageURL
		if n.Tag == "a" && n.Href != "" {
			ref, err := url.Parse(n.Href)
			if err != nil {
				continue
			}
			link = base.ResolveReference(ref).String()
		}

		if !seen.Add(link + "|" + n.Text) {
			continue
		}

		out = append(out, models.RawEvent{
			Title:     n.Text,
			URL:       link,
			SourceURL: pageURL,
		})
	}
	return out
}

// findChromeBinary locates a Chrome/Chromium binary.
func findChromeBinary() string {
	if bin := os.Getenv("CHROME_BIN"); bin != "" {
		return bin
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// Package tabexec runs scripts in the focused browser tab over CDP.
package tabexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

const targetTypePage = "page"

// ErrNoActiveTab is returned when no page target can be resolved.
var ErrNoActiveTab = errors.New("no active tab")

// ScriptExecutionError wraps a failure of the injection machinery itself,
// as opposed to a script that ran and returned an error value.
type ScriptExecutionError struct {
	Op    string
	TabID string
	Err   error
}

func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("script execution: %s in tab %s: %v", e.Op, e.TabID, e.Err)
}

func (e *ScriptExecutionError) Unwrap() error { return e.Err }

// TabInfo describes one page target.
type TabInfo struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type tabEntry struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures an Executor.
type Options struct {
	// PinnedTab, when set and open, is used instead of the focused tab.
	PinnedTab string
	// Timeout bounds each RunInActiveTab/WithActiveTab call. Zero means none.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Executor attaches to page targets of one browser and keeps a chromedp
// context per attached tab.
type Executor struct {
	browserCtx context.Context
	opts       Options
	tabs       map[string]*tabEntry
	mu         sync.RWMutex
}

// New returns an Executor over browserCtx, a chromedp browser context.
func New(browserCtx context.Context, opts Options) *Executor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{browserCtx: browserCtx, opts: opts, tabs: make(map[string]*tabEntry)}
}

// ListTabs returns the open page targets in CDP order.
func (e *Executor) ListTabs(ctx context.Context) ([]TabInfo, error) {
	if e.browserCtx == nil {
		return nil, fmt.Errorf("no browser connection")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var targets []*target.Info
	if err := chromedp.Run(e.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			targets, err = target.GetTargets().Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}

	pages := make([]TabInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type == targetTypePage {
			pages = append(pages, TabInfo{ID: string(t.TargetID), URL: t.URL, Title: t.Title, Type: t.Type})
		}
	}
	return pages, nil
}

// focusedJS is true only in the foreground tab of the focused window.
const focusedJS = `function(){return document.visibilityState === "visible" && document.hasFocus()}`

// focusTimeout bounds the focus check of a single tab.
const focusTimeout = 2 * time.Second

// ActiveTab resolves the tab scripts run in: the pinned tab when it is
// open, otherwise the page target whose document is visible and focused.
func (e *Executor) ActiveTab(ctx context.Context) (TabInfo, error) {
	tabs, err := e.ListTabs(ctx)
	if err != nil {
		return TabInfo{}, err
	}
	return pickActive(tabs, e.opts.PinnedTab, func(t TabInfo) bool {
		return e.hasFocus(ctx, t)
	})
}

func pickActive(tabs []TabInfo, pinned string, focused func(TabInfo) bool) (TabInfo, error) {
	if pinned != "" {
		for _, t := range tabs {
			if t.ID == pinned {
				return t, nil
			}
		}
	}
	for _, t := range tabs {
		if focused(t) {
			return t, nil
		}
	}
	return TabInfo{}, ErrNoActiveTab
}

// hasFocus runs focusedJS in the tab's main frame. A tab that cannot be
// reached counts as not focused.
func (e *Executor) hasFocus(ctx context.Context, tab TabInfo) bool {
	if ctx.Err() != nil {
		return false
	}
	tabCtx, err := e.tabContext(tab.ID)
	if err != nil {
		e.opts.Logger.Debug("focus check: attach failed", "tab", tab.ID, "err", err)
		return false
	}
	runCtx, cancel := context.WithTimeout(tabCtx, focusTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var focused bool
	if err := RunInMainFrame(runCtx, focusedJS, &focused); err != nil {
		e.opts.Logger.Debug("focus check failed", "tab", tab.ID, "err", err)
		return false
	}
	return focused
}

func (e *Executor) tabContext(tabID string) (context.Context, error) {
	e.mu.RLock()
	if entry, ok := e.tabs[tabID]; ok && entry.ctx != nil {
		e.mu.RUnlock()
		return entry.ctx, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if entry, ok := e.tabs[tabID]; ok && entry.ctx != nil {
		return entry.ctx, nil
	}
	if e.browserCtx == nil {
		return nil, fmt.Errorf("no browser connection")
	}

	ctx, cancel := chromedp.NewContext(e.browserCtx,
		chromedp.WithTargetID(target.ID(tabID)),
	)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		return nil, fmt.Errorf("tab %s not found: %w", tabID, err)
	}
	e.tabs[tabID] = &tabEntry{ctx: ctx, cancel: cancel}
	return ctx, nil
}

// OpenTab opens url in a new tab and keeps it attached.
func (e *Executor) OpenTab(ctx context.Context, url string) (string, error) {
	if e.browserCtx == nil {
		return "", fmt.Errorf("no browser connection")
	}
	tabCtx, cancel := chromedp.NewContext(e.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return "", fmt.Errorf("new tab: %w", err)
	}

	navCtx, navCancel := context.WithTimeout(tabCtx, 10*time.Second)
	defer navCancel()
	stop := context.AfterFunc(ctx, navCancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		cancel()
		return "", fmt.Errorf("open %s: %w", url, err)
	}

	id := string(chromedp.FromContext(tabCtx).Target.TargetID)
	e.mu.Lock()
	e.tabs[id] = &tabEntry{ctx: tabCtx, cancel: cancel}
	e.mu.Unlock()
	return id, nil
}

// WithActiveTab calls fn with a chromedp context attached to the active tab.
// The context is cancelled when ctx is done or the configured timeout hits.
func (e *Executor) WithActiveTab(ctx context.Context, fn func(tabCtx context.Context, tab TabInfo) error) error {
	tab, err := e.ActiveTab(ctx)
	if err != nil {
		return err
	}
	tabCtx, err := e.tabContext(tab.ID)
	if err != nil {
		return &ScriptExecutionError{Op: "attach", TabID: tab.ID, Err: err}
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if e.opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(tabCtx, e.opts.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(tabCtx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return fn(runCtx, tab)
}

// CleanStaleTabs drops registry entries whose target has closed. It runs
// until ctx is done.
func (e *Executor) CleanStaleTabs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		tabs, err := e.ListTabs(ctx)
		if err != nil {
			continue
		}
		e.prune(tabs)
	}
}

func (e *Executor) prune(open []TabInfo) {
	alive := make(map[string]bool, len(open))
	for _, t := range open {
		alive[t.ID] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for id, entry := range e.tabs {
		if !alive[id] {
			if entry.cancel != nil {
				entry.cancel()
			}
			delete(e.tabs, id)
			e.opts.Logger.Info("cleaned stale tab", "id", id)
		}
	}
}

// Close releases every tab context in the registry.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, entry := range e.tabs {
		if entry.cancel != nil {
			entry.cancel()
		}
		delete(e.tabs, id)
	}
}

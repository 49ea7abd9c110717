package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/uxai/capture/script"
	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Tab is a stealth page with the capture snippet installed.
type Tab struct {
	Page    *rod.Page
	PageURL string
	binding string
	mgr     *Manager
}

// OpenTab creates a stealth tab and navigates to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string, timeout time.Duration) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageURL: pageURL, binding: script.DefaultBinding, mgr: mgr}

	// The binding and snippet must exist before the first document runs.
	if err := t.install(); err != nil {
		page.Close()
		return nil, err
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return t, nil
}

func (t *Tab) install() error {
	if err := (proto.RuntimeAddBinding{Name: t.binding}).Call(t.Page); err != nil {
		return fmt.Errorf("browser: add binding: %w", err)
	}
	js, err := script.Snippet(script.Options{Binding: t.binding})
	if err != nil {
		return err
	}
	if _, err := t.Page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("browser: install snippet: %w", err)
	}
	return nil
}

// Listen forwards binding calls as events until ctx is done.
func (t *Tab) Listen(ctx context.Context, emit func(snapshot.Event)) {
	log := t.mgr.cfg.Logger
	t.Page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if err := dispatch(t.binding, e.Name, e.Payload, emit); err != nil {
			log.Warn("browser: bad binding payload", "url", t.PageURL, "error", err)
		}
	})()
}

// dispatch decodes one binding call addressed to binding.
func dispatch(binding, name, payload string, emit func(snapshot.Event)) error {
	if name != binding {
		return nil
	}
	evs, err := script.Decode([]byte(payload))
	if err != nil {
		return err
	}
	for _, ev := range evs {
		emit(ev)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

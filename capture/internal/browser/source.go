package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/uxai/capture/snapshot"
)

// Source streams the events of one page opened in Chrome.
type Source struct {
	URL     string
	Timeout time.Duration
	Browser Config
}

// Stream launches Chrome, opens URL and emits events until ctx is done.
func (s *Source) Stream(ctx context.Context, emit func(snapshot.Event)) error {
	mgr := NewManager(s.Browser)
	defer mgr.Close()

	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	tab, err := OpenTab(ctx, mgr, s.URL, s.Timeout)
	if err != nil {
		return err
	}
	defer tab.Close()

	mgr.cfg.Logger.Info("browser: capturing", "url", s.URL)
	tab.Listen(ctx, emit)
	if err := ctx.Err(); err != nil && err != context.Canceled {
		return fmt.Errorf("browser: %w", err)
	}
	return nil
}

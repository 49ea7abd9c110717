package capture

import (
	"log/slog"

	"github.com/hazyhaar/uxai/capture/internal/browser"
)

// NewBrowserSource returns an EventSource that opens pageURL in Chrome with
// the capture snippet installed, using the browser section of fc.
func NewBrowserSource(pageURL string, fc *FileConfig, logger *slog.Logger) (EventSource, error) {
	level, err := browser.ParseStealth(fc.Browser.Stealth)
	if err != nil {
		return nil, err
	}
	return &browser.Source{
		URL:     pageURL,
		Timeout: fc.Browser.Timeout,
		Browser: browser.Config{
			RemoteURL: fc.Browser.Remote,
			Bin:       fc.Browser.Bin,
			Stealth:   level,
			Logger:    logger,
		},
	}, nil
}

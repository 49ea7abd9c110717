package capture

import (
	"io"
	"log/slog"
	"time"

	"github.com/hazyhaar/uxai/capture/internal/sink"
)

// Sink receives closed snapshots and classifications.
type Sink = sink.Sink

type (
	SnapshotFunc       = sink.SnapshotFunc
	ClassificationFunc = sink.ClassificationFunc
)

// NewStdoutSink writes one JSON envelope per line to w (os.Stdout if nil).
func NewStdoutSink(w io.Writer) Sink { return sink.NewStdout(w) }

// NewCallbackSink adapts plain functions. Either may be nil.
func NewCallbackSink(onSnapshot SnapshotFunc, onClassification ClassificationFunc) Sink {
	return sink.NewCallback(onSnapshot, onClassification)
}

// WebhookOptions tunes NewWebhookSink.
type WebhookOptions struct {
	Retries      int
	Backoff      time.Duration
	AllowPrivate bool
	Logger       *slog.Logger
}

// NewWebhookSink POSTs JSON envelopes to url with retries.
func NewWebhookSink(url string, o WebhookOptions) (Sink, error) {
	var opts []sink.WebhookOption
	if o.Retries > 0 {
		opts = append(opts, sink.WithWebhookRetries(o.Retries))
	}
	if o.Backoff > 0 {
		opts = append(opts, sink.WithWebhookBackoff(o.Backoff))
	}
	if o.AllowPrivate {
		opts = append(opts, sink.WithWebhookAllowPrivate())
	}
	if o.Logger != nil {
		opts = append(opts, sink.WithWebhookLogger(o.Logger))
	}
	wh, err := sink.NewWebhook(url, opts...)
	if err != nil {
		return nil, err
	}
	return wh, nil
}

// NewRedisSink appends JSON entries to a Redis stream at url. maxLen > 0
// trims the stream approximately.
func NewRedisSink(url, stream string, maxLen int64) (Sink, error) {
	r, err := sink.DialRedis(url, stream, maxLen)
	if err != nil {
		return nil, err
	}
	return r, nil
}

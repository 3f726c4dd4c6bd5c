package fetcher

import (
	"context"

	"go.uber.org/zap"
)

// Promoter decides whether a probe response is an unrendered shell worth fetching again in a browser.
type Promoter interface {
	ShouldPromote(resp Response) bool
}

// PromotingTransport tries a cheap probe transport first and repeats the request through the
// rendering transport when the promoter flags the probe response.
type PromotingTransport struct {
	probe    Transport
	render   Transport
	promoter Promoter
	logger   *zap.Logger
}

var _ Transport = (*PromotingTransport)(nil)

// NewPromotingTransport wires a PromotingTransport.
func NewPromotingTransport(probe, render Transport, promoter Promoter, logger *zap.Logger) *PromotingTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotingTransport{probe: probe, render: render, promoter: promoter, logger: logger}
}

// Get returns the rendered response for promoted pages. A failed render keeps the probe response.
func (t *PromotingTransport) Get(ctx context.Context, url string) (Response, error) {
	resp, err := t.probe.Get(ctx, url)
	if err != nil || !t.promoter.ShouldPromote(resp) {
		return resp, err
	}
	t.logger.Debug("promoting fetch to headless", zap.String("url", url), zap.Int("probe_bytes", len(resp.Body)))
	rendered, err := t.render.Get(ctx, url)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, err
		}
		t.logger.Warn("headless fetch failed, keeping probe response", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	return rendered, nil
}

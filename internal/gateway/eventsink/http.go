package eventsink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPSink forwards events to an external collector over HTTP.
type HTTPSink struct {
	client   *resty.Client
	endpoint string
}

func NewHTTPSink(endpoint string) (*HTTPSink, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("eventsink endpoint is required")
	}
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &HTTPSink{client: client, endpoint: endpoint}, nil
}

func (h *HTTPSink) Publish(ctx context.Context, ev Event) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(h.endpoint)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("post event: collector returned %s", resp.Status())
	}
	return nil
}

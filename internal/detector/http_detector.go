package detector

import (
	"context"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 2 * time.Second

// HTTPDetector treats the decoder as up when its HTTP endpoint answers at all.
// Any status code counts: the decoder may reject a bare GET and still be serving.
type HTTPDetector struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

func (d HTTPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return false, err
	}
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, nil // refused or timed out: not up yet
	}
	_ = resp.Body.Close()
	return true, nil
}

func (d HTTPDetector) Describe() string { return "http:" + d.URL }

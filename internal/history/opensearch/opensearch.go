package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/trunkwatch/internal/history"
)

// Sink indexes decoder lifecycle events through the OpenSearch document API.
// Elasticsearch accepts the same requests.
//
// The index name may carry a Go time layout in braces, e.g.
// "decoder-history-{2006.01.02}", to roll over daily. The layout is applied
// to the event time in UTC.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// document is the flattened shape stored per event, keyed on @timestamp so
// dashboards pick it up without a mapping.
type document struct {
	Timestamp    time.Time         `json:"@timestamp"`
	Event        history.EventType `json:"event"`
	Decoder      string            `json:"decoder"`
	PID          int               `json:"pid,omitempty"`
	State        string            `json:"state"`
	ExitCode     int               `json:"exit_code"`
	Signal       string            `json:"signal,omitempty"`
	Error        string            `json:"error,omitempty"`
	RestartCount int               `json:"restart_count"`
	DelayMS      int64             `json:"delay_ms,omitempty"`
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

// indexFor expands a braced time layout in the configured index name.
func (s *Sink) indexFor(t time.Time) string {
	open := strings.IndexByte(s.index, '{')
	end := strings.LastIndexByte(s.index, '}')
	if open < 0 || end < open {
		return s.index
	}
	return s.index[:open] + t.UTC().Format(s.index[open+1:end]) + s.index[end+1:]
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	doc := document{
		Timestamp:    ts.UTC(),
		Event:        e.Type,
		Decoder:      e.Record.Name,
		PID:          e.Record.PID,
		State:        e.Record.State,
		ExitCode:     e.Record.ExitCode,
		Signal:       e.Record.Signal,
		Error:        e.Record.Error,
		RestartCount: e.Record.RestartCount,
		DelayMS:      e.Record.DelayMS,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	target := s.baseURL + "/" + s.indexFor(ts) + "/_doc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index %s event: %w", e.Type, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("index %s event: status %d: %s", e.Type, resp.StatusCode, strings.TrimSpace(string(detail)))
}

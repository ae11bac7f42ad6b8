package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Protocol knows how to ask the decoder for its state and how to read the reply.
type Protocol interface {
	Name() string
	NewRequest(ctx context.Context, url string) (*http.Request, error)
	Decode(body []byte, now time.Time) (Frame, error)
}

// ProtocolByName returns the protocol for a config value; "" selects json.
func ProtocolByName(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONProtocol{}, nil
	case "op25":
		return OP25Protocol{}, nil
	}
	return nil, fmt.Errorf("unknown telemetry protocol %q", name)
}

// JSONProtocol polls with GET and expects a single JSON object:
//
//	{"system":"Metro","frequency":851.0125,"talkgroup":1201,"tag":"Fire Dispatch","timestamp":"2024-05-01T12:00:00Z"}
//
// tag is optional; timestamp may also be Unix seconds.
type JSONProtocol struct{}

func (JSONProtocol) Name() string { return "json" }

func (JSONProtocol) NewRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

type jsonFrame struct {
	System    *string         `json:"system"`
	Frequency *float64        `json:"frequency"`
	Talkgroup *int64          `json:"talkgroup"`
	Tag       string          `json:"tag"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (JSONProtocol) Decode(body []byte, _ time.Time) (Frame, error) {
	var in jsonFrame
	if err := json.Unmarshal(body, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	var missing []string
	if in.System == nil {
		missing = append(missing, "system")
	}
	if in.Frequency == nil {
		missing = append(missing, "frequency")
	}
	if in.Talkgroup == nil {
		missing = append(missing, "talkgroup")
	}
	if len(in.Timestamp) == 0 || string(in.Timestamp) == "null" {
		missing = append(missing, "timestamp")
	}
	if len(missing) > 0 {
		return Frame{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ", "))
	}
	ts, err := parseTimestamp(in.Timestamp)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: timestamp: %v", ErrMalformedPayload, err)
	}
	return Frame{
		System:       *in.System,
		FrequencyMHz: *in.Frequency,
		Talkgroup:    *in.Talkgroup,
		Tag:          in.Tag,
		Signal:       Signal{Active: *in.Talkgroup != 0},
		CapturedAt:   ts,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.Parse(time.RFC3339Nano, s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 string or unix seconds, got %s", string(raw))
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
}

// OP25Protocol talks to the OP25 multi_rx HTTP console: it POSTs an update
// command and reads the returned message array.
type OP25Protocol struct{}

func (OP25Protocol) Name() string { return "op25" }

var op25Update = []byte(`[{"command":"update","arg1":0,"arg2":0}]`)

func (OP25Protocol) NewRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(op25Update))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (OP25Protocol) Decode(body []byte, now time.Time) (Frame, error) {
	var raw []any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	msgs := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			msgs = append(msgs, m)
		}
	}
	return parseOP25(msgs, now)
}

func num(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case string:
		i, _ := strconv.ParseInt(strings.TrimSpace(n), 0, 64)
		return i
	}
	return 0
}

func str(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

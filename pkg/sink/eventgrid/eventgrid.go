// Package eventgrid publishes payloads to an Azure Event Grid topic over its
// REST interface.
package eventgrid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/informalsystems/sink-load-test/internal/logging"
	"github.com/informalsystems/sink-load-test/pkg/sink"
	uuid "github.com/satori/go.uuid"
	"github.com/valyala/fasthttp"
)

const (
	apiVersion = "2018-01-01"
	sasHeader  = "aeg-sas-key"

	EventType   = "type1"
	Subject     = "subject1"
	DataVersion = "1.0"
)

// Event is an event in the Event Grid schema.
type Event struct {
	ID          string    `json:"id"`
	EventType   string    `json:"eventType"`
	Subject     string    `json:"subject"`
	EventTime   time.Time `json:"eventTime"`
	Data        string    `json:"data"`
	DataVersion string    `json:"dataVersion"`
}

// Sink publishes payloads as events, one event per payload.
type Sink struct {
	cfg      sink.Config
	endpoint string // The topic's full publish URL.
	key      string
	client   *fasthttp.Client
	logger   logging.Logger
	now      func() time.Time
}

var _ sink.MessageSink = (*Sink)(nil)

func init() {
	sink.MustRegister(sink.EventGrid, func(ctx context.Context, cfg sink.Config) (sink.MessageSink, error) {
		return New(cfg, &fasthttp.Client{})
	})
}

// ParseConnectionString extracts the topic endpoint and access key from a
// connection string of the form "Endpoint=https://<topic host>,TopicKey=<key>".
// The endpoint is rewritten to the topic's publish URL.
func ParseConnectionString(connStr string) (endpoint, key string, err error) {
	for _, part := range strings.Split(connStr, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "Endpoint":
			endpoint = kv[1]
		case "TopicKey":
			key = kv[1]
		}
	}
	if len(endpoint) == 0 || len(key) == 0 {
		return "", "", fmt.Errorf("expected connection string of the form Endpoint=<url>,TopicKey=<key>")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", "", fmt.Errorf("invalid endpoint: %w", err)
	}
	if len(u.Host) == 0 {
		return "", "", fmt.Errorf("invalid endpoint %q: no host", endpoint)
	}
	if len(u.Scheme) == 0 {
		u.Scheme = "https"
	}
	if len(u.Path) == 0 || u.Path == "/" {
		u.Path = "/api/events"
	}
	q := u.Query()
	q.Set("api-version", apiVersion)
	u.RawQuery = q.Encode()
	return u.String(), key, nil
}

// New creates a sink that publishes through the given client.
func New(cfg sink.Config, client *fasthttp.Client) (*Sink, error) {
	endpoint, key, err := ParseConnectionString(cfg.ConnectionString)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogrusLogger(fmt.Sprintf("sink[%s]", sink.EventGrid))
	logger.Info("Publishing to Event Grid topic", "endpoint", endpoint)
	return &Sink{
		cfg:      cfg,
		endpoint: endpoint,
		key:      key,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}, nil
}

func (s *Sink) newEvent(payload string) Event {
	return Event{
		ID:          uuid.NewV4().String(),
		EventType:   EventType,
		Subject:     Subject,
		EventTime:   s.now(),
		Data:        payload,
		DataVersion: DataVersion,
	}
}

func (s *Sink) Send(ctx context.Context, payload string) error {
	return s.publish(ctx, "send", []Event{s.newEvent(payload)})
}

func (s *Sink) SendBatch(ctx context.Context, payloads []string) error {
	events := make([]Event, 0, len(payloads))
	for _, p := range payloads {
		events = append(events, s.newEvent(p))
	}
	return s.publish(ctx, "send_batch", events)
}

func (s *Sink) publish(ctx context.Context, op string, events []Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return sink.Wrap(op, err)
	}
	timeout := s.cfg.Timeout()
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return sink.Wrap(op, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.endpoint)
	req.Header.SetContentType("application/json")
	req.Header.Set(sasHeader, s.key)
	req.SetBody(body)

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		if err == fasthttp.ErrTimeout {
			return &sink.Error{Op: op, Kind: "Timeout", Err: err}
		}
		return sink.Wrap(op, err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return &sink.Error{
			Op:   op,
			Kind: fmt.Sprintf("HTTP%d", status),
			Err:  fmt.Errorf("unexpected response from Event Grid: %d %s", status, strings.TrimSpace(string(resp.Body()))),
		}
	}
	return nil
}

// Close releases idle connections.
func (s *Sink) Close(_ context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

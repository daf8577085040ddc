package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stage states reported for each pipeline stage.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

// Event is published for every stage transition of a job.
type Event struct {
	JobID     string    `json:"job_id"`
	BaseName  string    `json:"base_name,omitempty"`
	Stage     string    `json:"stage"`
	State     string    `json:"state"`
	Kind      string    `json:"kind,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher receives stage events. Implementations must not block the pipeline.
type Publisher interface {
	Publish(Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// NATSPublisher publishes events on <prefix>.<job_id>.<stage>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    *zap.SugaredLogger
}

// Connect dials url and returns a publisher.
func Connect(url, prefix string, log *zap.SugaredLogger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("speaker-transcription"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	log.Infow("connected to NATS", "url", url)
	return &NATSPublisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), log: log}, nil
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(e Event) string {
	return fmt.Sprintf("%s.%s.%s", p.prefix, e.JobID, e.Stage)
}

// Publish sends e; failures are logged and otherwise ignored.
func (p *NATSPublisher) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Warnw("failed to encode event", "job_id", e.JobID, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		p.log.Warnw("failed to publish event", "job_id", e.JobID, "stage", e.Stage, "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
	p.conn.Close()
}

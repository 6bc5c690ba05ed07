package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/listings/internal/logger"
)

// Headers set on every published listing event.
const (
	HeaderTopic = "Ingest-Topic"
	HeaderRunID = "Ingest-Run-Id"
)

// NATSOptions configure both ends of the NATS event bus.
type NATSOptions struct {
	// SubjectPrefix namespaces every subject so several deployments can share
	// one NATS cluster: "blr" publishes "blr.listings.run.completed".
	SubjectPrefix string
	// Name identifies the connection in NATS monitoring.
	Name   string
	Logger *logger.Logger
}

// CheckSubjectPrefix reports whether p can prefix a NATS subject.
func CheckSubjectPrefix(p string) error {
	if p == "" {
		return nil
	}
	for _, tok := range strings.Split(strings.Trim(p, "."), ".") {
		if tok == "" || strings.ContainsAny(tok, "*> \t\r\n") {
			return fmt.Errorf("invalid subject prefix %q", p)
		}
	}
	return nil
}

// subject maps a topic onto the configured namespace.
func (o NATSOptions) subject(topic string) string {
	p := strings.Trim(o.SubjectPrefix, ".")
	if p == "" {
		return topic
	}
	return p + "." + topic
}

// connect dials NATS with reconnects that never give up and logs the
// connection's life cycle.
func (o NATSOptions) connect(url, defaultName string) (*nats.Conn, error) {
	if err := CheckSubjectPrefix(o.SubjectPrefix); err != nil {
		return nil, err
	}
	log := o.Logger
	if log == nil {
		log = logger.Nop()
	}
	name := o.Name
	if name == "" {
		name = defaultName
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "connection", name, "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "connection", name, "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes listing events as JSON, tagged with their topic
// and run id.
type NATSPublisher struct {
	conn *nats.Conn
	opts NATSOptions
}

func NewNATSPublisher(url string, opts NATSOptions) (*NATSPublisher, error) {
	nc, err := opts.connect(url, "listings-ingest")
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc, opts: opts}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(p.opts.subject(topic))
	msg.Data = data
	msg.Header.Set(HeaderTopic, topic)
	if id := runIDOf(event); id != "" {
		msg.Header.Set(HeaderRunID, id)
	}
	return p.conn.PublishMsg(msg)
}

func runIDOf(event any) string {
	switch e := event.(type) {
	case RecordInserted:
		return e.RunID
	case RecordsDeactivated:
		return e.RunID
	case RunCompleted:
		if e.Summary != nil {
			return e.Summary.RunID
		}
	}
	return ""
}

// Flush waits until the server has processed everything published so far.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		return p.conn.FlushTimeout(5 * time.Second)
	}
	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber reads listing events under the same subject prefix the
// publisher uses.
type NATSSubscriber struct {
	conn *nats.Conn
	opts NATSOptions
}

func NewNATSSubscriber(url string, opts NATSOptions) (*NATSSubscriber, error) {
	nc, err := opts.connect(url, "listings-watch")
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc, opts: opts}, nil
}

// Subscribe delivers payloads for topic, which may use NATS wildcards such
// as TopicAll. A slow reader loses messages rather than stalling the
// connection.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	ch := make(chan []byte, 64)
	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
	)
	subject := s.opts.subject(topic)
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- msg.Data:
		default:
		}
	})
	if err != nil {
		close(ch)
		return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	// The subscription must reach the server before messages from other
	// connections are routed to it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", subject, err)
	}

	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			closed = true
			close(ch)
			mu.Unlock()
		})
	}
	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/DrSkyle/codevet/pkg/version"
	"github.com/nats-io/nats.go"
)

// Publisher is the part of *nats.Conn the forwarder needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes events as JSON on "<prefix>.<type>".
type NATSForwarder struct {
	pub    Publisher
	prefix string
}

// NewNATSForwarder wraps pub. An empty prefix defaults to "codevet.events".
func NewNATSForwarder(pub Publisher, prefix string) *NATSForwarder {
	prefix = strings.TrimSuffix(prefix, ".")
	if prefix == "" {
		prefix = version.AppName + ".events"
	}
	return &NATSForwarder{pub: pub, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (f *NATSForwarder) Subject(t Type) string {
	return f.prefix + "." + string(t)
}

// Handle publishes ev. It satisfies Handler.
func (f *NATSForwarder) Handle(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.pub.Publish(f.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// ConnectNATS dials url with reconnects enabled.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(version.AppName),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

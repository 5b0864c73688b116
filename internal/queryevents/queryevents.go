// Package queryevents publishes one event per answered feature request to
// Kafka, off the request path.
package queryevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/geo-search-bridge/internal/core/model"
	"github.com/mohammed-shakir/geo-search-bridge/internal/spatial"
)

type Event struct {
	Backend  string    `json:"backend"`
	Dataset  string    `json:"dataset"`
	Layer    string    `json:"layer,omitempty"`
	Mode     string    `json:"mode"`
	Lon      *float64  `json:"lon,omitempty"`
	Lat      *float64  `json:"lat,omitempty"`
	Features int       `json:"features"`
	TS       time.Time `json:"ts"`
}

// FromRequest builds the event for an answered request. The position is the
// center of the request envelope, when it has one.
func FromRequest(req model.Request, mode string, features int, now time.Time) Event {
	ev := Event{
		Backend:  req.Backend,
		Dataset:  req.Dataset,
		Layer:    req.Layer,
		Mode:     mode,
		Features: features,
		TS:       now.UTC(),
	}
	q := req.Query
	if req.VectorTile && q.Tile != nil {
		q.Geometry = spatial.TileGeometry(*q.Tile, 0)
	}
	g := q.Geometry
	if g == nil {
		return ev
	}
	var center orb.Point
	if g.IsPoint() {
		b := orb.Bound{Min: orb.Point{*g.X, *g.Y}, Max: orb.Point{*g.X, *g.Y}}
		if g.SpatialReference.IsWebMercator() {
			b = spatial.ToGeographic(b)
		}
		center = b.Min
	} else {
		b, err := spatial.Envelope(g)
		if err != nil {
			return ev
		}
		center = b.Center()
	}
	ev.Lon, ev.Lat = &center[0], &center[1]
	return ev
}

type Publisher struct {
	topic   string
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queryevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("queryevents: marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Backend + "/" + ev.Dataset),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("queryevents: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish enqueues ev. A full queue drops the event; Publish never blocks.
// A nil Publisher discards everything.
func (p *Publisher) Publish(ev Event) bool {
	if p == nil {
		return false
	}
	select {
	case p.events <- ev:
		return true
	default:
		return false
	}
}

// Close drains the queue and closes the producer. Publish must not be called
// afterwards.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("queryevents: close producer: %w", err)
	}
	return nil
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/passbi/busrace/internal/jobs"
	"github.com/passbi/busrace/internal/logger"
	"github.com/passbi/busrace/internal/models"
)

// missingOperatorMessage is the reply text clients already expect
const missingOperatorMessage = "Operator is required."

// Conn is the subset of *nats.Conn the bridge needs
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// PublisherMetrics records publish outcomes and connection state
type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// JobRunner executes fetch-buses jobs
type JobRunner interface {
	FetchBuses(ctx context.Context, req jobs.FetchRequest) (*jobs.FetchResult, error)
}

// Connect dials NATS, retrying with exponential backoff for up to maxWait
func Connect(ctx context.Context, url string, maxWait time.Duration, m PublisherMetrics, log logger.Logger) (*nats.Conn, error) {
	if log == nil {
		log = logger.Nop()
	}
	var nc *nats.Conn

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = maxWait

	err := backoff.Retry(func() error {
		var err error
		nc, err = nats.Connect(url,
			nats.Name("busrace"),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				if m != nil {
					m.NATSSetConnected(false)
				}
				log.Warn("NATS disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(_ *nats.Conn) {
				if m != nil {
					m.NATSSetConnected(true)
				}
				log.Info("NATS reconnected")
			}),
			nats.ClosedHandler(func(_ *nats.Conn) {
				if m != nil {
					m.NATSSetConnected(false)
				}
				log.Info("NATS connection closed")
			}),
		)
		if err != nil {
			log.Warn("NATS connect failed, retrying", "error", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if m != nil {
		m.NATSSetConnected(true)
	}
	return nc, nil
}

// Bridge publishes snapshots and answers job requests over NATS
type Bridge struct {
	conn    Conn
	prefix  string
	jobs    JobRunner
	timeout time.Duration
	metrics PublisherMetrics
	log     logger.Logger
}

// NewBridge creates a bridge using prefix for every subject
func NewBridge(conn Conn, prefix string, runner JobRunner, m PublisherMetrics, log logger.Logger) *Bridge {
	if log == nil {
		log = logger.Nop()
	}
	return &Bridge{
		conn:    conn,
		prefix:  strings.TrimSuffix(prefix, "."),
		jobs:    runner,
		timeout: 30 * time.Second,
		metrics: m,
		log:     log,
	}
}

// BusesSubject is where snapshots for operator are published
func (b *Bridge) BusesSubject(operator string) string {
	return fmt.Sprintf("%s.buses.%s", b.prefix, subjectToken(operator))
}

// JobsSubject is where fetch-buses requests are served
func (b *Bridge) JobsSubject() string {
	return b.prefix + ".jobs.fetch-buses"
}

// PublishSnapshot sends one refreshed snapshot; usable as a cache listener
func (b *Bridge) PublishSnapshot(snap models.Snapshot) {
	if err := b.publish(b.BusesSubject(snap.Operator), models.UpdateEvent{
		Operator:       snap.Operator,
		AvailableBuses: snap.AvailableBuses,
		UpdatedAt:      snap.FetchedAt,
	}); err != nil {
		b.log.Warn("Failed to publish snapshot", "operator", snap.Operator, "error", err)
	}
}

// ServeJobs subscribes the job responder; the caller owns the subscription
func (b *Bridge) ServeJobs() (*nats.Subscription, error) {
	return b.conn.Subscribe(b.JobsSubject(), func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		if err := msg.Respond(b.Reply(msg.Data)); err != nil {
			b.log.Warn("Failed to answer job request", "error", err)
		}
	})
}

// Reply runs a job for a raw request and encodes the answer
func (b *Bridge) Reply(data []byte) []byte {
	var req jobs.FetchRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeError(fmt.Errorf("invalid job request: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	res, err := b.jobs.FetchBuses(ctx, req)
	if err != nil {
		return encodeError(err)
	}
	out, err := json.Marshal(res)
	if err != nil {
		return encodeError(err)
	}
	return out
}

func (b *Bridge) publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	start := time.Now()
	err = b.conn.Publish(subject, data)
	if b.metrics != nil {
		b.metrics.PublishObserve(time.Since(start))
		if err != nil {
			b.metrics.NATSPublishErrInc()
		} else {
			b.metrics.NATSPublishedInc()
		}
	}
	return err
}

func encodeError(err error) []byte {
	msg := err.Error()
	if errors.Is(err, jobs.ErrMissingOperator) {
		msg = missingOperatorMessage
	}
	out, _ := json.Marshal(models.UpdateEvent{Error: msg})
	return out
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}

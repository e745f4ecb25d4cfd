// Package natspub publishes drained sample batches to NATS, one subject per
// channel.
package natspub

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/c360/acqstream/errors"
	"github.com/c360/acqstream/metric"
	"github.com/c360/acqstream/natsclient"
	"github.com/c360/acqstream/output"
	"github.com/c360/acqstream/pkg/retry"
)

const (
	DefaultSubjectPrefix = "acq.samples"

	EncodingMsgpack = "msgpack"
	EncodingJSON    = "json"
)

// Publisher is the part of natsclient.Client the sink uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PublishToStream(ctx context.Context, subject string, data []byte) error
	EnsureStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

var _ Publisher = (*natsclient.Client)(nil)

// Config selects subjects and encoding. A non-empty Stream routes batches
// through a JetStream stream of that name covering <prefix>.>.
type Config struct {
	SubjectPrefix string `json:"subject_prefix" yaml:"subject_prefix"`
	Encoding      string `json:"encoding" yaml:"encoding"`
	Stream        string `json:"stream" yaml:"stream"`
}

func (c Config) withDefaults() Config {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.Encoding == "" {
		c.Encoding = EncodingMsgpack
	}
	return c
}

// Validate checks the encoding name.
func (c Config) Validate() error {
	switch c.withDefaults().Encoding {
	case EncodingMsgpack, EncodingJSON:
		return nil
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "natspub", "Validate",
			fmt.Sprintf("unknown encoding %q", c.Encoding))
	}
}

// Sink publishes batches through a Publisher.
type Sink struct {
	cfg     Config
	pub     Publisher
	encode  func(any) ([]byte, error)
	retry   retry.Config
	logger  *slog.Logger
	metrics *metric.Metrics
}

var _ output.Sink = (*Sink)(nil)

// New creates a sink. Metrics may be nil.
func New(cfg Config, pub Publisher, logger *slog.Logger, metrics *metric.Metrics) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default().With("component", "natspub")
	}

	s := &Sink{
		cfg:     cfg,
		pub:     pub,
		encode:  msgpack.Marshal,
		retry:   retry.Quick(),
		logger:  logger,
		metrics: metrics,
	}
	if cfg.Encoding == EncodingJSON {
		s.encode = json.Marshal
	}
	return s, nil
}

// Start creates the JetStream stream when one is configured.
func (s *Sink) Start(ctx context.Context) error {
	if s.cfg.Stream == "" {
		return nil
	}
	_, err := s.pub.EnsureStream(ctx, jetstream.StreamConfig{
		Name:     s.cfg.Stream,
		Subjects: []string{s.cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		return errors.Wrap(err, "natspub", "Start", "ensure stream "+s.cfg.Stream)
	}
	return nil
}

func (s *Sink) Name() string { return "nats" }

// Subject returns the subject for a channel class and index.
func (s *Sink) Subject(class string, index int) string {
	return s.cfg.SubjectPrefix + "." + class + "." + strconv.Itoa(index)
}

// Deliver publishes each batch, retrying transient failures. An open circuit
// breaker ends the attempt at once. All batches are tried; the first error is
// returned.
func (s *Sink) Deliver(ctx context.Context, batches []output.Batch) error {
	var firstErr error
	for _, b := range batches {
		err := s.deliver(ctx, b)
		s.metrics.RecordSinkPublish(s.Name(), err)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	return firstErr
}

func (s *Sink) deliver(ctx context.Context, b output.Batch) error {
	data, err := s.encode(b)
	if err != nil {
		return errors.WrapInvalid(err, "natspub", "Deliver", "encode batch")
	}
	subject := s.Subject(b.Channel, b.Index)

	publish := s.pub.Publish
	if s.cfg.Stream != "" {
		publish = s.pub.PublishToStream
	}

	err = retry.Do(ctx, s.retry, func() error {
		err := publish(ctx, subject, data)
		if stderrors.Is(err, natsclient.ErrCircuitOpen) {
			return retry.NonRetryable(err)
		}
		return err
	})
	if err != nil {
		return errors.WrapTransient(err, "natspub", "Deliver", "publish to "+subject)
	}
	return nil
}

// Close is a no-op; the NATS client is owned by the caller.
func (s *Sink) Close(context.Context) error { return nil }

// Decode reverses the sink encoding. Used by consumers and tests.
func Decode(encoding string, data []byte) (output.Batch, error) {
	var b output.Batch
	var err error
	switch encoding {
	case EncodingJSON:
		err = json.Unmarshal(data, &b)
	case EncodingMsgpack, "":
		err = msgpack.Unmarshal(data, &b)
	default:
		return b, errors.WrapInvalid(errors.ErrInvalidConfig, "natspub", "Decode", "unknown encoding "+encoding)
	}
	if err != nil {
		return b, errors.WrapInvalid(err, "natspub", "Decode", "decode batch")
	}
	return b, nil
}

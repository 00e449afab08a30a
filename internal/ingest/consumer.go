// Package ingest consumes emission measurements from a Kafka topic and feeds
// them into the core service.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"carboncore/pkg/domain"

	"github.com/segmentio/kafka-go"
)

// Config holds Kafka consumer settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ConfigFromEnv reads consumer settings from the environment.
//
//	CARBONCORE_KAFKA_BROKERS: comma-separated broker list (default localhost:9092)
//	CARBONCORE_KAFKA_TOPIC: topic to consume (default carboncore.measurements)
//	CARBONCORE_KAFKA_GROUP: consumer group id (default carboncore-ingest)
func ConfigFromEnv() Config {
	brokers := os.Getenv("CARBONCORE_KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}
	topic := os.Getenv("CARBONCORE_KAFKA_TOPIC")
	if topic == "" {
		topic = "carboncore.measurements"
	}
	group := os.Getenv("CARBONCORE_KAFKA_GROUP")
	if group == "" {
		group = "carboncore-ingest"
	}
	return Config{Brokers: strings.Split(brokers, ","), Topic: topic, GroupID: group}
}

// Recorder is the slice of the core service the consumer needs.
type Recorder interface {
	RecordMeasurement(ctx context.Context, m domain.Measurement) (domain.Measurement, domain.Result, error)
}

// measurementEnvelope is the wire format accepted on the topic.
type measurementEnvelope struct {
	ScopeIdentifier string    `json:"scope_identifier"`
	Tier            int       `json:"tier"`
	Timestamp       time.Time `json:"timestamp"`
	InputMethod     string    `json:"input_method"`
	FactorSource    string    `json:"factor_source"`
	Emissions       struct {
		CO2e        float64 `json:"co2e"`
		CO2         float64 `json:"co2"`
		CH4         float64 `json:"ch4"`
		N2O         float64 `json:"n2o"`
		Uncertainty float64 `json:"uncertainty"`
	} `json:"emissions"`
}

// DecodeMeasurement parses and validates one wire message.
func DecodeMeasurement(payload []byte) (domain.Measurement, error) {
	var env measurementEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return domain.Measurement{}, fmt.Errorf("decode measurement: %w", err)
	}
	if env.ScopeIdentifier == "" {
		return domain.Measurement{}, errors.New("measurement missing scope_identifier")
	}
	tier := domain.ScopeTier(env.Tier)
	if !tier.Valid() {
		return domain.Measurement{}, fmt.Errorf("invalid tier %d", env.Tier)
	}
	return domain.Measurement{
		ScopeIdentifier: env.ScopeIdentifier,
		Tier:            tier,
		Timestamp:       env.Timestamp,
		InputMethod:     domain.InputMethod(env.InputMethod),
		FactorSource:    env.FactorSource,
		Emissions: domain.EmissionValue{
			CO2e:        env.Emissions.CO2e,
			CO2:         env.Emissions.CO2,
			CH4:         env.Emissions.CH4,
			N2O:         env.Emissions.N2O,
			Uncertainty: env.Emissions.Uncertainty,
		},
	}, nil
}

// Consumer pulls measurements off the topic and records them through the
// service. Malformed messages are logged and committed; the topic is not a
// dead-letter queue.
type Consumer struct {
	reader  *kafka.Reader
	service Recorder
	log     *slog.Logger
}

// NewConsumer constructs a consumer over the given config and recorder.
func NewConsumer(cfg Config, service Recorder, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})
	return &Consumer{
		reader:  reader,
		service: service,
		log:     log.With(slog.String("component", "measurement-ingest")),
	}
}

// Run consumes until the context is cancelled or the reader fails.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := c.handle(ctx, msg.Value); err != nil {
			c.log.Warn("dropping measurement",
				slog.String("error", err.Error()),
				slog.Int64("offset", msg.Offset))
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, payload []byte) error {
	m, err := DecodeMeasurement(payload)
	if err != nil {
		return err
	}
	stored, _, err := c.service.RecordMeasurement(ctx, m)
	if err != nil {
		return fmt.Errorf("record measurement: %w", err)
	}
	c.log.Debug("measurement recorded",
		slog.String("id", stored.ID),
		slog.String("scope", stored.ScopeIdentifier))
	return nil
}

// Close releases the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

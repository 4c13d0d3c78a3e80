package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	wmkafka "github.com/ThreeDotsLabs/watermill-kafka/pkg/kafka"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/pkg/nats"
	wmsql "github.com/ThreeDotsLabs/watermill-sql/pkg/sql"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	stan "github.com/nats-io/stan.go"
)

// Notifier publishes accepted events to downstream consumers. Notify
// failures never affect the webhook response; the delivery is already
// stored by the time the notifier runs.
type Notifier interface {
	Notify(ctx context.Context, topic string, event Event) error
	Close() error
}

// NotifierFactory builds a watermill publisher for a custom driver name.
type NotifierFactory func(cfg NotifyConfig, logger watermill.LoggerAdapter) (message.Publisher, func() error, error)

var notifierFactories = map[string]NotifierFactory{}

// RegisterNotifyDriver makes a custom driver available to NewNotifier.
func RegisterNotifyDriver(name string, factory NotifierFactory) {
	if name == "" || factory == nil {
		return
	}
	notifierFactories[strings.ToLower(name)] = factory
}

type watermillNotifier struct {
	publisher message.Publisher
	closeFn   func() error
	attempts  int
	delay     time.Duration
}

// NewNotifier builds the notifier for the configured driver.
func NewNotifier(cfg NotifyConfig) (Notifier, error) {
	logger := watermill.NewStdLogger(false, false)
	driver := strings.ToLower(cfg.Driver)

	notifier := &watermillNotifier{
		attempts: cfg.PublishRetry.Attempts,
		delay:    time.Duration(cfg.PublishRetry.DelayMS) * time.Millisecond,
	}
	if notifier.attempts < 1 {
		notifier.attempts = 1
	}

	switch driver {
	case "gochannel":
		notifier.publisher = gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            cfg.GoChannel.OutputChannelBuffer,
				Persistent:                     cfg.GoChannel.Persistent,
				BlockPublishUntilSubscriberAck: cfg.GoChannel.BlockPublishUntilSubscriberAck,
			},
			logger,
		)
	case "http":
		mode := strings.ToLower(cfg.HTTP.Mode)
		if mode != "topic_url" && mode != "base_url" {
			return nil, fmt.Errorf("unsupported http mode: %s", cfg.HTTP.Mode)
		}
		if mode == "base_url" && cfg.HTTP.BaseURL == "" {
			return nil, errors.New("http base_url is required for base_url mode")
		}
		pub, err := wmhttp.NewPublisher(wmhttp.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*http.Request, error) {
				target, err := httpTargetURL(cfg.HTTP, topic)
				if err != nil {
					return nil, err
				}
				return wmhttp.DefaultMarshalMessageFunc(target, msg)
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		notifier.publisher = pub
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, errors.New("kafka brokers are required")
		}
		pub, err := wmkafka.NewPublisher(cfg.Kafka.Brokers, wmkafka.DefaultMarshaler{}, nil, logger)
		if err != nil {
			return nil, err
		}
		notifier.publisher = pub
	case "nats":
		if cfg.NATS.ClusterID == "" || cfg.NATS.ClientID == "" {
			return nil, errors.New("nats cluster_id and client_id are required")
		}
		natsCfg := wmnats.StreamingPublisherConfig{
			ClusterID: cfg.NATS.ClusterID,
			ClientID:  cfg.NATS.ClientID,
			Marshaler: wmnats.GobMarshaler{},
		}
		if cfg.NATS.URL != "" {
			natsCfg.StanOptions = append(natsCfg.StanOptions, stan.NatsURL(cfg.NATS.URL))
		}
		pub, err := wmnats.NewStreamingPublisher(natsCfg, logger)
		if err != nil {
			return nil, err
		}
		notifier.publisher = pub
	case "amqp":
		if cfg.AMQP.URL == "" {
			return nil, errors.New("amqp url is required")
		}
		amqpCfg, err := amqpConfigFromMode(cfg.AMQP.URL, cfg.AMQP.Mode)
		if err != nil {
			return nil, err
		}
		pub, err := wmamqp.NewPublisher(amqpCfg, logger)
		if err != nil {
			return nil, err
		}
		notifier.publisher = pub
	case "sql":
		if cfg.SQL.Driver == "" || cfg.SQL.DSN == "" {
			return nil, errors.New("sql driver and dsn are required")
		}
		schemaAdapter, err := sqlSchemaAdapter(cfg.SQL.Dialect)
		if err != nil {
			return nil, err
		}
		db, err := sql.Open(cfg.SQL.Driver, cfg.SQL.DSN)
		if err != nil {
			return nil, err
		}
		pub, err := wmsql.NewPublisher(db, wmsql.PublisherConfig{
			SchemaAdapter:        schemaAdapter,
			AutoInitializeSchema: cfg.SQL.AutoInitializeSchema,
		}, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		notifier.publisher = pub
		notifier.closeFn = db.Close
	default:
		factory, ok := notifierFactories[driver]
		if !ok {
			return nil, fmt.Errorf("unsupported notify driver: %s", cfg.Driver)
		}
		pub, closeFn, err := factory(cfg, logger)
		if err != nil {
			return nil, err
		}
		notifier.publisher = pub
		notifier.closeFn = closeFn
	}

	return notifier, nil
}

func (n *watermillNotifier) Notify(ctx context.Context, topic string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < n.attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(n.delay):
			}
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.Metadata.Set("action", string(event.Action))
		msg.Metadata.Set("repository", event.Repository)
		if lastErr = n.publisher.Publish(topic, msg); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (n *watermillNotifier) Close() error {
	if n.publisher == nil {
		return nil
	}
	err := n.publisher.Close()
	if n.closeFn != nil {
		return errors.Join(err, n.closeFn())
	}
	return err
}

func amqpConfigFromMode(url, mode string) (wmamqp.Config, error) {
	switch strings.ToLower(mode) {
	case "", "durable_queue":
		return wmamqp.NewDurableQueueConfig(url), nil
	case "nondurable_queue":
		return wmamqp.NewNonDurableQueueConfig(url), nil
	case "durable_pubsub":
		return wmamqp.NewDurablePubSubConfig(url, nil), nil
	case "nondurable_pubsub":
		return wmamqp.NewNonDurablePubSubConfig(url, nil), nil
	default:
		return wmamqp.Config{}, fmt.Errorf("unsupported amqp mode: %s", mode)
	}
}

func sqlSchemaAdapter(dialect string) (wmsql.SchemaAdapter, error) {
	switch strings.ToLower(dialect) {
	case "postgres", "postgresql":
		return wmsql.DefaultPostgreSQLSchema{}, nil
	case "mysql":
		return wmsql.DefaultMySQLSchema{}, nil
	default:
		return nil, fmt.Errorf("unsupported sql dialect: %s", dialect)
	}
}

func httpTargetURL(cfg HTTPConfig, topic string) (string, error) {
	switch strings.ToLower(cfg.Mode) {
	case "topic_url":
		if topic == "" {
			return "", errors.New("http topic url is empty")
		}
		return topic, nil
	case "base_url":
		if cfg.BaseURL == "" {
			return "", errors.New("http base_url is empty")
		}
		if topic == "" {
			return strings.TrimRight(cfg.BaseURL, "/"), nil
		}
		return strings.TrimRight(cfg.BaseURL, "/") + "/" + strings.TrimLeft(topic, "/"), nil
	default:
		return "", fmt.Errorf("unsupported http mode: %s", cfg.Mode)
	}
}

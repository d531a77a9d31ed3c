package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/poanetwork/tokenbridge-relayer/config"
	"github.com/poanetwork/tokenbridge-relayer/logging"
)

const defaultClientID = "tokenbridge-relayer"

type kafkaNotifier struct {
	logger   logging.Logger
	producer sarama.SyncProducer
	topic    string
}

func newSaramaConfig(cfg *config.KafkaConfig) *sarama.Config {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.ClientID = cfg.ClientID
	if saramaCfg.ClientID == "" {
		saramaCfg.ClientID = defaultClientID
	}
	return saramaCfg
}

// NewKafkaNotifier publishes notifications as JSON messages keyed by event id.
func NewKafkaNotifier(logger logging.Logger, cfg *config.KafkaConfig) (Notifier, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newSaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("can't create kafka producer: %w", err)
	}
	return NewKafkaNotifierWithProducer(logger, producer, cfg.Topic), nil
}

func NewKafkaNotifierWithProducer(logger logging.Logger, producer sarama.SyncProducer, topic string) Notifier {
	return &kafkaNotifier{
		logger:   logger.WithFields(logrus.Fields{"component": "kafka_notifier", "topic": topic}),
		producer: producer,
		topic:    topic,
	}
}

func (k *kafkaNotifier) Notify(_ context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("can't encode notification: %w", err)
	}
	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(n.Key()),
		Value: sarama.ByteEncoder(data),
	})
	if err != nil {
		return fmt.Errorf("can't publish notification: %w", err)
	}
	k.logger.WithFields(logrus.Fields{
		"kind":      n.Kind,
		"key":       n.Key(),
		"partition": partition,
		"offset":    offset,
	}).Debug("published notification")
	return nil
}

func (k *kafkaNotifier) Close() error {
	return k.producer.Close()
}

// Package events publishes committed wager resolutions to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/MarkoPoloResearchLab/stakeledger/pkg/wager"
	"go.uber.org/zap"
)

const (
	producerRetryMax   = 3
	resolutionSchema   = "wager.resolution.v1"
	headerSchema       = "schema"
	errorOperationSink = "publish"
	errorSubjectKafka  = "kafka"
	errorCodeEncode    = "encode"
	errorCodeSend      = "send"
)

// ResolutionMessage is the JSON value written for each resolution.
type ResolutionMessage struct {
	ResolutionID    string    `json:"resolutionId"`
	UserID          string    `json:"userId"`
	Stake           int64     `json:"stake"`
	Win             bool      `json:"win"`
	Payout          int64     `json:"payout"`
	PreviousBalance int64     `json:"previousBalance"`
	NewBalance      int64     `json:"newBalance"`
	ResolvedAt      time.Time `json:"resolvedAt"`
}

// NewResolutionMessage flattens a resolution into its wire form.
func NewResolutionMessage(resolution wager.Resolution) ResolutionMessage {
	return ResolutionMessage{
		ResolutionID:    resolution.ResolutionID,
		UserID:          resolution.UserID.String(),
		Stake:           resolution.Stake.Int64(),
		Win:             resolution.Outcome.Win,
		Payout:          resolution.Outcome.Amount.Int64(),
		PreviousBalance: resolution.PreviousBalance.Int64(),
		NewBalance:      resolution.NewBalance.Int64(),
		ResolvedAt:      resolution.ResolvedAt.UTC(),
	}
}

// NewProducerConfig returns the producer settings used for resolution events.
// Delivery failures surface on the Errors channel; successes are not reported.
func NewProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = producerRetryMax
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	return config
}

// NewAsyncProducer dials brokers with NewProducerConfig.
func NewAsyncProducer(brokers []string) (sarama.AsyncProducer, error) {
	producer, err := sarama.NewAsyncProducer(brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// KafkaPublisher implements wager.ResolutionPublisher. Messages are keyed by
// resolution id so a redelivered event can be deduplicated downstream.
type KafkaPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	logger   *zap.Logger
	drained  sync.WaitGroup
}

// NewKafkaPublisher wraps producer for topic. Delivery failures reported by
// the producer are logged to logger; a nil logger discards them.
func NewKafkaPublisher(producer sarama.AsyncProducer, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if producer == nil {
		return nil, fmt.Errorf("%w: kafka producer is nil", wager.ErrInvalidServiceConfig)
	}
	if topic == "" {
		return nil, fmt.Errorf("%w: kafka topic is empty", wager.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	publisher := &KafkaPublisher{producer: producer, topic: topic, logger: logger}
	publisher.drained.Add(2)
	go publisher.drainErrors()
	go publisher.drainSuccesses()
	return publisher, nil
}

func (publisher *KafkaPublisher) drainErrors() {
	defer publisher.drained.Done()
	for producerError := range publisher.producer.Errors() {
		fields := []zap.Field{zap.String("topic", publisher.topic), zap.Error(producerError.Err)}
		if producerError.Msg != nil && producerError.Msg.Key != nil {
			if key, err := producerError.Msg.Key.Encode(); err == nil {
				fields = append(fields, zap.String("resolution_id", string(key)))
			}
		}
		publisher.logger.Error("kafka delivery failed", fields...)
	}
}

// drainSuccesses keeps a producer built with Return.Successes from stalling.
func (publisher *KafkaPublisher) drainSuccesses() {
	defer publisher.drained.Done()
	for range publisher.producer.Successes() {
	}
}

// PublishResolution hands one message to the producer. It blocks only while
// the producer's input buffer is full and gives up when ctx ends.
func (publisher *KafkaPublisher) PublishResolution(ctx context.Context, resolution wager.Resolution) error {
	if err := ctx.Err(); err != nil {
		return wager.WrapError(errorOperationSink, errorSubjectKafka, errorCodeSend, err)
	}
	payload, err := json.Marshal(NewResolutionMessage(resolution))
	if err != nil {
		return wager.WrapError(errorOperationSink, errorSubjectKafka, errorCodeEncode, err)
	}
	message := &sarama.ProducerMessage{
		Topic: publisher.topic,
		Key:   sarama.StringEncoder(resolution.ResolutionID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerSchema), Value: []byte(resolutionSchema)},
		},
	}
	select {
	case publisher.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return wager.WrapError(errorOperationSink, errorSubjectKafka, errorCodeSend, ctx.Err())
	}
}

// Close flushes buffered messages and waits until every delivery failure
// has been logged.
func (publisher *KafkaPublisher) Close() error {
	publisher.producer.AsyncClose()
	publisher.drained.Wait()
	return nil
}

package sinks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink produces committed transaction outputs to a Kafka topic. Records
// are staged in the transaction, the produce happens between prepare and
// commit, and a produce error aborts the transaction so the records become
// eligible for reprocessing. A partially failed produce can leave some
// records on the topic before the abort, so a retry may deliver those again;
// deduplicating on the broker side needs idempotent or transactional
// produces, which this sink does not configure.
type KafkaSink struct {
	pipelineKey  string
	pipelineName string

	bootstrapServers string
	topic            string

	client    *kgo.Client
	processor *ExactlyOnceProcessor
}

// NewKafkaSink creates a Kafka sink over the given processor. A nil
// processor gets a default one.
func NewKafkaSink(processor *ExactlyOnceProcessor) *KafkaSink {
	if processor == nil {
		processor = NewExactlyOnceProcessor(nil)
	}
	return &KafkaSink{processor: processor}
}

// Init reads the sink's connection settings from the config map.
func (k *KafkaSink) Init(args SinkConfig) error {
	k.pipelineKey = args.Key
	k.pipelineName = args.Name

	if args.Config["bootstrap_servers"] == "" || args.Config["topic"] == "" {
		log.Error().Msg("Error missing config values")
		return fmt.Errorf("kafka sink: missing bootstrap_servers or topic")
	}
	k.bootstrapServers = args.Config["bootstrap_servers"]
	k.topic = args.Config["topic"]
	return nil
}

// Connect creates the Kafka producer client.
func (k *KafkaSink) Connect(ctx context.Context) error {
	log.Trace().Msg("Connecting to kafka cluster as a sink...")
	opts := []kgo.Opt{
		kgo.SeedBrokers(k.bootstrapServers),
		kgo.DefaultProduceTopic(k.topic),
		kgo.AllowAutoTopicCreation(),
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		log.Err(err).Msg("Error when creating a kafka producer!")
		return err
	}
	k.client = client
	return nil
}

// Begin opens a new output transaction.
func (k *KafkaSink) Begin() error {
	return k.processor.BeginTransaction()
}

// Write stages a record in the current transaction. It returns false when
// the record is a duplicate and was dropped.
func (k *KafkaSink) Write(record []byte) bool {
	return k.processor.ProcessRecord(record)
}

// Commit produces all staged records and commits the transaction. On a
// produce error the transaction is aborted and the records become eligible
// for reprocessing.
func (k *KafkaSink) Commit(ctx context.Context) error {
	if err := k.processor.PrepareTransaction(); err != nil {
		return err
	}

	pending := k.processor.PendingOutputs()
	records := make([]*kgo.Record, 0, len(pending))
	for _, data := range pending {
		records = append(records, &kgo.Record{Topic: k.topic, Value: data})
	}

	if len(records) > 0 {
		if err := k.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
			log.Err(err).Int("records", len(records)).Msg("kafka produce failed, aborting transaction")
			if abortErr := k.processor.AbortTransaction(); abortErr != nil {
				return abortErr
			}
			if resetErr := k.processor.ResetTransaction(); resetErr != nil {
				return resetErr
			}
			return fmt.Errorf("kafka produce: %w", err)
		}
	}

	if err := k.processor.CommitTransaction(); err != nil {
		return err
	}
	log.Debug().Int("records", len(records)).Str("topic", k.topic).Msg("committed transaction to kafka")
	return k.processor.ResetTransaction()
}

// Abort abandons the current transaction without producing anything.
func (k *KafkaSink) Abort() error {
	if err := k.processor.AbortTransaction(); err != nil {
		return err
	}
	return k.processor.ResetTransaction()
}

func (k *KafkaSink) Key() (string, error) {
	if k.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return k.pipelineKey, nil
}

func (k *KafkaSink) Name() string {
	return k.pipelineName
}

// Close closes the Kafka client.
func (k *KafkaSink) Close() error {
	if k.client != nil {
		k.client.Close()
	}
	return nil
}

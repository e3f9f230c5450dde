package sinks

import (
	"bytes"
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/rs/zerolog/log"
)

// ElasticSink indexes committed transaction outputs into Elasticsearch with
// the same staged-produce-commit flow as the Kafka sink.
type ElasticSink struct {
	pipelineKey  string
	pipelineName string

	elasticCloudID string
	elasticURL     string
	elasticAPIKey  string
	elasticIndex   string

	client    *elasticsearch.Client
	processor *ExactlyOnceProcessor
}

// NewElasticSink creates an Elasticsearch sink over the given processor. A
// nil processor gets a default one.
func NewElasticSink(processor *ExactlyOnceProcessor) *ElasticSink {
	if processor == nil {
		processor = NewExactlyOnceProcessor(nil)
	}
	return &ElasticSink{processor: processor}
}

// Init reads the sink's connection settings from the config map.
func (e *ElasticSink) Init(args SinkConfig) error {
	e.pipelineKey = args.Key
	e.pipelineName = args.Name
	e.elasticCloudID = args.Config["cloud_id"]
	e.elasticURL = args.Config["url"]
	e.elasticAPIKey = args.Config["api_key"]
	e.elasticIndex = args.Config["index_name"]
	if e.elasticIndex == "" {
		return fmt.Errorf("elastic sink: missing index_name")
	}
	return nil
}

// Connect creates the Elasticsearch client.
func (e *ElasticSink) Connect() error {
	log.Trace().Msg("Connecting to elasticsearch...")
	cfg := elasticsearch.Config{}
	if e.elasticCloudID != "" {
		cfg.CloudID = e.elasticCloudID
	} else if e.elasticURL != "" {
		cfg.Addresses = []string{e.elasticURL}
	}
	if e.elasticAPIKey != "" {
		cfg.APIKey = e.elasticAPIKey
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		log.Err(err).Msg("Error when creating the elasticsearch client!")
		return err
	}
	e.client = client
	return nil
}

// Begin opens a new output transaction.
func (e *ElasticSink) Begin() error {
	return e.processor.BeginTransaction()
}

// Write stages a record in the current transaction. It returns false when
// the record is a duplicate and was dropped.
func (e *ElasticSink) Write(record []byte) bool {
	return e.processor.ProcessRecord(record)
}

// Commit indexes all staged documents and commits the transaction. Any
// indexing error aborts the transaction.
func (e *ElasticSink) Commit(ctx context.Context) error {
	if err := e.processor.PrepareTransaction(); err != nil {
		return err
	}

	pending := e.processor.PendingOutputs()
	for _, doc := range pending {
		res, err := e.client.Index(e.elasticIndex, bytes.NewReader(doc),
			e.client.Index.WithContext(ctx))
		if err == nil && res.IsError() {
			err = fmt.Errorf("elasticsearch responded %s", res.Status())
		}
		if res != nil {
			res.Body.Close()
		}
		if err != nil {
			log.Err(err).Str("index", e.elasticIndex).Msg("indexing failed, aborting transaction")
			if abortErr := e.processor.AbortTransaction(); abortErr != nil {
				return abortErr
			}
			if resetErr := e.processor.ResetTransaction(); resetErr != nil {
				return resetErr
			}
			return fmt.Errorf("elasticsearch index: %w", err)
		}
	}

	if err := e.processor.CommitTransaction(); err != nil {
		return err
	}
	log.Debug().Int("documents", len(pending)).Str("index", e.elasticIndex).Msg("committed transaction to elasticsearch")
	return e.processor.ResetTransaction()
}

// Abort abandons the current transaction without indexing anything.
func (e *ElasticSink) Abort() error {
	if err := e.processor.AbortTransaction(); err != nil {
		return err
	}
	return e.processor.ResetTransaction()
}

func (e *ElasticSink) Key() (string, error) {
	if e.pipelineKey == "" {
		return "", fmt.Errorf("error no pipeline key is set")
	}
	return e.pipelineKey, nil
}

func (e *ElasticSink) Name() string {
	return e.pipelineName
}

// Close releases the Elasticsearch connection.
func (e *ElasticSink) Close() error {
	log.Info().Msg("Closing Elasticsearch connection")
	return nil
}

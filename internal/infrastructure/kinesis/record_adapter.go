// Package kinesis adapts Kinesis stream batches to the queue message handler
// used by the notifier, so the same handler runs under Lambda.
package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

var ErrEmptyRecord = errors.New("kinesis record has no data")

type MessageHandler func(ctx context.Context, key, value []byte) error

// MessageFromRecord extracts the partition key and JSON payload of a record.
func MessageFromRecord(record events.KinesisEventRecord) (key, value []byte, err error) {
	data := record.Kinesis.Data
	if len(data) == 0 {
		return nil, nil, ErrEmptyRecord
	}
	if !json.Valid(data) {
		return nil, nil, fmt.Errorf("record %s: payload is not valid JSON", record.EventID)
	}
	return []byte(record.Kinesis.PartitionKey), data, nil
}

// ProcessBatch runs handler over every record and reports the sequence
// numbers that failed so Lambda retries only those.
func ProcessBatch(ctx context.Context, batch events.KinesisEvent, handler MessageHandler, logger *zap.Logger) events.KinesisEventResponse {
	var failures []events.KinesisBatchItemFailure

	for _, record := range batch.Records {
		seq := record.Kinesis.SequenceNumber

		key, value, err := MessageFromRecord(record)
		if err == nil {
			err = handler(ctx, key, value)
		}
		if err != nil {
			logger.Error("failed to process record",
				zap.String("event_id", record.EventID),
				zap.String("sequence", seq),
				zap.Error(err))
			failures = append(failures, events.KinesisBatchItemFailure{ItemIdentifier: seq})
		}
	}

	logger.Info("processed batch",
		zap.Int("records", len(batch.Records)),
		zap.Int("failed", len(failures)))

	return events.KinesisEventResponse{BatchItemFailures: failures}
}

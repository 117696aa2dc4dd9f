package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

const (
	// SubjectCatalogChanged carries record-change notifications relayed
	// from the catalog's webhook.
	SubjectCatalogChanged = "concierge.catalog.changed"
	// SubjectCatalogChangedDLQ is the dead letter subject for events that
	// keep failing.
	SubjectCatalogChangedDLQ = "concierge.catalog.changed.dlq"
	// MaxRetries before an event is sent to the DLQ.
	MaxRetries = 3

	retryHeader = "X-Retry-Count"
)

// ChangeEvent is the payload published for one changed catalog record.
type ChangeEvent struct {
	RecordID string `json:"record_id"`
}

// Upserter syncs a single record.
type Upserter interface {
	UpsertOne(ctx context.Context, recordID string) error
}

// dlqMessage is published to the DLQ on repeated failure.
type dlqMessage struct {
	Event   ChangeEvent `json:"event"`
	Error   string      `json:"error"`
	Retries int         `json:"retries"`
}

// StartConsumer subscribes to catalog change events and upserts the affected
// record, with retry and DLQ support.
func StartConsumer(nc *nats.Conn, svc Upserter, logger *slog.Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	return nc.Subscribe(SubjectCatalogChanged, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Error("sync: malformed change event dropped", "err", err)
			return
		}
		if event.RecordID == "" {
			logger.Error("sync: change event without record_id dropped")
			return
		}

		retries := 0
		if msg.Header != nil {
			if v := msg.Header.Get(retryHeader); v != "" {
				fmt.Sscanf(v, "%d", &retries)
			}
		}

		err := svc.UpsertOne(context.Background(), event.RecordID)
		if err == nil {
			logger.Info("sync: change event applied", "record_id", event.RecordID)
			return
		}

		retries++
		logger.Error("sync: change event failed",
			"record_id", event.RecordID, "retry", retries, "err", err)

		if retries >= MaxRetries {
			dlq := dlqMessage{Event: event, Error: err.Error(), Retries: retries}
			data, _ := json.Marshal(dlq)
			if err := nc.Publish(SubjectCatalogChangedDLQ, data); err != nil {
				logger.Error("sync: DLQ publish failed", "err", err)
			}
			return
		}

		retryMsg := nats.NewMsg(SubjectCatalogChanged)
		retryMsg.Data = msg.Data
		retryMsg.Header = nats.Header{}
		retryMsg.Header.Set(retryHeader, fmt.Sprintf("%d", retries))
		if err := nc.PublishMsg(retryMsg); err != nil {
			logger.Error("sync: retry publish failed", "err", err)
		}
	})
}

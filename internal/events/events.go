// Package events publishes run lifecycle changes to NATS so operator UIs
// and downstream consumers can follow indexing progress without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/quillstack/corpusd/internal/logging"
	"github.com/quillstack/corpusd/internal/runs"
)

// DefaultSubjectPrefix is the root of all corpusd subjects.
const DefaultSubjectPrefix = "corpusd"

// RunEvent is the wire shape for run lifecycle changes.
type RunEvent struct {
	RunID          string    `json:"run_id"`
	OrgName        string    `json:"org_name"`
	UserID         string    `json:"user_id"`
	Datasource     string    `json:"datasource"`
	IndexName      string    `json:"index_name"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	ItemsTotal     int       `json:"items_total"`
	ItemsCompleted int       `json:"items_completed"`
	ItemsFailed    int       `json:"items_failed"`
	At             time.Time `json:"at"`
}

// ItemEvent is the wire shape for item lifecycle changes.
type ItemEvent struct {
	ItemID     string    `json:"item_id"`
	RunID      string    `json:"run_id"`
	DocumentID string    `json:"document_id"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher emits run events to NATS. A nil Publisher is a valid no-op, so
// callers never need to branch on whether events are configured.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *logging.Logger
	now    func() time.Time
}

// Connect dials NATS and returns a Publisher.
func Connect(url, subjectPrefix string, logger *logging.Logger) (*Publisher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &Publisher{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	_ = p.conn.Drain()
}

// RunChanged implements runs.Notifier.
// Subject: {prefix}.runs.{org}.{datasource}.{status}
func (p *Publisher) RunChanged(run runs.Run) {
	if p == nil || p.conn == nil {
		return
	}
	subject := fmt.Sprintf("%s.runs.%s.%s.%s", p.prefix, run.OrgName, run.Datasource, run.Status)
	p.publish(subject, RunEvent{
		RunID:          run.ID,
		OrgName:        run.OrgName,
		UserID:         run.UserID,
		Datasource:     run.Datasource,
		IndexName:      run.IndexName,
		Status:         string(run.Status),
		Error:          run.Error,
		ItemsTotal:     run.ItemsTotal,
		ItemsCompleted: run.ItemsCompleted,
		ItemsFailed:    run.ItemsFailed,
		At:             p.now().UTC(),
	})
}

// ItemChanged implements runs.Notifier.
// Subject: {prefix}.items.{run_id}.{status}
func (p *Publisher) ItemChanged(item runs.Item) {
	if p == nil || p.conn == nil {
		return
	}
	subject := fmt.Sprintf("%s.items.%s.%s", p.prefix, item.RunID, item.Status)
	p.publish(subject, ItemEvent{
		ItemID:     item.ID,
		RunID:      item.RunID,
		DocumentID: item.DocumentID,
		Title:      item.Title,
		Status:     string(item.Status),
		Error:      item.Error,
		At:         p.now().UTC(),
	})
}

// publish is fire-and-forget: event loss must never fail a run.
func (p *Publisher) publish(subject string, payload any) {
	ctx := context.Background()
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn(ctx, "encoding event", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		p.logger.Warn(ctx, "publishing event", zap.String("subject", subject), zap.Error(err))
	}
}

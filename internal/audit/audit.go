// Package audit records durable pipeline-activity rows (via internal/store,
// adapted from statemanager/manager.go's
// in-memory OperationState lifecycle), a side-channel Schema.org-flavored
// Event published over AMQP for external consumers, and per-task-kind
// Prometheus counters/histograms.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"

	"jaces.io/core/internal/store"
)

// Event mirrors semantic/runtime/event.go's Schema.org Event shape,
// generalized from workflow-action events to pipeline-task events.
type Event struct {
	Context     string                 `json:"@context"`
	Type        string                 `json:"@type"`
	Identifier  string                 `json:"identifier"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	StartDate   time.Time              `json:"startDate"`
	About       map[string]interface{} `json:"about,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	AdditionalProperty map[string]interface{} `json:"additionalProperty,omitempty"`
}

// Publisher publishes a pipeline Event to external consumers (the
// collaborator web frontend). Nil-able: a Recorder with no publisher
// configured simply skips the side-channel.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// AMQPPublisher publishes events to a durable RabbitMQ queue, grounded on
// queue/rabbit.go's RabbitMQService (default exchange, queue name as
// routing key, durable queue declaration).
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
}

// NewAMQPPublisher connects to RabbitMQ and declares the durable events
// queue.
func NewAMQPPublisher(url, queueName string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declaring amqp queue: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, queue: queueName}, nil
}

// Publish marshals and publishes one event to the default exchange.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	return p.channel.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

// Metrics holds the Prometheus instrumentation: a task counter keyed by
// (task_kind, status) and a duration histogram keyed by task_kind, grounded
// on tracing/metrics.go's CounterVec/HistogramVec shape.
type Metrics struct {
	TasksTotal    *prometheus.CounterVec
	TaskDuration  *prometheus.HistogramVec
}

// NewMetrics registers the audit counters/histograms under the given
// namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Total scheduler-dispatched tasks by kind and terminal status.",
		}, []string{"task_kind", "status"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Task execution duration by kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task_kind"}),
	}
}

// Register adds every audit metric to the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.TasksTotal, m.TaskDuration)
}

// Recorder ties together durable activity rows, the AMQP side-channel, and
// Prometheus instrumentation for one task's lifecycle.
type Recorder struct {
	store     *store.Store
	publisher Publisher
	metrics   *Metrics
}

// NewRecorder builds a Recorder. publisher may be nil to skip the AMQP
// side-channel (e.g. in tests).
func NewRecorder(st *store.Store, publisher Publisher, metrics *Metrics) *Recorder {
	return &Recorder{store: st, publisher: publisher, metrics: metrics}
}

// Start records a task's start as a running pipeline-activity row.
func (r *Recorder) Start(ctx context.Context, taskID, taskKind, sourceName, streamName string) error {
	return r.store.StartActivity(ctx, taskID, taskKind, sourceName, streamName)
}

// Complete records a task's terminal outcome: the durable row, the
// Prometheus counters, and (best-effort) the AMQP side-channel event.
func (r *Recorder) Complete(ctx context.Context, taskID, taskKind string, started time.Time, recordsProcessed int, taskErr error) error {
	if err := r.store.CompleteActivity(ctx, taskID, recordsProcessed, taskErr); err != nil {
		return err
	}

	status := "completed"
	if taskErr != nil {
		status = "failed"
	}

	if r.metrics != nil {
		r.metrics.TasksTotal.WithLabelValues(taskKind, status).Inc()
		r.metrics.TaskDuration.WithLabelValues(taskKind).Observe(time.Since(started).Seconds())
	}

	if r.publisher != nil {
		event := r.buildEvent(taskID, taskKind, status, recordsProcessed, taskErr)
		if err := r.publisher.Publish(ctx, event); err != nil {
			return fmt.Errorf("publishing audit event for %s: %w", taskID, err)
		}
	}
	return nil
}

func (r *Recorder) buildEvent(taskID, taskKind, status string, recordsProcessed int, taskErr error) Event {
	event := Event{
		Context:    "https://schema.org",
		Type:       "Event",
		Identifier: taskID,
		Name:       taskKind,
		StartDate:  time.Now(),
		About: map[string]interface{}{
			"@type":      "Action",
			"identifier": taskID,
			"actionType": taskKind,
		},
		Result: map[string]interface{}{
			"@type":            "Thing",
			"status":           status,
			"recordsProcessed": recordsProcessed,
		},
		AdditionalProperty: map[string]interface{}{
			"taskKind": taskKind,
		},
	}
	if taskErr != nil {
		event.Description = taskErr.Error()
	}
	return event
}

// CleanupAuditRows deletes pipeline_activity rows older than the retention
// window.
func (r *Recorder) CleanupAuditRows(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return r.store.CleanupActivityOlderThan(ctx, cutoff)
}

// Package notify relays engine events to the external notification service.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/frahmantamala/transport-fees/internal/core/events"
	"github.com/frahmantamala/transport-fees/internal/metrics"
)

type Job struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	Occurred  time.Time              `json:"occurred_at"`
	Data      map[string]interface{} `json:"data"`
}

type Worker struct {
	ID         int
	WorkerPool chan chan Job
	JobChannel chan Job
	Logger     *slog.Logger
}

func NewWorker(id int, workerPool chan chan Job, logger *slog.Logger) *Worker {
	return &Worker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan Job),
		Logger:     logger,
	}
}

func (w *Worker) Start(ctx context.Context, wg *sync.WaitGroup, process func(Job)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case w.WorkerPool <- w.JobChannel:
			case <-ctx.Done():
				return
			}

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("worker delivering notification", "worker_id", w.ID, "event_id", job.EventID)
				process(job)
			case <-ctx.Done():
				w.Logger.Debug("notification worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

type Config struct {
	WebhookURL string
	Workers    int
	QueueSize  int
	Timeout    time.Duration
}

// Relay is a bounded worker pool that posts events to a webhook. With no
// webhook configured it only logs. A full queue drops the notification;
// delivery never blocks the operation that raised the event.
type Relay struct {
	webhookURL string
	httpClient *http.Client
	logger     *slog.Logger

	jobQueue   chan Job
	workerPool chan chan Job
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	pending    sync.WaitGroup
	once       sync.Once
	stopOnce   sync.Once
}

func NewRelay(cfg Config, logger *slog.Logger) *Relay {
	ctx, cancel := context.WithCancel(context.Background())

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	r := &Relay{
		webhookURL: cfg.WebhookURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		jobQueue:   make(chan Job, queueSize),
		workerPool: make(chan chan Job, workers),
		maxWorkers: workers,
		ctx:        ctx,
		cancel:     cancel,
	}
	r.start()
	return r
}

func (r *Relay) start() {
	r.once.Do(func() {
		for i := 0; i < r.maxWorkers; i++ {
			NewWorker(i, r.workerPool, r.logger).Start(r.ctx, &r.wg, func(job Job) {
				defer r.pending.Done()
				r.deliver(job)
			})
		}
		r.wg.Add(1)
		go r.dispatch()

		r.logger.Info("notification relay started",
			"workers", r.maxWorkers,
			"queue_size", cap(r.jobQueue),
			"webhook_configured", r.webhookURL != "")
	})
}

func (r *Relay) dispatch() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.jobQueue:
			select {
			case jobChannel := <-r.workerPool:
				select {
				case jobChannel <- job:
				case <-r.ctx.Done():
					return
				}
			case <-r.ctx.Done():
				return
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Subscribe registers the relay for every notifiable event type.
func (r *Relay) Subscribe(bus *events.EventBus) {
	for _, t := range events.NotifiableTypes {
		bus.Subscribe(t, r.Handle)
	}
}

// Handle is an events.Handler that enqueues the event for delivery.
func (r *Relay) Handle(_ context.Context, event events.Event) error {
	data, _ := event.Payload().(map[string]interface{})
	job := Job{
		EventID:   event.EventID(),
		EventType: event.EventType(),
		Occurred:  event.OccurredAt(),
		Data:      data,
	}
	r.pending.Add(1)
	select {
	case r.jobQueue <- job:
		return nil
	default:
		r.pending.Done()
		metrics.NotificationsDropped.Inc()
		r.logger.Warn("notification queue full, dropping event",
			"event_id", job.EventID,
			"event_type", job.EventType,
			"queue_capacity", cap(r.jobQueue))
		return fmt.Errorf("notification queue full")
	}
}

func (r *Relay) deliver(job Job) {
	if r.webhookURL == "" {
		r.logger.Info("notification", "event_type", job.EventType, "event_id", job.EventID, "data", job.Data)
		return
	}

	body, err := json.Marshal(job)
	if err != nil {
		r.logger.Error("failed to marshal notification", "event_id", job.EventID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(r.ctx, http.MethodPost, r.webhookURL, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("failed to build notification request", "event_id", job.EventID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Error("notification delivery failed", "event_id", job.EventID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		r.logger.Warn("notification endpoint rejected event",
			"event_id", job.EventID,
			"status_code", resp.StatusCode)
		return
	}
	r.logger.Debug("notification delivered", "event_id", job.EventID, "event_type", job.EventType)
}

// Drain waits until every queued job has been delivered or ctx ends.
func (r *Relay) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops the workers. Queued but undelivered jobs are discarded.
func (r *Relay) Shutdown() {
	r.stopOnce.Do(func() {
		r.logger.Info("shutting down notification relay", "pending", len(r.jobQueue))
		r.cancel()
		r.wg.Wait()
	})
}

package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PredictionEvent represents one step in the life of a prediction request
type PredictionEvent struct {
	EventType  EventType     `json:"event_type"`
	Timestamp  time.Time     `json:"timestamp"`
	UserID     string        `json:"user_id,omitempty"`
	ImageURL   string        `json:"image_url,omitempty"`
	Disease    string        `json:"disease,omitempty"`
	Confidence float64       `json:"confidence,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	// Reason is the error type for rejected and failed requests
	Reason       string                 `json:"reason,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of prediction event
type EventType string

const (
	// PredictionStarted when a request passes validation and the classifier is about to run
	PredictionStarted EventType = "prediction_started"
	// PredictionCompleted when a response with a diagnosis is produced
	PredictionCompleted EventType = "prediction_completed"
	// PredictionRejected when validation fails before any process is spawned
	PredictionRejected EventType = "prediction_rejected"
	// PredictionFailed when the classifier fails or returns malformed output
	PredictionFailed EventType = "prediction_failed"
	// RecordDegraded when the diagnosis could not be persisted
	RecordDegraded EventType = "record_degraded"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event PredictionEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event PredictionEvent)
}

// LoggingObserver logs prediction events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles prediction events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event PredictionEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"image_url":  event.ImageURL,
	}
	if event.UserID != "" {
		fields["user_id"] = event.UserID
	}
	if event.Disease != "" {
		fields["disease"] = event.Disease
		fields["confidence"] = event.Confidence
	}
	if event.Duration > 0 {
		fields["duration"] = event.Duration.String()
	}
	if event.Reason != "" {
		fields["reason"] = event.Reason
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case PredictionStarted:
		entry.Info("Prediction started")
	case PredictionCompleted:
		entry.Info("Prediction completed")
	case PredictionRejected:
		entry.Warn("Prediction rejected")
	case PredictionFailed:
		entry.Error("Prediction failed")
	case RecordDegraded:
		entry.Warn("Prediction not saved to database")
	default:
		entry.Info("Prediction event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers event to every observer in subscription order.
// Delivery is synchronous so events of one request are observed in order.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event PredictionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, obs := range observers {
		notify(ctx, obs, event)
	}
}

func notify(ctx context.Context, obs Observer, event PredictionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}

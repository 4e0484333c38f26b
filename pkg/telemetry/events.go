package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by flow runners.
const (
	EventTypeFlowRunStarted   = "flow_run.started"
	EventTypeFlowRunCompleted = "flow_run.completed"
	EventTypeFlowRunFailed    = "flow_run.failed"
	EventTypeTaskRunStarted   = "task_run.started"
	EventTypeTaskRunCompleted = "task_run.completed"
	EventTypeTaskRunFailed    = "task_run.failed"
	EventTypeTaskRunSkipped   = "task_run.skipped"
)

// Event levels, in increasing severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

var eventLevels = map[string]int{
	EventLevelInfo:    0,
	EventLevelWarning: 1,
	EventLevelError:   2,
}

// Event is one step of a flow run.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Level     string                 `json:"level"`
	RunID     string                 `json:"run_id"`
	Flow      string                 `json:"flow,omitempty"`
	Task      string                 `json:"task,omitempty"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventSubscriber receives events. It runs on the publishing goroutine.
type EventSubscriber func(event Event)

// EventFilter reports whether a subscriber wants an event.
type EventFilter func(event Event) bool

// FilterByLevel keeps events at minLevel or above. An unknown minLevel keeps everything.
func FilterByLevel(minLevel string) EventFilter {
	floor := eventLevels[minLevel]
	return func(event Event) bool {
		return eventLevels[event.Level] >= floor
	}
}

// ValidEventLevel reports whether level names an event level.
func ValidEventLevel(level string) bool {
	_, ok := eventLevels[level]
	return ok
}

// EventPublisher delivers events synchronously, in subscription order.
// Publishing on a nil *EventPublisher does nothing.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscription
}

type subscription struct {
	fn     EventSubscriber
	filter EventFilter
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{}
}

// Subscribe registers fn for the events filter accepts; a nil filter accepts all.
func (ep *EventPublisher) Subscribe(fn EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscription{fn: fn, filter: filter})
}

// Publish stamps event with an ID and timestamp when missing and delivers it.
func (ep *EventPublisher) Publish(event Event) {
	if ep == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, sub := range ep.subscribers {
		if sub.filter == nil || sub.filter(event) {
			sub.fn(event)
		}
	}
}

func (ep *EventPublisher) PublishFlowRunStarted(runID, flow, executor string) {
	ep.Publish(Event{
		Type:    EventTypeFlowRunStarted,
		Level:   EventLevelInfo,
		RunID:   runID,
		Flow:    flow,
		Message: fmt.Sprintf("Flow run %s of %s started on %s executor", runID, flow, executor),
		Data:    map[string]interface{}{"executor": executor},
	})
}

func (ep *EventPublisher) PublishFlowRunCompleted(runID, flow string, duration time.Duration) {
	ep.Publish(Event{
		Type:    EventTypeFlowRunCompleted,
		Level:   EventLevelInfo,
		RunID:   runID,
		Flow:    flow,
		Message: fmt.Sprintf("Flow run %s of %s completed in %s", runID, flow, duration.Round(time.Millisecond)),
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishFlowRunFailed(runID, flow, reason string) {
	ep.Publish(Event{
		Type:    EventTypeFlowRunFailed,
		Level:   EventLevelError,
		RunID:   runID,
		Flow:    flow,
		Message: fmt.Sprintf("Flow run %s of %s failed: %s", runID, flow, reason),
	})
}

func (ep *EventPublisher) PublishTaskRunStarted(runID, task, kind string) {
	ep.Publish(Event{
		Type:    EventTypeTaskRunStarted,
		Level:   EventLevelInfo,
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s (%s) started", task, kind),
		Data:    map[string]interface{}{"kind": kind},
	})
}

func (ep *EventPublisher) PublishTaskRunCompleted(runID, task string, duration time.Duration) {
	ep.Publish(Event{
		Type:    EventTypeTaskRunCompleted,
		Level:   EventLevelInfo,
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s completed", task),
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	})
}

func (ep *EventPublisher) PublishTaskRunFailed(runID, task, reason string) {
	ep.Publish(Event{
		Type:    EventTypeTaskRunFailed,
		Level:   EventLevelError,
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s failed: %s", task, reason),
	})
}

func (ep *EventPublisher) PublishTaskRunSkipped(runID, task, reason string) {
	ep.Publish(Event{
		Type:    EventTypeTaskRunSkipped,
		Level:   EventLevelWarning,
		RunID:   runID,
		Task:    task,
		Message: fmt.Sprintf("Task %s skipped: %s", task, reason),
	})
}

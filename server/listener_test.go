package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"esmtpd/logging"
)

// eventRecordingObserver records endpoint lifecycle and command-execution
// events for assertions, leaving every other SessionObserver method inert.
type eventRecordingObserver struct {
	NoOpObserver

	mu       sync.Mutex
	started  []EndpointDefinition
	stopped  []EndpointDefinition
	executed []string
}

func (o *eventRecordingObserver) OnEndpointEvent(event EndpointEvent, def EndpointDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch event {
	case EndpointStarted:
		o.started = append(o.started, def)
	case EndpointStopped:
		o.stopped = append(o.stopped, def)
	}
}

func (o *eventRecordingObserver) CommandExecuting(_ *SessionContext, verb string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executed = append(o.executed, verb)
}

func (o *eventRecordingObserver) snapshot() (started, stopped []EndpointDefinition) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]EndpointDefinition{}, o.started...), append([]EndpointDefinition{}, o.stopped...)
}

func TestEndpointLifecycleEventsFireOnStartAndStop(t *testing.T) {
	obs := &eventRecordingObserver{}
	opts := &Options{
		Logger:   logging.NewStdoutLogger(&logging.LogConfig{Level: logging.ERROR, Format: "text", Output: "stdout"}),
		Observer: obs,
	}
	opts.MessageStore = discardingStore{}
	opts.EnsureDefaults()

	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	def := EndpointDefinition{Address: "127.0.0.1", Port: 0}
	set, err := startAll(context.Background(), srv, []EndpointDefinition{def})
	if err != nil {
		t.Fatalf("startAll: %v", err)
	}

	started, _ := obs.snapshot()
	if len(started) != 1 {
		t.Fatalf("expected one EndpointStarted event, got %d", len(started))
	}

	set.closeAll()

	deadline := time.Now().Add(time.Second)
	for {
		_, stopped := obs.snapshot()
		if len(stopped) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected one EndpointStopped event, got %d", len(stopped))
		}
		time.Sleep(time.Millisecond)
	}
}

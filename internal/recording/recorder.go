package recording

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rahul/reenact/internal/action"
)

// EventSource delivers input events until ctx is done or the source ends.
type EventSource interface {
	Listen(ctx context.Context, emit func(Event)) error
}

// JSONLSource reads one JSON event per line. Events without a timestamp
// are stamped on arrival.
type JSONLSource struct {
	R   io.Reader
	Now func() time.Time
}

func (s *JSONLSource) Listen(ctx context.Context, emit func(Event)) error {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	sc := bufio.NewScanner(s.R)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if ctx.Err() != nil {
			return nil
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return fmt.Errorf("event line %d: %w", line, err)
		}
		if e.Time.IsZero() {
			e.Time = now()
		}
		emit(e)
	}
	return sc.Err()
}

// Recorder runs the input listener and the screenshot capturer side by
// side, both writing into Log.
type Recorder struct {
	Screen   action.Screen
	Source   EventSource
	Interval time.Duration
	Log      *Log
}

func NewRecorder(screen action.Screen, source EventSource, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = time.Second
	}
	return &Recorder{Screen: screen, Source: source, Interval: interval, Log: &Log{}}
}

// Run records until ctx is cancelled or the event source ends. Besides the
// periodic captures, every button press triggers an immediate capture so
// each click has a frame close to it.
func (r *Recorder) Run(ctx context.Context) (*Log, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	trigger := make(chan struct{}, 1)
	var wg sync.WaitGroup
	var listenErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		listenErr = r.Source.Listen(ctx, func(e Event) {
			r.Log.AppendEvent(e)
			if e.Kind == EventClickDown || e.Kind == EventClick {
				select {
				case trigger <- struct{}{}:
				default:
				}
			}
		})
	}()
	go func() {
		defer wg.Done()
		r.capture(ctx, trigger)
	}()
	wg.Wait()

	if listenErr != nil && !errors.Is(listenErr, context.Canceled) {
		return r.Log, listenErr
	}
	log.Printf("[recorder] captured %d log entries", r.Log.Len())
	return r.Log, nil
}

func (r *Recorder) capture(ctx context.Context, trigger <-chan struct{}) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	shoot := func() {
		img, err := r.Screen.Capture(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("[recorder] capture failed: %v", err)
			}
			return
		}
		r.Log.AppendFrame(Frame{Time: time.Now(), Image: img})
	}

	shoot()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			shoot()
		case <-trigger:
			shoot()
		}
	}
}

package agent

import (
	"context"
	"log"
	"time"

	"github.com/rahul/reenact/internal/observability"
)

type Messenger interface {
	Send(chatID string, text string) error
}

// Scheduler re-submits stored requests to the Brain when they fall due.
type Scheduler struct {
	Brain    Brain
	Store    ScheduleStore
	Gateway  Messenger
	Interval time.Duration
	Logger   *observability.Logger
	now      func() time.Time
}

func NewScheduler(brain Brain, store ScheduleStore, gateway Messenger) *Scheduler {
	return &Scheduler{
		Brain:    brain,
		Store:    store,
		Gateway:  gateway,
		Interval: 30 * time.Second,
		now:      time.Now,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Println("Task scheduler started...")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.Heartbeat()
			if s.Logger != nil {
				s.Logger.LogHeartbeat()
			}
			s.pollAndExecute(ctx)
		}
	}
}

func (s *Scheduler) pollAndExecute(ctx context.Context) {
	due, err := s.Store.PendingSchedules(s.now())
	if err != nil {
		log.Printf("Error polling schedules: %v", err)
		return
	}

	for _, sc := range due {
		if ctx.Err() != nil {
			return
		}
		log.Printf("Executing schedule %d for chat %s: %s", sc.ID, sc.ChatID, sc.Request)

		response, err := s.Brain.Think(ctx, sc.ChatID, sc.Request)
		if err != nil {
			log.Printf("Error executing schedule %d: %v", sc.ID, err)
			continue
		}

		if err := s.Store.MarkScheduleRun(sc.ID, s.now()); err != nil {
			log.Printf("Error updating last run for schedule %d: %v", sc.ID, err)
		}

		// one-time schedules are removed after their run
		if sc.Interval == 0 {
			if err := s.Store.DeleteSchedule(sc.ChatID, sc.ID); err != nil {
				log.Printf("Error deleting one-time schedule %d: %v", sc.ID, err)
			}
		}

		if s.Gateway != nil {
			if err := s.Gateway.Send(sc.ChatID, "⏰ Scheduled run: "+sc.Request+"\n\n"+response); err != nil {
				log.Printf("Error notifying chat %s: %v", sc.ChatID, err)
			}
		}
	}
}

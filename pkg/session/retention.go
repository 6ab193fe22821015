package session

import (
	"sort"

	"github.com/harun/agentenv/pkg/events"
	"github.com/harun/agentenv/pkg/job"
)

// SetMaxInactiveJobs changes the retention bound. It applies at the next launch.
func (s *Session) SetMaxInactiveJobs(n int) {
	if n <= 0 {
		n = DefaultMaxInactiveJobs
	}

	s.mu.Lock()
	old := s.maxInactiveJobs
	s.maxInactiveJobs = n
	s.mu.Unlock()

	if old != n {
		s.logger.Info().
			Int("oldMax", old).
			Int("newMax", n).
			Msg("Job retention bound updated")
	}
}

// MaxInactiveJobs returns the retention bound
func (s *Session) MaxInactiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInactiveJobs
}

// cleanupLocked drops the oldest finished jobs beyond the bound and returns
// them. Caller holds s.mu.
func (s *Session) cleanupLocked() []*job.Job {
	var inactive []*job.Job
	for _, j := range s.jobs {
		if isFinished(j) {
			inactive = append(inactive, j)
		}
	}

	excess := len(inactive) - s.maxInactiveJobs
	if excess <= 0 {
		return nil
	}

	sort.SliceStable(inactive, func(a, b int) bool {
		return inactive[a].CompletedAt().Before(inactive[b].CompletedAt())
	})

	evict := make(map[*job.Job]bool, excess)
	for _, j := range inactive[:excess] {
		evict[j] = true
	}

	kept := s.jobs[:0]
	var evicted []*job.Job
	for _, j := range s.jobs {
		if evict[j] {
			evicted = append(evicted, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(s.jobs); i++ {
		s.jobs[i] = nil
	}
	s.jobs = kept

	return evicted
}

func (s *Session) reportEvicted(evicted []*job.Job) {
	if len(evicted) == 0 {
		return
	}

	s.logger.Debug().Int("evicted", len(evicted)).Msg("Inactive jobs evicted")
	if s.metrics != nil {
		s.metrics.JobsEvicted(len(evicted))
	}
	for _, j := range evicted {
		s.events.Emit(events.Event{Type: events.JobEvicted, WorkerID: j.Worker().ID(), JobID: j.ID()})
	}
}

// Cleanup applies the retention bound immediately and returns how many jobs
// were evicted
func (s *Session) Cleanup() int {
	s.mu.Lock()
	evicted := s.cleanupLocked()
	s.mu.Unlock()

	s.reportEvicted(evicted)
	return len(evicted)
}

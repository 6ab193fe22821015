// Package session is the registry that builds workers and launches jobs.
//
// Invariants:
// - Workers are append-only; jobs are appended on launch and removed only by
//   the retention policy.
// - Retention runs before every launch and keeps at most MaxInactiveJobs
//   finished jobs, evicting the oldest completions first.
// - Active jobs are never evicted.
//
// Usage:
//
//	s, err := session.New(session.Config{Providers: pool})
//	w := s.BuildWorker("researcher")
//	j, err := s.Launch(w, task.NewAgentLoop(task.AgentLoopConfig{Worker: w, Message: "hi"}))
//	outcome, err := j.Wait(ctx)
package session

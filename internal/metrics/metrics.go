package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
)

// automationStats holds process-local counters for the automation engine.
// Thread-safe for use from the event bus, the scheduler and exposition.
type automationStats struct {
	mu sync.Mutex

	ruleRuns    map[string]uint64 // key: source|status
	events      map[string]uint64 // key: event type
	emails      map[string]uint64 // key: status
	sweepTicks  uint64
	sweepErrors uint64
}

var st automationStats

func inc(m *map[string]uint64, key string) {
	st.mu.Lock()
	if *m == nil {
		*m = make(map[string]uint64)
	}
	(*m)[key]++
	st.mu.Unlock()
}

// IncRuleRun counts one rule execution by trigger source and outcome.
func IncRuleRun(source, status string) {
	inc(&st.ruleRuns, source+"|"+status)
}

// IncEvent counts one emitted event.
func IncEvent(eventType string) {
	inc(&st.events, eventType)
}

// IncEmail counts one outbound email attempt by outcome.
func IncEmail(status string) {
	inc(&st.emails, status)
}

// IncSweepTick counts one scheduler tick; failed marks a tick where a sweep returned an error.
func IncSweepTick(failed bool) {
	atomic.AddUint64(&st.sweepTicks, 1)
	if failed {
		atomic.AddUint64(&st.sweepErrors, 1)
	}
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	RuleRuns    map[string]uint64
	Events      map[string]uint64
	Emails      map[string]uint64
	SweepTicks  uint64
	SweepErrors uint64
}

// Take returns a copy of the current counters.
func Take() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		RuleRuns:    copyMap(st.ruleRuns),
		Events:      copyMap(st.events),
		Emails:      copyMap(st.emails),
		SweepTicks:  atomic.LoadUint64(&st.sweepTicks),
		SweepErrors: atomic.LoadUint64(&st.sweepErrors),
	}
}

// Reset clears all counters. Tests only.
func Reset() {
	st.mu.Lock()
	st.ruleRuns, st.events, st.emails = nil, nil, nil
	st.mu.Unlock()
	atomic.StoreUint64(&st.sweepTicks, 0)
	atomic.StoreUint64(&st.sweepErrors, 0)
}

func copyMap(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// WritePrometheus renders the counters in Prometheus text exposition format.
func WritePrometheus(w io.Writer) {
	s := Take()

	fmt.Fprintln(w, "# HELP freelancehub_automation_rule_runs_total Automation rule executions")
	fmt.Fprintln(w, "# TYPE freelancehub_automation_rule_runs_total counter")
	for _, k := range sortedKeys(s.RuleRuns) {
		source, status := splitKey(k)
		fmt.Fprintf(w, "freelancehub_automation_rule_runs_total{source=%q,status=%q} %d\n", source, status, s.RuleRuns[k])
	}

	fmt.Fprintln(w, "# HELP freelancehub_automation_events_total Events emitted on the bus")
	fmt.Fprintln(w, "# TYPE freelancehub_automation_events_total counter")
	for _, k := range sortedKeys(s.Events) {
		fmt.Fprintf(w, "freelancehub_automation_events_total{type=%q} %d\n", k, s.Events[k])
	}

	fmt.Fprintln(w, "# HELP freelancehub_emails_total Outbound email attempts")
	fmt.Fprintln(w, "# TYPE freelancehub_emails_total counter")
	for _, k := range sortedKeys(s.Emails) {
		fmt.Fprintf(w, "freelancehub_emails_total{status=%q} %d\n", k, s.Emails[k])
	}

	fmt.Fprintln(w, "# HELP freelancehub_scheduler_ticks_total Scheduler sweep ticks")
	fmt.Fprintln(w, "# TYPE freelancehub_scheduler_ticks_total counter")
	fmt.Fprintf(w, "freelancehub_scheduler_ticks_total %d\n", s.SweepTicks)
	fmt.Fprintln(w, "# HELP freelancehub_scheduler_tick_errors_total Scheduler ticks with a failed sweep")
	fmt.Fprintln(w, "# TYPE freelancehub_scheduler_tick_errors_total counter")
	fmt.Fprintf(w, "freelancehub_scheduler_tick_errors_total %d\n", s.SweepErrors)
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitKey(k string) (string, string) {
	for i := 0; i < len(k); i++ {
		if k[i] == '|' {
			return k[:i], k[i+1:]
		}
	}
	return k, ""
}

package alerting

import (
	"strings"
	"sync"
	"time"
)

// alertStore owns all mutable alerting state: the active-alert set, bounded
// history, the notification log, suppression entries, and per-channel rate
// counters. One mutex guards everything; callers never hold it across I/O.
type alertStore struct {
	mu sync.Mutex

	active        map[string]*Alert // alert id -> alert
	byFingerprint map[string]string // fingerprint -> active alert id

	history       []Alert
	notifications []NotificationRecord

	snoozes     map[string]time.Time // fingerprint -> suppress until
	suppression []SuppressionRule

	rateCounters map[string]*rateWindow // channel id -> window

	duplicates uint64
}

type rateWindow struct {
	start time.Time
	count int
}

func newAlertStore() *alertStore {
	return &alertStore{
		active:        make(map[string]*Alert),
		byFingerprint: make(map[string]string),
		snoozes:       make(map[string]time.Time),
		rateCounters:  make(map[string]*rateWindow),
	}
}

// addActive registers a new alert in the active set and history.
func (s *alertStore) addActive(alert *Alert, maxHistory int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[alert.ID] = alert
	s.byFingerprint[alert.Fingerprint] = alert.ID
	s.appendHistoryLocked(*alert, maxHistory)
}

// recordDuplicate notes a deduplicated occurrence: history only, no active
// entry, no notification.
func (s *alertStore) recordDuplicate(alert Alert, maxHistory int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates++
	s.appendHistoryLocked(alert, maxHistory)
}

func (s *alertStore) appendHistoryLocked(alert Alert, maxHistory int) {
	s.history = append(s.history, alert)
	if maxHistory > 0 && len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
}

// firingDuplicate returns true if an alert with the fingerprint is already
// active and younger than the deduplication window. Suppressed actives count
// too: a snoozed fingerprint must not accrete a new suppressed alert on
// every evaluation cycle.
func (s *alertStore) firingDuplicate(fp string, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byFingerprint[fp]
	if !ok {
		return false
	}
	alert, ok := s.active[id]
	if !ok {
		return false
	}
	return time.Since(alert.CreatedAt) < window
}

// markNotified records that a channel accepted a notification for the alert.
func (s *alertStore) markNotified(alertID, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.active[alertID]
	if !ok {
		return
	}
	for _, id := range alert.NotifiedChannels {
		if id == channelID {
			return
		}
	}
	alert.NotifiedChannels = append(alert.NotifiedChannels, channelID)
}

// acknowledge appends an acknowledgment to an active alert.
func (s *alertStore) acknowledge(alertID, user, comment string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.active[alertID]
	if !ok {
		return false
	}
	alert.Acknowledgments = append(alert.Acknowledgments, Acknowledgment{
		User:    user,
		Comment: comment,
		Time:    time.Now(),
	})
	return true
}

// escalate advances an alert to the given escalation level. It refuses if
// the alert is gone, suppressed, or has been acknowledged.
func (s *alertStore) escalate(alertID string, level int, severity Severity) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.active[alertID]
	if !ok {
		return Alert{}, false
	}
	if alert.Status == StatusSuppressed || len(alert.Acknowledgments) > 0 {
		return Alert{}, false
	}
	alert.Status = StatusEscalated
	alert.EscalationLevel = level
	if severity != "" {
		alert.Severity = severity
	}
	return *alert, true
}

// resolve marks an active alert resolved and moves it to history, returning
// its final state.
func (s *alertStore) resolve(alertID, user, comment string, maxHistory int) (Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.active[alertID]
	if !ok {
		return Alert{}, false
	}
	alert.Status = StatusResolved
	alert.ResolvedAt = time.Now()
	alert.ResolvedBy = user
	if comment != "" {
		alert.Acknowledgments = append(alert.Acknowledgments, Acknowledgment{
			User:    user,
			Comment: comment,
			Time:    alert.ResolvedAt,
		})
	}
	delete(s.active, alertID)
	delete(s.byFingerprint, alert.Fingerprint)
	s.appendHistoryLocked(*alert, maxHistory)
	return *alert, true
}

func (s *alertStore) activeAlerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Alert, 0, len(s.active))
	for _, alert := range s.active {
		out = append(out, *alert)
	}
	return out
}

func (s *alertStore) historyTail(limit int) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	tail := s.history[len(s.history)-limit:]
	out := make([]Alert, len(tail))
	copy(out, tail)
	return out
}

func (s *alertStore) recordNotification(rec NotificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, rec)
}

func (s *alertStore) notificationLog() []NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]NotificationRecord, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// snooze silences a fingerprint until the deadline.
func (s *alertStore) snooze(fp string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snoozes[fp] = until
}

func (s *alertStore) snoozed(fp string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.snoozes[fp]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(s.snoozes, fp)
		return false
	}
	return true
}

func (s *alertStore) addSuppression(rule SuppressionRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.suppression = append(s.suppression, rule)
}

// suppressed checks the alert against every declarative suppression rule.
func (s *alertStore) suppressed(alert *Alert, channels []string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range s.suppression {
		if suppressionMatches(rule, alert, channels) {
			return true
		}
	}
	return false
}

func suppressionMatches(rule SuppressionRule, alert *Alert, channels []string) bool {
	var fields []string
	switch rule.Field {
	case "metric":
		fields = []string{alert.Metric}
	case "component":
		fields = []string{alert.Component}
	case "operation":
		fields = []string{alert.Operation}
	case "severity":
		fields = []string{string(alert.Severity)}
	case "channel":
		fields = channels
	default:
		return false
	}

	for _, field := range fields {
		if fieldMatches(rule.Operator, field, rule.Value) {
			return true
		}
	}
	return false
}

func fieldMatches(op, field, value string) bool {
	switch op {
	case "", "eq":
		return field == value
	case "neq":
		return field != value
	case "contains":
		return strings.Contains(field, value)
	case "prefix":
		return strings.HasPrefix(field, value)
	default:
		return false
	}
}

// allowNotification applies the channel's fixed-window rate limit, counting
// the notification if allowed.
func (s *alertStore) allowNotification(channelID string, limit *RateLimit) bool {
	if limit == nil || limit.MaxAlerts <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	w, ok := s.rateCounters[channelID]
	if !ok || now.Sub(w.start) >= limit.Window {
		w = &rateWindow{start: now}
		s.rateCounters[channelID] = w
	}
	if w.count >= limit.MaxAlerts {
		return false
	}
	w.count++
	return true
}

// cleanup drops history, notification log, and expired snoozes older than
// the retention horizon.
func (s *alertStore) cleanup(retention time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-retention)

	kept := s.history[:0]
	for _, alert := range s.history {
		if alert.CreatedAt.After(cutoff) {
			kept = append(kept, alert)
		}
	}
	s.history = kept

	keptNotes := s.notifications[:0]
	for _, rec := range s.notifications {
		if rec.Time.After(cutoff) {
			keptNotes = append(keptNotes, rec)
		}
	}
	s.notifications = keptNotes

	now := time.Now()
	for fp, until := range s.snoozes {
		if now.After(until) {
			delete(s.snoozes, fp)
		}
	}

	// Suppressed alerts leave the active set once no live snooze holds their
	// fingerprint; they stay in history. Without this they would accumulate
	// until explicit per-id resolution.
	for id, alert := range s.active {
		if alert.Status != StatusSuppressed {
			continue
		}
		if until, ok := s.snoozes[alert.Fingerprint]; ok && now.Before(until) {
			continue
		}
		delete(s.active, id)
		if s.byFingerprint[alert.Fingerprint] == id {
			delete(s.byFingerprint, alert.Fingerprint)
		}
	}
}

func (s *alertStore) duplicateCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

func (s *alertStore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

package reputation

import "time"

// ApplyEvent folds a reputation-affecting event into participant's record.
// Idempotent, keyed by (eventID, participant), per spec §5: replaying the
// same event twice has no additional effect. Events are folded in the order
// ApplyEvent is called, each stamped with a monotonic sequence number; they
// are not reordered by timestamp or participant, so the resulting integrity
// depends on call order.
func (s *Store) ApplyEvent(eventID, participant string, kind EventKind, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventID + "|" + participant
	if s.seenEvents[key] {
		return nil
	}

	r, ok := s.records[participant]
	if !ok {
		return ErrUnknownParticipant
	}

	s.seenEvents[key] = true
	s.sequence++
	entry := LogEntry{
		EventID:     eventID,
		Participant: participant,
		Kind:        kind,
		Timestamp:   t,
		Sequence:    s.sequence,
	}
	r.Log = append(r.Log, entry)

	r.Integrity = clamp(r.Integrity+integrityWeight(kind), 0, 1)

	switch kind {
	case EventBlockProduced:
		r.StoredBlocks++
	case EventEquivocation:
		r.Integrity = 0
		r.QuarantineUntil = t.Add(QuarantineDuration)
	}

	return nil
}

// RecordUptime adds delta to participant's cumulative uptime, called by the
// node orchestrator's heartbeat loop on each successful liveness check.
func (s *Store) RecordUptime(participant string, delta time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[participant]
	if !ok {
		return ErrUnknownParticipant
	}
	r.CumulativeUptime += delta
	return nil
}

// ExpireQuarantine resets a participant whose quarantine has elapsed back to
// a low positive integrity baseline, per spec §4.7's state-machine
// transition Quarantined -> Active.
func (s *Store) ExpireQuarantine(participant string, now time.Time, baseline float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[participant]
	if !ok {
		return ErrUnknownParticipant
	}
	if r.Quarantined(now) {
		return nil
	}
	if !r.QuarantineUntil.IsZero() {
		r.Integrity = baseline
		r.QuarantineUntil = time.Time{}
	}
	return nil
}

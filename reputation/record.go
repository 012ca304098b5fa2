// Package reputation maintains the per-participant reputation record used by
// the leader lottery and fork-choice rules, and the BLS aggregation of
// per-window heartbeat attestations used to keep finality checkpoints a
// constant size regardless of participant count.
package reputation

import (
	"sort"
	"sync"
	"time"
)

// EventKind names a recognized reputation-affecting event.
type EventKind string

const (
	EventBlockProduced  EventKind = "block_produced"
	EventBlockValidated EventKind = "block_validated"
	EventInvalidBlock   EventKind = "invalid_block"
	EventEquivocation   EventKind = "equivocation"
)

// integrityWeight returns the signed contribution of kind to the integrity
// dimension, per spec §4.4's event-weight table.
func integrityWeight(kind EventKind) float64 {
	switch kind {
	case EventBlockProduced:
		return 0.05
	case EventBlockValidated:
		return 0.02
	case EventInvalidBlock:
		return -0.15
	case EventEquivocation:
		return -1.0
	default:
		return 0
	}
}

// QuarantineDuration is the time-box applied after an equivocation event.
const QuarantineDuration = 180 * 24 * time.Hour

// ProbationDuration is how long a participant's reputation is ramped per
// spec §4.7's new-node probation.
const ProbationDuration = 180 * 24 * time.Hour

// LogEntry is one applied event, retained for determinism and audit.
type LogEntry struct {
	EventID     string
	Participant string
	Kind        EventKind
	Timestamp   time.Time
	Sequence    uint64
}

// Location is the geography metadata used by the geography dimension.
type Location struct {
	Country string
	City    string
}

// Record is the persistent reputation state for one participant, created by
// Register and mutated only through Store methods (ApplyEvent, RecordUptime,
// SetTier, Bond, ExpireQuarantine). Never destroyed.
type Record struct {
	Participant      string
	FirstSeen        time.Time
	CumulativeUptime time.Duration
	Integrity        float64 // running value from 1, clamped to [0, 1] after each event
	StoredBlocks     uint64
	Location         Location
	MutualBonds      map[string]bool
	QuarantineUntil  time.Time
	Tier             AttestationSourceTier // defaults to Tier1 (full node)
	Log              []LogEntry
}

func newRecord(participant string, firstSeen time.Time) *Record {
	return &Record{
		Participant: participant,
		FirstSeen:   firstSeen,
		Integrity:   1.0,
		MutualBonds: make(map[string]bool),
		Tier:        Tier1,
	}
}

// Quarantined reports whether the participant is currently excluded from the
// leader lottery.
func (r *Record) Quarantined(now time.Time) bool {
	return now.Before(r.QuarantineUntil)
}

// Store holds reputation records for all known participants, keyed by
// participant ID. It is exclusive to the reputation engine (spec §5); other
// components observe it only through Score/ApplyEvent.
type Store struct {
	mu               sync.RWMutex
	records          map[string]*Record
	totalBlocks      uint64            // denominator for the storage dimension
	regionPeerCounts map[string]uint64 // "country" or "country/city" -> peer count
	regionsSeen      map[string]map[string]bool // participant -> set of regions it has observed
	regionTarget     uint64
	seenEvents       map[string]bool // (eventID, participant) idempotency key
	sequence         uint64
	registrationLog  []time.Time // first-seen timestamps, for the influx safeguard
}

// NewStore creates an empty reputation Store. regionTarget is the "target"
// divisor in the geography saturation formula (spec §4.4); a node typically
// sets it to the number of regions it actively tracks peers in.
func NewStore(regionTarget uint64) *Store {
	if regionTarget == 0 {
		regionTarget = 1
	}
	return &Store{
		records:          make(map[string]*Record),
		regionPeerCounts: make(map[string]uint64),
		regionsSeen:      make(map[string]map[string]bool),
		regionTarget:     regionTarget,
		seenEvents:       make(map[string]bool),
	}
}

// Register creates a Record for participant at firstSeen if one does not
// already exist. Idempotent. Tracks the registration for the influx
// safeguard (spec §4.7).
func (s *Store) Register(participant string, firstSeen time.Time, loc Location) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[participant]; ok {
		return r
	}
	r := newRecord(participant, firstSeen)
	r.Location = loc
	s.records[participant] = r
	s.registrationLog = append(s.registrationLog, firstSeen)

	s.bumpRegionLocked(loc.Country)
	if loc.City != "" {
		s.bumpRegionLocked(loc.Country + "/" + loc.City)
	}
	seen := s.regionsSeen[participant]
	if seen == nil {
		seen = make(map[string]bool)
		s.regionsSeen[participant] = seen
	}
	seen[loc.Country] = true
	return r
}

func (s *Store) bumpRegionLocked(region string) {
	if region == "" {
		return
	}
	s.regionPeerCounts[region]++
}

// Get returns the record for participant, if registered.
func (s *Store) Get(participant string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[participant]
	return r, ok
}

// SetTier records participant's attestation source tier (spec §6/§9),
// applied as a lottery-weight multiplier by EffectiveScore.
func (s *Store) SetTier(participant string, tier AttestationSourceTier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[participant]
	if !ok {
		return ErrUnknownParticipant
	}
	r.Tier = tier
	return nil
}

// SetTotalBlocks updates the denominator used by the storage dimension.
func (s *Store) SetTotalBlocks(total uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalBlocks = total
}

// Participants returns all known participant IDs, sorted for deterministic
// iteration (used by the lottery's eligible-set sum).
func (s *Store) Participants() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for id := range s.records {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

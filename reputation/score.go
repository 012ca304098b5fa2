package reputation

import (
	"math"
	"time"
)

// Dimension weights, per spec §4.4's table. Their sum is 1.0.
const (
	weightUptime    = 0.50
	weightIntegrity = 0.20
	weightStorage   = 0.15
	weightGeography = 0.10
	weightHandshake = 0.05
)

// uptimeSaturationSeconds is 180 days, the point at which the uptime
// dimension saturates at 1.0.
const uptimeSaturationSeconds = 15_552_000.0

// handshakeSaturationBonds is the mutual-bond count at which the handshake
// dimension saturates at 1.0.
const handshakeSaturationBonds = 10.0

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// uptimeScore implements `min(uptime_seconds / 15552000, 1.0)`.
func uptimeScore(r *Record) float64 {
	return clamp(r.CumulativeUptime.Seconds()/uptimeSaturationSeconds, 0, 1)
}

// integrityScore reads the running value ApplyEvent keeps in
// Record.Integrity, with the clamp re-asserted for safety. ApplyEvent clamps
// to [0, 1] after every event and sets 0 on equivocation, so the value equals
// `clamp(1 + sum(signed_events), 0, 1)` only when no intermediate step hit a
// bound.
func integrityScore(r *Record) float64 {
	return clamp(r.Integrity, 0, 1)
}

// storageScore implements `min(stored_blocks / total_blocks, 1.0)`.
func storageScore(r *Record, totalBlocks uint64) float64 {
	if totalBlocks == 0 {
		return 0
	}
	return clamp(float64(r.StoredBlocks)/float64(totalBlocks), 0, 1)
}

// regionScore implements the shared formula used for both country and city:
// `0.7*(1/(1+log10(peersInRegion))) + 0.3*(regionsSeen/target)`.
func regionScore(peersInRegion uint64, regionsSeen, target uint64) float64 {
	if peersInRegion == 0 {
		peersInRegion = 1
	}
	density := 0.7 * (1.0 / (1.0 + math.Log10(float64(peersInRegion))))
	breadth := 0.3 * (float64(regionsSeen) / float64(target))
	return density + breadth
}

// geographyScore implements `0.6*country_score + 0.4*city_score` plus the
// first-in-country/first-in-city bonuses.
func (s *Store) geographyScore(r *Record) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	countryPeers := s.regionPeerCounts[r.Location.Country]
	regionsSeen := uint64(len(s.regionsSeen[r.Participant]))

	countryScore := regionScore(countryPeers, regionsSeen, s.regionTarget)
	if countryPeers <= 1 {
		countryScore += 0.25
	}

	cityKey := r.Location.Country + "/" + r.Location.City
	cityPeers := s.regionPeerCounts[cityKey]
	cityScore := regionScore(cityPeers, regionsSeen, s.regionTarget)
	if r.Location.City != "" && cityPeers <= 1 {
		cityScore += 0.15
	}

	return clamp(0.6*countryScore+0.4*cityScore, 0, 1)
}

// handshakeScore implements `min(mutual_bonds/10, 1.0)`.
func handshakeScore(r *Record) float64 {
	return clamp(float64(len(r.MutualBonds))/handshakeSaturationBonds, 0, 1)
}

// Score computes the weighted sum of the five bounded-saturation dimensions
// for participant at the given moment. Returns 0 for an unregistered or
// quarantined participant (quarantine zeroes the score and excludes the
// participant from the lottery, per spec §4.4).
func (s *Store) Score(participant string, now time.Time) float64 {
	r, ok := s.Get(participant)
	if !ok {
		return 0
	}
	if r.Quarantined(now) {
		return 0
	}

	s.mu.RLock()
	total := s.totalBlocks
	s.mu.RUnlock()

	score := weightUptime*uptimeScore(r) +
		weightIntegrity*integrityScore(r) +
		weightStorage*storageScore(r, total) +
		weightGeography*s.geographyScore(r) +
		weightHandshake*handshakeScore(r)

	return clamp(score, 0, 1)
}

// CanHandshake reports whether a and b satisfy the mutual-trust bonding
// requirements of spec §4.4: both parties at ≥90% uptime, ≥0.8 integrity,
// ≥0.9 storage, >0.1 geography, and registered in different countries.
func (s *Store) CanHandshake(a, b string, now time.Time) bool {
	ra, ok := s.Get(a)
	if !ok {
		return false
	}
	rb, ok := s.Get(b)
	if !ok {
		return false
	}
	if ra.Location.Country == rb.Location.Country {
		return false
	}

	s.mu.RLock()
	total := s.totalBlocks
	s.mu.RUnlock()

	return qualifiesForBond(ra, total, s) && qualifiesForBond(rb, total, s)
}

func qualifiesForBond(r *Record, totalBlocks uint64, s *Store) bool {
	return uptimeScore(r) >= 0.90 &&
		integrityScore(r) >= 0.8 &&
		storageScore(r, totalBlocks) >= 0.9 &&
		s.geographyScore(r) > 0.1
}

// Bond records a reciprocal mutual-trust declaration between a and b, after
// confirming both sides qualify.
func (s *Store) Bond(a, b string, now time.Time) error {
	if !s.CanHandshake(a, b, now) {
		return ErrHandshakeIneligible
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[a].MutualBonds[b] = true
	s.records[b].MutualBonds[a] = true
	return nil
}

// ProbationMultiplier implements spec §4.7's linear probation ramp: 0.10 at
// registration, rising to 1.0 at 180 days. influxActive tightens the
// under-30-day multiplier to 0.1 for the probation period, per the influx
// safeguard.
func ProbationMultiplier(firstSeen, now time.Time, influxActive bool) float64 {
	age := now.Sub(firstSeen)
	if age >= ProbationDuration {
		return 1.0
	}
	if age < 0 {
		age = 0
	}
	if influxActive && age < 30*24*time.Hour {
		return 0.1
	}
	ramp := 0.10 + 0.90*(age.Seconds()/ProbationDuration.Seconds())
	return clamp(ramp, 0.10, 1.0)
}

// EffectiveScore applies the probation multiplier and the participant's
// attestation-source tier weight (spec §6/§9) on top of Score, per spec
// §4.7 ("new-node probation ... reads reputation state").
func (s *Store) EffectiveScore(participant string, now time.Time, influxActive bool) float64 {
	r, ok := s.Get(participant)
	if !ok {
		return 0
	}
	base := s.Score(participant, now)
	return base * ProbationMultiplier(r.FirstSeen, now, influxActive) * TierWeight(r.Tier)
}

// InfluxActive reports whether the rate of first-seen registrations in the
// trailing window exceeds twice the trailing median of the previous 30
// windows, per spec §4.7's influx safeguard. windowSeconds is the width of
// one window (typically one finality interval).
func (s *Store) InfluxActive(now time.Time, windowSeconds float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if windowSeconds <= 0 || len(s.registrationLog) == 0 {
		return false
	}

	counts := bucketCounts(s.registrationLog, now, windowSeconds, 31)
	if len(counts) < 2 {
		return false
	}
	current := counts[len(counts)-1]
	trailing := append([]uint64{}, counts[:len(counts)-1]...)
	return float64(current) > 2*median(trailing)
}

func bucketCounts(timestamps []time.Time, now time.Time, windowSeconds float64, numBuckets int) []uint64 {
	counts := make([]uint64, numBuckets)
	for _, t := range timestamps {
		age := now.Sub(t).Seconds()
		if age < 0 {
			continue
		}
		bucket := numBuckets - 1 - int(age/windowSeconds)
		if bucket < 0 || bucket >= numBuckets {
			continue
		}
		counts[bucket]++
	}
	return counts
}

func median(values []uint64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]uint64{}, values...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return float64(sorted[mid])
}

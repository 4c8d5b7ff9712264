package metrics

import (
	"sync"
	"time"
)

const (
	// samples retained per instance/datacenter pair
	defaultSampleCap = 1000
	// feature vectors retained per instance for model training
	defaultFeatureCap = 10000
)

// Store keeps recent samples and derived feature vectors in memory.
// Samples are ringed per (instance, datacenter); feature vectors are
// ringed per instance across all datacenters.
type Store struct {
	mu        sync.RWMutex
	sampleCap int
	featCap   int
	samples   map[string][]Sample
	features  map[string][][]float64
}

// NewStore creates a store with the default ring capacities
func NewStore() *Store {
	return &Store{
		sampleCap: defaultSampleCap,
		featCap:   defaultFeatureCap,
		samples:   make(map[string][]Sample),
		features:  make(map[string][][]float64),
	}
}

func sampleKey(uid, dc string) string {
	return uid + "/" + dc
}

// Append records a sample and its feature vector, evicting the oldest
// entries once the rings are full. Failed probes contribute no feature
// vector since their gauges are zero, not measured.
func (s *Store) Append(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sampleKey(sample.InstanceUID, sample.Datacenter)
	ring := append(s.samples[key], sample)
	if len(ring) > s.sampleCap {
		ring = ring[len(ring)-s.sampleCap:]
	}
	s.samples[key] = ring

	if sample.ProbeError != "" {
		return
	}

	feats := append(s.features[sample.InstanceUID], sample.FeatureVector())
	if len(feats) > s.featCap {
		feats = feats[len(feats)-s.featCap:]
	}
	s.features[sample.InstanceUID] = feats
}

// Latest returns up to n most recent samples for one endpoint,
// oldest first.
func (s *Store) Latest(uid, dc string, n int) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ring := s.samples[sampleKey(uid, dc)]
	if n > len(ring) {
		n = len(ring)
	}
	out := make([]Sample, n)
	copy(out, ring[len(ring)-n:])
	return out
}

// Since returns all samples for an instance across datacenters newer
// than the given age, ordered by timestamp.
func (s *Store) Since(uid string, age time.Duration) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-age)
	var out []Sample
	for key, ring := range s.samples {
		if len(key) < len(uid)+1 || key[:len(uid)+1] != uid+"/" {
			continue
		}
		for _, sample := range ring {
			if sample.Timestamp.After(cutoff) {
				out = append(out, sample)
			}
		}
	}

	// rings are time-ordered individually, merge order across DCs
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Timestamp.Before(out[j-1].Timestamp); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// Features returns a copy of the training matrix for an instance
func (s *Store) Features(uid string) [][]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feats := s.features[uid]
	out := make([][]float64, len(feats))
	for i, row := range feats {
		cp := make([]float64, len(row))
		copy(cp, row)
		out[i] = cp
	}
	return out
}

// FeatureCount returns how many training vectors an instance has
func (s *Store) FeatureCount(uid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features[uid])
}

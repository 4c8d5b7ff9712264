package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(uid, dc string, ts time.Time, latency float64) Sample {
	return Sample{
		Timestamp:   ts,
		InstanceUID: uid,
		Datacenter:  dc,
		LatencyMs:   latency,
	}
}

func TestStoreAppendAndLatest(t *testing.T) {
	store := NewStore()
	now := time.Now()

	for i := 0; i < 5; i++ {
		store.Append(sampleAt("bdb1", "primary", now.Add(time.Duration(i)*time.Second), float64(i)))
	}
	store.Append(sampleAt("bdb1", "secondary", now, 99))

	latest := store.Latest("bdb1", "primary", 3)
	require.Len(t, latest, 3)
	assert.Equal(t, 2.0, latest[0].LatencyMs)
	assert.Equal(t, 4.0, latest[2].LatencyMs)

	// asking for more than stored returns everything
	all := store.Latest("bdb1", "primary", 100)
	assert.Len(t, all, 5)

	// other endpoints are isolated
	assert.Len(t, store.Latest("bdb1", "secondary", 10), 1)
	assert.Empty(t, store.Latest("bdb2", "primary", 10))
}

func TestStoreSampleRingEviction(t *testing.T) {
	store := NewStore()
	now := time.Now()

	for i := 0; i < defaultSampleCap+50; i++ {
		store.Append(sampleAt("bdb1", "primary", now.Add(time.Duration(i)*time.Millisecond), float64(i)))
	}

	all := store.Latest("bdb1", "primary", defaultSampleCap*2)
	require.Len(t, all, defaultSampleCap)
	// oldest 50 evicted
	assert.Equal(t, 50.0, all[0].LatencyMs)
}

func TestStoreSince(t *testing.T) {
	store := NewStore()
	now := time.Now()

	store.Append(sampleAt("bdb1", "primary", now.Add(-20*time.Minute), 1))
	store.Append(sampleAt("bdb1", "primary", now.Add(-5*time.Minute), 2))
	store.Append(sampleAt("bdb1", "secondary", now.Add(-2*time.Minute), 3))
	store.Append(sampleAt("bdb2", "primary", now.Add(-1*time.Minute), 4))

	recent := store.Since("bdb1", 10*time.Minute)
	require.Len(t, recent, 2)
	// merged across datacenters, time ordered
	assert.Equal(t, 2.0, recent[0].LatencyMs)
	assert.Equal(t, "secondary", recent[1].Datacenter)
}

func TestStoreFeatures(t *testing.T) {
	store := NewStore()
	now := time.Now()

	good := sampleAt("bdb1", "primary", now, 12.5)
	good.MemoryUsedPercent = 60
	good.HitRate = 0.9
	store.Append(good)

	failed := sampleAt("bdb1", "primary", now.Add(time.Second), 0)
	failed.ProbeError = "dial tcp: connection refused"
	store.Append(failed)

	feats := store.Features("bdb1")
	require.Len(t, feats, 1, "failed probes must not produce training vectors")
	require.Len(t, feats[0], len(FeatureNames))
	assert.Equal(t, 12.5, feats[0][0])
	assert.Equal(t, 60.0, feats[0][1])
	assert.Equal(t, 0.9, feats[0][2])
	assert.Equal(t, 1, store.FeatureCount("bdb1"))

	// returned matrix is a copy
	feats[0][0] = -1
	assert.Equal(t, 12.5, store.Features("bdb1")[0][0])
}

func TestFeatureVectorSquashing(t *testing.T) {
	s := Sample{
		LatencyMs:           250,
		MemoryUsedPercent:   97,
		HitRate:             0.5,
		OpsPerSec:           50000,
		ConnectedClients:    4000,
		RejectedConnections: 7,
		EvictedKeys:         3,
		API:                 map[string]float64{"api_avg_latency_ms": 42},
	}

	v := s.FeatureVector()
	require.Len(t, v, 8)
	assert.Equal(t, 250.0, v[0])
	assert.Equal(t, 1.0, v[3], "ops squashed to 1")
	assert.Equal(t, 1.0, v[4], "clients squashed to 1")
	assert.Equal(t, 7.0, v[5])
	assert.Equal(t, 42.0, v[7])

	s.API = nil
	assert.Equal(t, 0.0, s.FeatureVector()[7], "missing admin metrics default to zero")
}

func TestStoreFeatureRingEviction(t *testing.T) {
	store := &Store{
		sampleCap: 10,
		featCap:   5,
		samples:   make(map[string][]Sample),
		features:  make(map[string][][]float64),
	}

	for i := 0; i < 8; i++ {
		s := sampleAt("bdb1", "primary", time.Now(), float64(i))
		store.Append(s)
	}

	feats := store.Features("bdb1")
	require.Len(t, feats, 5)
	assert.Equal(t, 3.0, feats[0][0], fmt.Sprintf("expected oldest retained vector to be latency 3, got %v", feats[0][0]))
}

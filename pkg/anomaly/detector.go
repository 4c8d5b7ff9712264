package anomaly

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/jihwankim/redisguard/pkg/config"
	"github.com/jihwankim/redisguard/pkg/health"
	"github.com/jihwankim/redisguard/pkg/logging"
	"github.com/jihwankim/redisguard/pkg/metrics"
)

const (
	// minimum training vectors before a model is fit
	WarmupSamples = 100

	trainDelay    = 5 * time.Minute
	trainInterval = time.Hour

	// expected fraction of outliers in the training window
	contamination = 0.05

	scoreFailing   = 0.9
	scoreNoTraffic = 0.95

	consecutiveForAlert = 3
)

// ErrNotTrained is returned when a model has not reached warm-up yet
var ErrNotTrained = fmt.Errorf("model not trained")

// FeatureSource provides the per-instance training matrix
type FeatureSource interface {
	Features(uid string) [][]float64
}

// AlertSink receives anomaly alerts
type AlertSink interface {
	Raise(alertType, severity, message string, details map[string]interface{})
}

// model is one trained per-instance detector
type model struct {
	Forest       *Forest
	Scaler       *Scaler
	ScoreMin     float64
	ScoreMax     float64
	LastTraining time.Time
}

// Detector scores probe samples against per-instance isolation forests
// and escalates health statuses for anomalous endpoints.
type Detector struct {
	cfg    *config.Config
	source FeatureSource
	sink   AlertSink
	logger *logging.Logger

	mu          sync.RWMutex
	models      map[string]*model
	consecutive map[string]int

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewDetector creates a detector and loads any persisted models from
// the configured model path. sink may be nil.
func NewDetector(cfg *config.Config, source FeatureSource, sink AlertSink, logger *logging.Logger) *Detector {
	d := &Detector{
		cfg:         cfg,
		source:      source,
		sink:        sink,
		logger:      logger.WithField("component", "anomaly"),
		models:      make(map[string]*model),
		consecutive: make(map[string]int),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}

	for _, instance := range cfg.Instances {
		m, err := loadModel(cfg.ModelPath, instance.UID)
		if err != nil {
			d.logger.Debug("no persisted model", "instance", instance.UID, "error", err.Error())
			continue
		}
		d.models[instance.UID] = m
		d.logger.Info("loaded persisted model",
			"instance", instance.UID,
			"last_training", m.LastTraining.Format(time.RFC3339))
	}

	return d
}

// Start runs the training loop: an initial settle delay, then a refit
// of every instance once per hour.
func (d *Detector) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop halts the training loop and persists all trained models
func (d *Detector) Stop() {
	close(d.stopCh)
	<-d.doneCh
	d.SaveAll()
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.doneCh)

	delay := time.NewTimer(trainDelay)
	defer delay.Stop()

	select {
	case <-d.stopCh:
		return
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	d.TrainAll()

	ticker := time.NewTicker(trainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.TrainAll()
		}
	}
}

// TrainAll refits every instance that has passed warm-up
func (d *Detector) TrainAll() {
	for _, instance := range d.cfg.Instances {
		data := d.source.Features(instance.UID)
		if len(data) < WarmupSamples {
			d.logger.Debug("warm-up not reached",
				"instance", instance.UID, "samples", len(data))
			continue
		}
		if err := d.Train(instance.UID, data); err != nil {
			d.logger.Error("training failed", "instance", instance.UID, "error", err.Error())
		}
	}
}

// Train fits a model for one instance from the given training matrix
func (d *Detector) Train(uid string, data [][]float64) error {
	if len(data) < WarmupSamples {
		return fmt.Errorf("need %d samples, have %d", WarmupSamples, len(data))
	}

	scaler := FitScaler(data)
	scaled := scaler.TransformAll(data)

	rng := rand.New(rand.NewSource(42))
	forest := BuildForest(scaled, defaultTreeCount, rng)

	scores := make([]float64, len(scaled))
	for i, row := range scaled {
		scores[i] = forest.Score(row)
	}
	sort.Float64s(scores)

	m := &model{
		Forest:       forest,
		Scaler:       scaler,
		ScoreMin:     scores[0],
		ScoreMax:     scores[int(float64(len(scores))*(1-contamination))-1],
		LastTraining: time.Now(),
	}
	if m.ScoreMax <= m.ScoreMin {
		m.ScoreMax = m.ScoreMin + 1e-9
	}

	d.mu.Lock()
	d.models[uid] = m
	d.mu.Unlock()

	if err := saveModel(d.cfg.ModelPath, uid, m); err != nil {
		d.logger.Warn("model persistence failed", "instance", uid, "error", err.Error())
	}

	d.logger.Info("model trained",
		"instance", uid,
		"samples", len(data),
		"score_min", m.ScoreMin,
		"score_max", m.ScoreMax)
	return nil
}

// Score returns the normalized anomaly score in [0,1] for a feature
// vector. Scores beyond the training distribution saturate at 1.
func (d *Detector) Score(uid string, features []float64) (float64, error) {
	d.mu.RLock()
	m := d.models[uid]
	d.mu.RUnlock()

	if m == nil {
		return 0, ErrNotTrained
	}

	raw := m.Forest.Score(m.Scaler.Transform(features))
	norm := (raw - m.ScoreMin) / (m.ScoreMax - m.ScoreMin)
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	return norm, nil
}

// Trained reports whether an instance has a usable model
func (d *Detector) Trained(uid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.models[uid] != nil
}

// Enhance folds the anomaly score into an evaluated status. Repeated
// anomalies escalate the state and eventually raise an alert.
func (d *Detector) Enhance(st *health.Status, sample metrics.Sample) {
	score, err := d.Score(sample.InstanceUID, sample.FeatureVector())
	if err != nil {
		return
	}

	st.AnomalyScore = score
	key := sample.InstanceUID + "/" + sample.Datacenter

	if score <= d.cfg.AnomalyThreshold {
		d.mu.Lock()
		d.consecutive[key] = 0
		d.mu.Unlock()
		st.ConsecutiveAnomalies = 0
		return
	}

	st.IsAnomaly = true
	st.Issues = append(st.Issues, fmt.Sprintf("Anomalous metrics pattern (score %.2f)", score))

	switch {
	case score > scoreNoTraffic:
		st.Demote(health.StateFailing)
		st.CanServeTraffic = false
	case score > scoreFailing:
		st.Demote(health.StateFailing)
	default:
		st.Demote(health.StateDegraded)
	}

	d.mu.Lock()
	d.consecutive[key]++
	count := d.consecutive[key]
	d.mu.Unlock()
	st.ConsecutiveAnomalies = count

	d.logger.Warn("anomaly detected",
		"instance", sample.InstanceUID,
		"datacenter", sample.Datacenter,
		"score", score,
		"consecutive", count)

	if count >= consecutiveForAlert && d.sink != nil {
		d.raiseAlert(sample, score, count)
	}
}

func (d *Detector) raiseAlert(sample metrics.Sample, score float64, count int) {
	severity := "warning"
	switch {
	case score > scoreNoTraffic:
		severity = "critical"
	case score > scoreFailing:
		severity = "error"
	}

	d.sink.Raise("anomaly_detected", severity,
		fmt.Sprintf("Anomalous behavior on %s in %s (score %.2f, %d consecutive)",
			sample.InstanceName, sample.Datacenter, score, count),
		map[string]interface{}{
			"instance_uid":  sample.InstanceUID,
			"instance_name": sample.InstanceName,
			"datacenter":    sample.Datacenter,
			"anomaly_score": score,
			"consecutive":   count,
			"contributors":  d.Contributors(sample.InstanceUID, sample.FeatureVector()),
		})
}

// Contributors names the features whose z-score against the training
// distribution exceeds 2, weighted into (0,1].
func (d *Detector) Contributors(uid string, features []float64) map[string]float64 {
	d.mu.RLock()
	m := d.models[uid]
	d.mu.RUnlock()

	if m == nil {
		return nil
	}

	out := make(map[string]float64)
	z := m.Scaler.Transform(features)
	for i, v := range z {
		if v < 0 {
			v = -v
		}
		if v > 2 {
			weight := v / 5
			if weight > 1 {
				weight = 1
			}
			out[metrics.FeatureNames[i]] = weight
		}
	}
	return out
}

// SaveAll persists every trained model
func (d *Detector) SaveAll() {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for uid, m := range d.models {
		if err := saveModel(d.cfg.ModelPath, uid, m); err != nil {
			d.logger.Error("model persistence failed", "instance", uid, "error", err.Error())
		}
	}
}

package anomaly

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const modelFormatVersion = 1

// modelFile is the on-disk form of a trained forest
type modelFile struct {
	Version      int       `json:"version"`
	Forest       *Forest   `json:"forest"`
	ScoreMin     float64   `json:"score_min"`
	ScoreMax     float64   `json:"score_max"`
	LastTraining time.Time `json:"last_training"`
}

// scalerFile is the on-disk form of a fitted scaler
type scalerFile struct {
	Version int       `json:"version"`
	Mean    []float64 `json:"mean"`
	Std     []float64 `json:"std"`
}

func modelPath(dir, uid string) string {
	return filepath.Join(dir, uid+"_model.json")
}

func scalerPath(dir, uid string) string {
	return filepath.Join(dir, uid+"_scaler.json")
}

func saveModel(dir, uid string, m *model) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	mf := modelFile{
		Version:      modelFormatVersion,
		Forest:       m.Forest,
		ScoreMin:     m.ScoreMin,
		ScoreMax:     m.ScoreMax,
		LastTraining: m.LastTraining,
	}
	data, err := json.Marshal(mf)
	if err != nil {
		return fmt.Errorf("failed to encode model: %w", err)
	}
	if err := os.WriteFile(modelPath(dir, uid), data, 0o644); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}

	sf := scalerFile{
		Version: modelFormatVersion,
		Mean:    m.Scaler.Mean,
		Std:     m.Scaler.Std,
	}
	data, err = json.Marshal(sf)
	if err != nil {
		return fmt.Errorf("failed to encode scaler: %w", err)
	}
	if err := os.WriteFile(scalerPath(dir, uid), data, 0o644); err != nil {
		return fmt.Errorf("failed to write scaler file: %w", err)
	}

	return nil
}

func loadModel(dir, uid string) (*model, error) {
	data, err := os.ReadFile(modelPath(dir, uid))
	if err != nil {
		return nil, err
	}
	var mf modelFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("failed to decode model file: %w", err)
	}
	if mf.Version != modelFormatVersion {
		return nil, fmt.Errorf("unsupported model version %d", mf.Version)
	}
	if mf.Forest == nil || len(mf.Forest.Trees) == 0 {
		return nil, fmt.Errorf("model file has no trees")
	}

	data, err = os.ReadFile(scalerPath(dir, uid))
	if err != nil {
		return nil, err
	}
	var sf scalerFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("failed to decode scaler file: %w", err)
	}
	if sf.Version != modelFormatVersion {
		return nil, fmt.Errorf("unsupported scaler version %d", sf.Version)
	}

	return &model{
		Forest:       mf.Forest,
		Scaler:       &Scaler{Mean: sf.Mean, Std: sf.Std},
		ScoreMin:     mf.ScoreMin,
		ScoreMax:     mf.ScoreMax,
		LastTraining: mf.LastTraining,
	}, nil
}

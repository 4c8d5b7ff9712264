package anomaly

import "math"

// Scaler standardizes feature vectors to zero mean and unit variance
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-feature mean and standard deviation
func FitScaler(data [][]float64) *Scaler {
	dims := len(data[0])
	s := &Scaler{
		Mean: make([]float64, dims),
		Std:  make([]float64, dims),
	}

	for _, row := range data {
		for i, v := range row {
			s.Mean[i] += v
		}
	}
	for i := range s.Mean {
		s.Mean[i] /= float64(len(data))
	}

	for _, row := range data {
		for i, v := range row {
			d := v - s.Mean[i]
			s.Std[i] += d * d
		}
	}
	for i := range s.Std {
		s.Std[i] = math.Sqrt(s.Std[i] / float64(len(data)))
		// constant features scale to zero, not NaN
		if s.Std[i] == 0 {
			s.Std[i] = 1
		}
	}
	return s
}

// Transform standardizes one vector
func (s *Scaler) Transform(point []float64) []float64 {
	out := make([]float64, len(point))
	for i, v := range point {
		out[i] = (v - s.Mean[i]) / s.Std[i]
	}
	return out
}

// TransformAll standardizes a matrix
func (s *Scaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.Transform(row)
	}
	return out
}

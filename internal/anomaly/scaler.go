package anomaly

import (
	"codeberg.org/mutker/hwsentry/internal/errors"
	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes columns to zero mean and unit variance.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler computes per-column population mean and standard deviation.
// Constant columns get a standard deviation of 1.
func FitScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}

	width := len(rows[0])
	s := &Scaler{
		Mean: make([]float64, width),
		Std:  make([]float64, width),
	}

	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}

	return s
}

// Width is the number of columns the scaler was fitted on.
func (s *Scaler) Width() int {
	return len(s.Mean)
}

// Transform returns a scaled copy of row.
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

func (s *Scaler) validate(width int) error {
	if len(s.Mean) != width || len(s.Std) != width {
		return errors.New().WithData(ErrSchemaMismatch, struct {
			Expected int
			Actual   int
		}{width, len(s.Mean)})
	}
	for _, std := range s.Std {
		if std == 0 {
			return errors.New().WithMessage(ErrArtifactCorrupt, "scaler has zero standard deviation")
		}
	}
	return nil
}

package domain

import "time"

// DataSplit assigns a training example to a partition.
type DataSplit string

const (
	SplitTraining   DataSplit = "Training"
	SplitValidation DataSplit = "Validation"
	SplitTest       DataSplit = "Test"
)

// Labels used by training examples.
const (
	LabelFraud      = 0.0
	LabelLegitimate = 1.0
)

// MinTrainingExamples is the smallest batch retraining accepts.
const MinTrainingExamples = 100

// TrainingExample is one labeled feature vector.
type TrainingExample struct {
	ID        string    `json:"id"`
	Features  []float64 `json:"features"`
	Label     float64   `json:"label"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"createdAt"`
	Split     DataSplit `json:"split"`
}

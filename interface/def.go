package iface

import "CascadeDetServer/geometry"

// Region is a single prediction. Regions returned by the main model carry the
// sub-model predictions made on their crops.
type Region struct {
	Label          string               `json:"label"`
	Score          float32              `json:"score"`
	Box            geometry.BoundingBox `json:"box"`
	SubPredictions []Region             `json:"subPredictions,omitempty"`
}

// ModelPaths locates the two artifacts a model is loaded from.
type ModelPaths struct {
	ModelPath string `yaml:"modelPath" json:"modelPath"`
	ArchPath  string `yaml:"archPath" json:"archPath"`
}

package model

import (
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/entities"
	"github.com/LeonardoBeccarini/agribot_dashboard/internal/model/messages"
)

// Aliases for the types shared across services.

type (
	Configuration  = entities.Configuration
	DetectedPlant  = entities.DetectedPlant
	CameraInfo     = entities.CameraInfo
	Plant          = entities.Plant
	DetectionModel = entities.DetectionModel
	ModelKind      = entities.ModelKind
	PlantHistory   = messages.PlantHistory
	PingStatus     = messages.PingStatus
)

const (
	ObjectDetection     = entities.ObjectDetection
	StageClassification = entities.StageClassification
	DiseaseSegmentation = entities.DiseaseSegmentation
)

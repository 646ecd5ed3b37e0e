package models

// Level is the display classification of a diagnosis confidence
type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelDanger  Level = "danger"
)

// ClassifyConfidence maps a confidence in [0,1] to a display level.
// Boundaries are strict: 0.7 is a warning and 0.4 is danger.
func ClassifyConfidence(confidence float64) Level {
	switch {
	case confidence > 0.7:
		return LevelSuccess
	case confidence > 0.4:
		return LevelWarning
	default:
		return LevelDanger
	}
}

// ConfidenceLevel classifies the record confidence. Records without a
// confidence yield an empty level.
func (r *DiagnosisRecord) ConfidenceLevel() Level {
	if r.Confidence == nil {
		return ""
	}
	return ClassifyConfidence(*r.Confidence)
}

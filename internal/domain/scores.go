package domain

import "fmt"

// ScoresDocument is the structured session scores record.
type ScoresDocument struct {
	SessionSummary  string          `json:"sessionSummary"`
	SessionAnalysis string          `json:"sessionAnalysis"`
	SessionDetails  *SessionDetails `json:"sessionDetails"`
}

// SessionDetails holds the per-session structured assessment.
type SessionDetails struct {
	SessionDate          string          `json:"sessionDate"`
	Duration             float64         `json:"duration"`
	MainTopics           []string        `json:"mainTopics"`
	EmotionalTone        string          `json:"emotionalTone"`
	KeyInsights          []string        `json:"keyInsights"`
	InterventionsUsed    []string        `json:"interventionsUsed"`
	PatientProgress      PatientProgress `json:"patientProgress"`
	ChallengesIdentified []string        `json:"challengesIdentified"`
	GoalsDiscussed       []string        `json:"goalsDiscussed"`
	PlanForNextSession   string          `json:"planForNextSession"`
	TherapistNotes       string          `json:"therapistNotes"`
	RiskAssessment       RiskAssessment  `json:"riskAssessment"`
	RecommendedActions   []string        `json:"recommendedActions"`
}

type PatientProgress struct {
	Description string  `json:"description"`
	Rating      float64 `json:"rating"`
}

type RiskAssessment struct {
	SuicidalIdeation float64 `json:"suicidalIdeation"`
	SelfHarm         float64 `json:"selfHarm"`
	OverallRisk      string  `json:"overallRisk"`
}

// Validate checks the document against the scores schema.
func (d *ScoresDocument) Validate() error {
	if d.SessionDetails == nil {
		return fmt.Errorf("missing sessionDetails object")
	}
	det := d.SessionDetails
	if det.Duration < 0 {
		return fmt.Errorf("sessionDetails.duration is negative: %v", det.Duration)
	}
	if err := checkScale("sessionDetails.patientProgress.rating", det.PatientProgress.Rating); err != nil {
		return err
	}
	if err := checkScale("sessionDetails.riskAssessment.suicidalIdeation", det.RiskAssessment.SuicidalIdeation); err != nil {
		return err
	}
	return checkScale("sessionDetails.riskAssessment.selfHarm", det.RiskAssessment.SelfHarm)
}

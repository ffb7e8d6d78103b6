package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// PsychometricProfile is the per-user profile row, holding two generations.
type PsychometricProfile struct {
	UserID          string          `json:"user_id"`
	ProfileJSON     json.RawMessage `json:"psych_profile_json"`
	PrevProfileJSON json.RawMessage `json:"psych_profile_prev_json"`
	Summary         *string         `json:"psych_profile_summary"`
	PrevSummary     *string         `json:"psych_profile_prev_summary"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ProfileDocument is the structured profile produced by the pipeline.
type ProfileDocument struct {
	Profile *PsychProfile `json:"profile"`
}

// PsychProfile is the fixed profile schema.
type PsychProfile struct {
	EmotionalState        *EmotionalState        `json:"emotionalState"`
	CognitivePatterns     *CognitivePatterns     `json:"cognitivePatterns"`
	BehavioralTendencies  *BehavioralTendencies  `json:"behavioralTendencies"`
	InterpersonalDynamics *InterpersonalDynamics `json:"interpersonalDynamics"`
	CoreIssues            []CoreIssue            `json:"coreIssues"`
	CopingMechanisms      []CopingMechanism      `json:"copingMechanisms"`
	Goals                 []Goal                 `json:"goals"`
	ResilienceFactors     []string               `json:"resilienceFactors"`
	ProgressNotes         string                 `json:"progressNotes"`
}

type EmotionalState struct {
	Mood                Mood    `json:"mood"`
	Anxiety             float64 `json:"anxiety"`
	Depression          float64 `json:"depression"`
	Stress              float64 `json:"stress"`
	EmotionalRegulation float64 `json:"emotionalRegulation"`
}

type Mood struct {
	Value     string  `json:"value"`
	Intensity float64 `json:"intensity"`
}

type CognitivePatterns struct {
	NegativeThoughts     NegativeThoughts `json:"negativeThoughts"`
	SelfEsteem           float64          `json:"selfEsteem"`
	ProblemSolvingSkills float64          `json:"problemSolvingSkills"`
	CognitiveFlexibility float64          `json:"cognitiveFlexibility"`
	AttentionFocus       float64          `json:"attentionFocus"`
}

type NegativeThoughts struct {
	Frequency float64 `json:"frequency"`
	Impact    float64 `json:"impact"`
}

type BehavioralTendencies struct {
	SocialInteraction float64 `json:"socialInteraction"`
	SleepQuality      float64 `json:"sleepQuality"`
	SubstanceUse      float64 `json:"substanceUse"`
	SelfCare          float64 `json:"selfCare"`
	Productivity      float64 `json:"productivity"`
}

type InterpersonalDynamics struct {
	RelationshipSatisfaction float64 `json:"relationshipSatisfaction"`
	CommunicationSkills      float64 `json:"communicationSkills"`
	ConflictResolution       float64 `json:"conflictResolution"`
}

type CoreIssue struct {
	Issue    string  `json:"issue"`
	Severity float64 `json:"severity"`
}

type CopingMechanism struct {
	Mechanism     string  `json:"mechanism"`
	Effectiveness float64 `json:"effectiveness"`
}

type Goal struct {
	Goal     string  `json:"goal"`
	Progress float64 `json:"progress"`
}

// Validate checks the document against the profile schema.
func (d *ProfileDocument) Validate() error {
	if d.Profile == nil {
		return fmt.Errorf("missing profile object")
	}
	p := d.Profile
	switch {
	case p.EmotionalState == nil:
		return fmt.Errorf("missing emotionalState object")
	case p.CognitivePatterns == nil:
		return fmt.Errorf("missing cognitivePatterns object")
	case p.BehavioralTendencies == nil:
		return fmt.Errorf("missing behavioralTendencies object")
	case p.InterpersonalDynamics == nil:
		return fmt.Errorf("missing interpersonalDynamics object")
	}
	scales := map[string]float64{
		"emotionalState.mood.intensity":                  p.EmotionalState.Mood.Intensity,
		"emotionalState.anxiety":                         p.EmotionalState.Anxiety,
		"emotionalState.depression":                      p.EmotionalState.Depression,
		"emotionalState.stress":                          p.EmotionalState.Stress,
		"emotionalState.emotionalRegulation":             p.EmotionalState.EmotionalRegulation,
		"cognitivePatterns.negativeThoughts.frequency":   p.CognitivePatterns.NegativeThoughts.Frequency,
		"cognitivePatterns.negativeThoughts.impact":      p.CognitivePatterns.NegativeThoughts.Impact,
		"cognitivePatterns.selfEsteem":                   p.CognitivePatterns.SelfEsteem,
		"cognitivePatterns.problemSolvingSkills":         p.CognitivePatterns.ProblemSolvingSkills,
		"cognitivePatterns.cognitiveFlexibility":         p.CognitivePatterns.CognitiveFlexibility,
		"cognitivePatterns.attentionFocus":               p.CognitivePatterns.AttentionFocus,
		"behavioralTendencies.socialInteraction":         p.BehavioralTendencies.SocialInteraction,
		"behavioralTendencies.sleepQuality":              p.BehavioralTendencies.SleepQuality,
		"behavioralTendencies.substanceUse":              p.BehavioralTendencies.SubstanceUse,
		"behavioralTendencies.selfCare":                  p.BehavioralTendencies.SelfCare,
		"behavioralTendencies.productivity":              p.BehavioralTendencies.Productivity,
		"interpersonalDynamics.relationshipSatisfaction": p.InterpersonalDynamics.RelationshipSatisfaction,
		"interpersonalDynamics.communicationSkills":      p.InterpersonalDynamics.CommunicationSkills,
		"interpersonalDynamics.conflictResolution":       p.InterpersonalDynamics.ConflictResolution,
	}
	for field, v := range scales {
		if err := checkScale(field, v); err != nil {
			return err
		}
	}
	for i, c := range p.CoreIssues {
		if err := checkScale(fmt.Sprintf("coreIssues[%d].severity", i), c.Severity); err != nil {
			return err
		}
	}
	for i, c := range p.CopingMechanisms {
		if err := checkScale(fmt.Sprintf("copingMechanisms[%d].effectiveness", i), c.Effectiveness); err != nil {
			return err
		}
	}
	for i, g := range p.Goals {
		if err := checkScale(fmt.Sprintf("goals[%d].progress", i), g.Progress); err != nil {
			return err
		}
	}
	return nil
}

func checkScale(field string, v float64) error {
	if v < 0 || v > 10 {
		return fmt.Errorf("%s out of range 0-10: %v", field, v)
	}
	return nil
}

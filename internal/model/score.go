package model

import "time"

type Segment string

const (
	SegmentCold       Segment = "Cold"
	SegmentDeveloping Segment = "Developing"
	SegmentQualified  Segment = "Qualified"
	SegmentPremium    Segment = "Premium"
)

// Segment thresholds are fixed; they are not part of the tunable weights.
const (
	PremiumThreshold    = 80
	QualifiedThreshold  = 60
	DevelopingThreshold = 40
)

func SegmentFor(score int) Segment {
	switch {
	case score >= PremiumThreshold:
		return SegmentPremium
	case score >= QualifiedThreshold:
		return SegmentQualified
	case score >= DevelopingThreshold:
		return SegmentDeveloping
	default:
		return SegmentCold
	}
}

type ScoreBreakdown struct {
	Completeness int `json:"completeness"`
	Finance      int `json:"finance"`
	Urgency      int `json:"urgency"`
	Engagement   int `json:"engagement"`
}

func (b ScoreBreakdown) Sum() int {
	return b.Completeness + b.Finance + b.Urgency + b.Engagement
}

type LeadScore struct {
	Score     int            `json:"score"`
	Segment   Segment        `json:"segment"`
	Gate      Gate           `json:"gate"`
	Breakdown ScoreBreakdown `json:"breakdown"`
	Version   string         `json:"version"`
}

// LeadScoreAudit is the debug trail row written for each scored submission.
type LeadScoreAudit struct {
	ID             int64          `json:"id"`
	ConversationID *int64         `json:"conversation_id,omitempty"`
	LeadKey        string         `json:"lead_key"`
	Gate           Gate           `json:"gate"`
	Score          int            `json:"score"`
	Segment        Segment        `json:"segment"`
	Breakdown      ScoreBreakdown `json:"breakdown"`
	Version        string         `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
}

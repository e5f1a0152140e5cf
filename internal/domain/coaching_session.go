package domain

import (
	"time"
)

// CoachingSession is the persisted progress record of one coaching session.
type CoachingSession struct {
	SessionID       string
	UserID          string
	ProjectName     string
	Phase           Phase
	QuestionCounter int
	LastAnalyzedID  string
	Completed       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

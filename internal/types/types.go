package types

import (
	"context"

	"github.com/xhad/quizpack/internal/models"
)

// Core interfaces
type Generator interface {
	Generate(ctx context.Context, system, user string, temperature float64) (string, error)
}

type PromptBuilder interface {
	System(cfg models.Configuration) (string, error)
	User(student models.StudentRecord) (string, error)
}

type DocumentWriter interface {
	Write(fileName, studentName, body string) (*models.GeneratedDocument, error)
}

// Ledger journals written documents keyed by idempotency key.
type Ledger interface {
	Record(ctx context.Context, runID string, doc models.GeneratedDocument) error
	Close()
}

type Recorder interface {
	DocumentGenerated()
	GenerationFailed(kind string)
	RunFinished(outcome string)
	ObserveGeneration(seconds float64)
}

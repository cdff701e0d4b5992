package pipeline

import "context"

// Queue is a stage's worker-pool routing key, a scheduling hint only.
type Queue string

const (
	QueueIO  Queue = "io"
	QueueCPU Queue = "cpu"
)

// Stage is one step of the ingestion chain. Run mutates the pipeline context
// in place; an error aborts the remaining chain for that document.
type Stage interface {
	Name() string
	Queue() Queue
	Run(ctx context.Context, pc *Context) error
}

package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/sony/gobreaker/v2"
)

// executionCreator is the part of the executions client the queue uses.
type executionCreator interface {
	CreateExecution(ctx context.Context, req *executionspb.CreateExecutionRequest, opts ...gax.CallOption) (*executionspb.Execution, error)
}

// WorkflowTask is the argument every dispatcher workflow execution receives:
// the workflow POSTs Body to Endpoint.
type WorkflowTask struct {
	Endpoint string          `json:"endpoint"`
	Body     json.RawMessage `json:"body"`
}

// WorkflowQueue submits tasks as Cloud Workflows executions. Submissions go
// through a circuit breaker so a failing Workflows API fails fast.
type WorkflowQueue struct {
	client  executionCreator
	parent  string
	breaker *gobreaker.CircuitBreaker[*executionspb.Execution]
}

// NewWorkflowQueue returns a queue that starts executions of workflowID.
func NewWorkflowQueue(client *executions.Client, projectID, location, workflowID string) *WorkflowQueue {
	return newWorkflowQueue(client, projectID, location, workflowID)
}

func newWorkflowQueue(client executionCreator, projectID, location, workflowID string) *WorkflowQueue {
	settings := gobreaker.Settings{
		Name:        "workflow-executions",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("Circuit breaker changed state.", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &WorkflowQueue{
		client:  client,
		parent:  fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
		breaker: gobreaker.NewCircuitBreaker[*executionspb.Execution](settings),
	}
}

// Submit starts one execution carrying body for endpoint and returns the
// execution name.
func (q *WorkflowQueue) Submit(ctx context.Context, endpoint string, body []byte) (string, error) {
	argument, err := json.Marshal(WorkflowTask{Endpoint: endpoint, Body: body})
	if err != nil {
		return "", fmt.Errorf("failed to marshal workflow argument: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: q.parent,
		Execution: &executionspb.Execution{
			Argument: string(argument),
		},
	}
	execution, err := q.breaker.Execute(func() (*executionspb.Execution, error) {
		return q.client.CreateExecution(ctx, req)
	})
	if err != nil {
		return "", fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return execution.GetName(), nil
}

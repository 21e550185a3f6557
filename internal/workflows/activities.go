package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"

	"github.com/quillstack/corpusd/internal/pipeline"
	"github.com/quillstack/corpusd/internal/source"
)

// Activity names, referenced from workflows so activities can be registered
// by struct method.
const (
	IndexUserActivityName = "IndexUserActivity"
	ListUsersActivityName = "ListUsersActivity"
)

// UserLister enumerates the users an org sweep should index. The file token
// provider implements it; larger deployments plug in a directory service.
type UserLister interface {
	Users() []string
}

// Activities carries the pipeline dependencies into Temporal workers.
type Activities struct {
	Pipeline *pipeline.Pipeline
	Users    UserLister
}

// IndexUserActivity runs one full indexing pass. Configuration errors are
// marked non-retryable: retrying a dimension mismatch or bad credentials
// burns attempts without any chance of success.
func (a *Activities) IndexUserActivity(ctx context.Context, input IndexUserInput) (IndexUserResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Indexing user",
		"org", input.OrgName,
		"user", input.UserID,
		"datasource", input.Datasource)

	result, err := a.Pipeline.IndexUser(ctx, input.OrgName, input.UserID, input.Datasource)
	out := IndexUserResult{
		RunID:          result.RunID,
		IndexName:      result.IndexName,
		ItemsTotal:     result.ItemsTotal,
		ItemsCompleted: result.ItemsCompleted,
		ItemsFailed:    result.ItemsFailed,
	}
	if err != nil {
		var perr *pipeline.Error
		if errors.As(err, &perr) && perr.Fatal() {
			return out, temporal.NewNonRetryableApplicationError(
				perr.Error(), configurationErrorType, perr.Err)
		}
		return out, err
	}
	return out, nil
}

// ListUsersActivity returns the users with stored credentials for a
// datasource.
func (a *Activities) ListUsersActivity(ctx context.Context, datasource string) ([]string, error) {
	if a.Users == nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"no user lister configured", configurationErrorType,
			source.ErrUnknownSource)
	}
	return a.Users.Users(), nil
}

// Register registers the workflows and activities on a worker.
func Register(w worker.Worker, activities *Activities) {
	w.RegisterWorkflow(UserIndexWorkflow)
	w.RegisterWorkflow(OrgSweepWorkflow)
	w.RegisterActivity(activities.IndexUserActivity)
	w.RegisterActivity(activities.ListUsersActivity)
}

// StartUserIndex starts (or rejects, when one is already running) a user
// indexing workflow.
func StartUserIndex(ctx context.Context, c client.Client, taskQueue string, input IndexUserInput) (client.WorkflowRun, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	// Allow-duplicate still rejects a second start while one is RUNNING;
	// it only permits a fresh run after the previous one finished.
	options := client.StartWorkflowOptions{
		ID:                    UserIndexWorkflowID(input.OrgName, input.UserID, input.Datasource),
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	return c.ExecuteWorkflow(ctx, options, UserIndexWorkflow, input)
}

// StartOrgSweep starts a sweep over all known users of an org. At most one
// sweep per (org, datasource) runs at a time.
func StartOrgSweep(ctx context.Context, c client.Client, taskQueue string, input OrgSweepInput) (client.WorkflowRun, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	options := client.StartWorkflowOptions{
		ID:                    fmt.Sprintf("sweep-%s-%s", input.OrgName, input.Datasource),
		TaskQueue:             taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
	}
	return c.ExecuteWorkflow(ctx, options, OrgSweepWorkflow, input)
}

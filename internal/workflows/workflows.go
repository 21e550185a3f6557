// Package workflows provides the Temporal workflow definitions that drive
// indexing runs.
//
// Workflows are thin: all real work happens in activities so the pipeline
// stays testable without a Temporal server. Same-user serialization comes
// from the workflow ID scheme plus a reject-duplicate reuse policy, which
// holds across processes, not just within one worker.
package workflows

import (
	"errors"
	"fmt"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default task queue for indexing workflows.
const TaskQueue = "corpusd-indexing"

// configurationErrorType marks activity errors that no retry can fix.
const configurationErrorType = "ConfigurationError"

// Workflow input validation errors.
var (
	ErrInvalidInput = errors.New("invalid workflow input")
	ErrEmptyField   = errors.New("required field is empty")
)

// IndexUserInput starts one indexing run for one user.
type IndexUserInput struct {
	OrgName    string
	UserID     string
	Datasource string
}

// Validate checks required fields.
func (i IndexUserInput) Validate() error {
	if i.OrgName == "" {
		return fmt.Errorf("%w: OrgName", ErrEmptyField)
	}
	if i.UserID == "" {
		return fmt.Errorf("%w: UserID", ErrEmptyField)
	}
	if i.Datasource == "" {
		return fmt.Errorf("%w: Datasource", ErrEmptyField)
	}
	return nil
}

// IndexUserResult is the workflow-level summary of one run.
type IndexUserResult struct {
	RunID          string
	IndexName      string
	ItemsTotal     int
	ItemsCompleted int
	ItemsFailed    int
}

// UserIndexWorkflowID builds the workflow ID for one (org, user, source).
// With WorkflowIDReusePolicyRejectDuplicate on running workflows, Temporal
// guarantees at most one run in flight per user per datasource.
func UserIndexWorkflowID(orgName, userID, datasource string) string {
	return fmt.Sprintf("index-%s-%s-%s", orgName, userID, datasource)
}

// UserIndexWorkflow runs one indexing pass for a single user.
func UserIndexWorkflow(ctx workflow.Context, input IndexUserInput) (*IndexUserResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting user indexing",
		"org", input.OrgName,
		"user", input.UserID,
		"datasource", input.Datasource)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	ao := workflow.ActivityOptions{
		// An indexing pass fetches and embeds every document the user can
		// see; large corpora take a while.
		StartToCloseTimeout: 4 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{configurationErrorType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var result IndexUserResult
	err := workflow.ExecuteActivity(ctx, IndexUserActivityName, input).Get(ctx, &result)
	if err != nil {
		logger.Error("User indexing failed", "error", err)
		return nil, err
	}

	logger.Info("User indexing complete",
		"run_id", result.RunID,
		"items_completed", result.ItemsCompleted,
		"items_failed", result.ItemsFailed)
	return &result, nil
}

// OrgSweepInput starts indexing runs for every known user of an org.
type OrgSweepInput struct {
	OrgName    string
	Datasource string
}

// Validate checks required fields.
func (i OrgSweepInput) Validate() error {
	if i.OrgName == "" {
		return fmt.Errorf("%w: OrgName", ErrEmptyField)
	}
	if i.Datasource == "" {
		return fmt.Errorf("%w: Datasource", ErrEmptyField)
	}
	return nil
}

// OrgSweepResult summarizes a sweep.
type OrgSweepResult struct {
	UsersTotal     int
	UsersSucceeded int
	UsersFailed    int
	Failures       []string
}

// OrgSweepWorkflow runs a full indexing pass for every user with stored
// credentials, as child workflows so each user keeps their own history and
// ID-based serialization.
func OrgSweepWorkflow(ctx workflow.Context, input OrgSweepInput) (*OrgSweepResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting org sweep", "org", input.OrgName, "datasource", input.Datasource)

	if err := input.Validate(); err != nil {
		return nil, err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{configurationErrorType},
		},
	}
	actx := workflow.WithActivityOptions(ctx, ao)

	var userIDs []string
	if err := workflow.ExecuteActivity(actx, ListUsersActivityName, input.Datasource).Get(actx, &userIDs); err != nil {
		return nil, err
	}

	result := &OrgSweepResult{UsersTotal: len(userIDs)}

	// Users run sequentially: one org sweep should not saturate the
	// embedding provider. Per-user parallelism lives inside the run.
	for _, userID := range userIDs {
		childInput := IndexUserInput{
			OrgName:    input.OrgName,
			UserID:     userID,
			Datasource: input.Datasource,
		}
		cwo := workflow.ChildWorkflowOptions{
			WorkflowID:            UserIndexWorkflowID(input.OrgName, userID, input.Datasource),
			WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		}
		cctx := workflow.WithChildOptions(ctx, cwo)

		var childResult IndexUserResult
		if err := workflow.ExecuteChildWorkflow(cctx, UserIndexWorkflow, childInput).Get(cctx, &childResult); err != nil {
			logger.Error("User sweep failed", "user", userID, "error", err)
			result.UsersFailed++
			result.Failures = append(result.Failures, fmt.Sprintf("%s: %v", userID, err))
			continue
		}
		result.UsersSucceeded++
	}

	logger.Info("Org sweep complete",
		"succeeded", result.UsersSucceeded,
		"failed", result.UsersFailed)
	return result, nil
}

package cli

import (
	"errors"
	"testing"

	"github.com/shailesh-ag78/Inspecta/internal/records"
	"github.com/shailesh-ag78/Inspecta/internal/tasks"
	"github.com/shailesh-ag78/Inspecta/internal/workflow"
	"github.com/stretchr/testify/require"
)

func TestSubmitFollowsRunAndPrintsTasks(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		statuses: progressing(workflow.Status{Status: workflow.StatusCompleted, DisplayMessage: "Processing complete", IsFinished: true}),
		tasks: []records.TaskRecord{{
			ID:   "task-1",
			Task: tasks.Task{Title: "Replace cracked tile", Severity: tasks.SeverityRegular, Type: tasks.TypeRepair, Status: tasks.StatusPending},
		}},
	}

	stdout, _, err := runCommand(t, withService(svc), []string{"submit", "--tenant", "acme", "--inspection", "insp-1", "walk.mp4"})
	require.NoError(t, err)

	require.Len(t, svc.submitted, 1)
	up := svc.submitted[0]
	require.Equal(t, "acme", up.TenantID)
	require.Equal(t, "insp-1", up.InspectionID)
	require.Equal(t, "walk.mp4", up.Source)
	require.False(t, up.Defer)

	require.Contains(t, stdout, "status:   completed")
	require.Contains(t, stdout, "Replace cracked tile")
	require.Contains(t, stdout, "task-1")
	require.Empty(t, svc.statuses[1:])
}

func TestSubmitReportsFailedRun(t *testing.T) {
	t.Parallel()

	svc := &fakeService{
		statuses: progressing(workflow.Status{Status: workflow.StatusFailed, IsFinished: true, Error: "transcribe failed after 3 attempts", Attempts: 3}),
	}

	stdout, _, err := runCommand(t, withService(svc), []string{"submit", "--tenant", "acme", "--inspection", "insp-1", "walk.mp4"})
	require.ErrorContains(t, err, "incident inc-1 failed: transcribe failed after 3 attempts")
	require.Contains(t, stdout, "attempts: 3")
}

func TestSubmitDetachOnlyQueues(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	stdout, _, err := runCommand(t, withService(svc), []string{"submit", "--tenant", "acme", "--inspection", "insp-1", "--detach", "https://example.com/walk.mp4"})
	require.NoError(t, err)
	require.Equal(t, "inc-1\n", stdout)
	require.True(t, svc.submitted[0].Defer)
}

func TestSubmitPropagatesServiceErrors(t *testing.T) {
	t.Parallel()

	svc := &fakeService{err: records.ErrNotFound}
	_, _, err := runCommand(t, withService(svc), []string{"submit", "--tenant", "acme", "--inspection", "insp-1", "walk.mp4"})
	require.ErrorIs(t, err, records.ErrNotFound)
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []workflow.Status{{Status: "transcribe", DisplayMessage: "Transcribing audio"}}}
	stdout, _, err := runCommand(t, withService(svc), []string{"status", "--tenant", "acme", "inc-7"})
	require.NoError(t, err)
	require.Contains(t, stdout, "incident: inc-7")
	require.Contains(t, stdout, "message:  Transcribing audio")

	svc = &fakeService{statuses: []workflow.Status{{Status: "completed", IsFinished: true}}}
	stdout, _, err = runCommand(t, withService(svc), []string{"status", "--tenant", "acme", "--output-json", "inc-7"})
	require.NoError(t, err)
	require.JSONEq(t, `{"incident_id":"inc-7","status":"completed","display_message":"","is_finished":true}`, stdout)
}

func TestTasksCommandWithoutTasks(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, withService(&fakeService{}), []string{"tasks", "--tenant", "acme", "inc-1"})
	require.NoError(t, err)
	require.Equal(t, "no tasks\n", stdout)
}

func TestReviewCommand(t *testing.T) {
	t.Parallel()

	svc := &fakeService{}
	stdout, _, err := runCommand(t, withService(svc), []string{"review", "--tenant", "acme", "--status", "expert_review", "--comments", "check wiring", "task-1"})
	require.NoError(t, err)
	require.Equal(t, []tasks.Status{tasks.StatusExpertReview}, svc.reviewed)
	require.Contains(t, stdout, "task-1 marked")
}

func TestRetryAndCancelCommands(t *testing.T) {
	t.Parallel()

	svc := &fakeService{statuses: []workflow.Status{{Status: workflow.StatusCompleted, IsFinished: true}}}
	_, _, err := runCommand(t, withService(svc), []string{"retry", "--tenant", "acme", "inc-3"})
	require.NoError(t, err)
	require.Equal(t, []string{"inc-3"}, svc.retried)

	_, _, err = runCommand(t, withService(svc), []string{"cancel", "--tenant", "acme", "inc-3"})
	require.NoError(t, err)
	require.Equal(t, []string{"inc-3"}, svc.canceled)

	svc.err = errors.New("boom")
	_, _, err = runCommand(t, withService(svc), []string{"cancel", "--tenant", "acme", "inc-3"})
	require.ErrorContains(t, err, "boom")
}

func TestResumeCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, withService(&fakeService{resumed: 2}), []string{"resume"})
	require.NoError(t, err)
	require.Equal(t, "resumed 2 incident(s)\n", stdout)
}

func TestInspectionCreateCommand(t *testing.T) {
	t.Parallel()

	stdout, _, err := runCommand(t, withService(&fakeService{}), []string{"inspection", "create", "--tenant", "acme", "--site", "s1", "--inspector", "priya"})
	require.NoError(t, err)
	require.Equal(t, "insp-1\n", stdout)
}

package triggers

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/tasks"
	"github.com/relaykit/relay/pkg/models"
)

// DispatchExecutor adapts internal/tasks.Executor to the dispatcher core,
// replacing the teacher's AgentExecutor (internal/tasks/executor.go),
// which drove the retired agent.Runtime directly. Every due task becomes
// one synthetic NormalizedMessage, run through the same bounded tool loop
// and capability policy a real channel message would get.
type DispatchExecutor struct {
	Dispatcher *dispatcher.Dispatcher

	// ChannelType tags the synthetic message's channel, defaulting to
	// models.ChannelAPI, so capability policy and memory provenance can
	// tell a scheduled run apart from a user-initiated one.
	ChannelType string
}

// Execute runs one scheduled task through the dispatcher and returns its
// reply text as the task execution's response.
func (e *DispatchExecutor) Execute(ctx context.Context, task *tasks.ScheduledTask, exec *tasks.TaskExecution) (string, error) {
	if task == nil {
		return "", fmt.Errorf("triggers: task is required")
	}
	if exec == nil {
		return "", fmt.Errorf("triggers: execution is required")
	}
	if e.Dispatcher == nil {
		return "", fmt.Errorf("triggers: dispatcher not configured")
	}

	channelType := e.ChannelType
	if channelType == "" {
		channelType = string(models.ChannelAPI)
	}

	channelID := task.Config.ChannelID
	if channelID == "" {
		channelID = "trigger:" + task.ID
	}
	userID := task.AgentID
	if userID == "" {
		userID = "trigger:" + task.ID
	}

	msg := &dispatcher.NormalizedMessage{
		ChannelType: channelType,
		ChannelID:   channelID,
		ChatID:      channelID,
		UserID:      userID,
		Text:        exec.Prompt,
		MessageID:   exec.ID,
	}

	result := e.Dispatcher.Dispatch(ctx, msg)
	if result == nil {
		return "", fmt.Errorf("triggers: dispatcher returned no result")
	}
	if result.Err != nil {
		return "", result.Err
	}
	if result.WasCancelled {
		return "", fmt.Errorf("triggers: session cancelled mid-run")
	}
	return result.Text, nil
}

package triggers

import (
	"context"
	"fmt"

	"github.com/relaykit/relay/internal/cron"
	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/pkg/models"
)

// Active-hours gating (internal/agents/heartbeat.ActiveHoursConfig) lives
// on cron.Job itself and is checked by the scheduler before Run is ever
// called, so this runner only needs to worry about message dispatch.

// DispatchAgentRunner implements internal/cron.AgentRunner by feeding each
// due "agent" cron job through the dispatcher core, the config-driven
// counterpart to DispatchExecutor's store-driven one: internal/cron reads
// CronConfig.Jobs directly (no ScheduledTask/TaskExecution bookkeeping),
// so config.yaml-declared heartbeats land here while programmatically
// created triggers (e.g. a tool that schedules a follow-up) go through
// internal/tasks.Scheduler + DispatchExecutor instead.
type DispatchAgentRunner struct {
	Dispatcher *dispatcher.Dispatcher
}

// Run satisfies internal/cron.AgentRunner.
func (r *DispatchAgentRunner) Run(ctx context.Context, job *cron.Job) error {
	if r.Dispatcher == nil {
		return fmt.Errorf("triggers: dispatcher not configured")
	}
	if job == nil || job.Message == nil {
		return fmt.Errorf("triggers: agent job missing message payload")
	}

	channelType := job.Message.Channel
	if channelType == "" {
		channelType = string(models.ChannelAPI)
	}
	channelID := job.Message.ChannelID
	if channelID == "" {
		channelID = "cron:" + job.ID
	}

	msg := &dispatcher.NormalizedMessage{
		ChannelType: channelType,
		ChannelID:   channelID,
		ChatID:      channelID,
		UserID:      "cron:" + job.ID,
		Text:        job.Message.Content,
		MessageID:   job.ID,
	}

	result := r.Dispatcher.Dispatch(ctx, msg)
	if result == nil {
		return fmt.Errorf("triggers: dispatcher returned no result")
	}
	return result.Err
}

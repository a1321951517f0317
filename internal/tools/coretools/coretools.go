// Package coretools declares the six special tools the dispatcher's
// loop interprets directly (spec.md §4.5 step 5). Their execution lives
// in dispatcher.executeOne, not here — this package exists only so the
// capability gate and catalogue composition have a ToolDefinition (name,
// schema, group, safety level) to filter and render, the same way the
// teacher keeps a tool's schema declaration next to its registration
// even when a handler special-cases the name elsewhere (see
// internal/agent/executor.go's treatment of "computer_use").
package coretools

import (
	"encoding/json"

	"github.com/relaykit/relay/internal/dispatcher"
	"github.com/relaykit/relay/internal/policy"
)

var sayToUserSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"content": {"type": "string"}},
	"required": ["content"]
}`)

var taskFullyCompletedSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"summary": {"type": "string"}},
	"required": ["summary"]
}`)

var askUserAndWaitSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"question": {"type": "string"}},
	"required": ["question"]
}`)

var useSkillSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"skill_name": {"type": "string", "enum": []}
	},
	"required": ["skill_name"]
}`)

var setAgentSubtypeSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"subtype": {"type": "string"}},
	"required": ["subtype"]
}`)

var defineTasksSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"tasks": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["tasks"]
}`)

// Definitions returns the six special-tool declarations. use_skill's
// enum is a placeholder here — ComposeCatalogue step 3 overwrites
// SkillNameEnum with the live enabled-skill set every call.
func Definitions() []dispatcher.ToolDefinition {
	return []dispatcher.ToolDefinition{
		{Name: dispatcher.ToolSayToUser, Description: "Send a message to the user. Does not end the turn.", Schema: sayToUserSchema, Group: policy.GroupMessaging, Safety: policy.SafetySafeMode},
		{Name: dispatcher.ToolTaskFullyCompleted, Description: "Signal the session is complete and provide a final summary.", Schema: taskFullyCompletedSchema, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
		{Name: dispatcher.ToolAskUserAndWait, Description: "Ask the user a question and pause until they respond.", Schema: askUserAndWaitSchema, Group: policy.GroupMessaging, Safety: policy.SafetySafeMode},
		{Name: dispatcher.ToolUseSkill, Description: "Activate a named skill for this session.", Schema: useSkillSchema, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
		{Name: dispatcher.ToolSetAgentSubtype, Description: "Switch the active agent subtype.", Schema: setAgentSubtypeSchema, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
		{Name: dispatcher.ToolDefineTasks, Description: "Define the ordered task queue for a multi-step plan.", Schema: defineTasksSchema, Group: policy.GroupSystem, Safety: policy.SafetySafeMode},
	}
}

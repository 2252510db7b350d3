package scheduler

import (
	"encoding/json"

	"chatflow_backend/internal/conversations/domain"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskProcessMessage = "conversations.process_message"

const TaskHandoffTimeout = "conversations.handoff_timeout"

const TaskAgentNotification = "notification.agent_handoff"

type HandoffTimeoutPayload struct {
	TenantID       string `json:"tenantId"`
	ConversationID string `json:"conversationId"`
}

// ProcessMessageTaskID makes a redelivered message enqueue at most one pipeline run.
func ProcessMessageTaskID(messageID uuid.UUID) string {
	return "process-message:" + messageID.String()
}

// HandoffTimeoutTaskID is the single pending timeout slot of a conversation.
func HandoffTimeoutTaskID(conversationID uuid.UUID) string {
	return "handoff-timeout:" + conversationID.String()
}

func NewProcessMessageTask(job domain.ProcessingJob) (*asynq.Task, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessMessage, data), nil
}

func ParseProcessMessagePayload(task *asynq.Task) (domain.ProcessingJob, error) {
	var job domain.ProcessingJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		return domain.ProcessingJob{}, err
	}
	return job, nil
}

func NewHandoffTimeoutTask(payload HandoffTimeoutPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskHandoffTimeout, data), nil
}

func ParseHandoffTimeoutPayload(task *asynq.Task) (HandoffTimeoutPayload, error) {
	var payload HandoffTimeoutPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return HandoffTimeoutPayload{}, err
	}
	return payload, nil
}

func NewAgentNotificationTask(payload domain.AgentNotification) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAgentNotification, data), nil
}

func ParseAgentNotificationPayload(task *asynq.Task) (domain.AgentNotification, error) {
	var payload domain.AgentNotification
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return domain.AgentNotification{}, err
	}
	return payload, nil
}

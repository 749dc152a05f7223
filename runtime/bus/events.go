package bus

// Event type constants named in §4.1's ordering contract. The supervisor
// package is the sole producer of these; bus only carries them.
const (
	EventPlanningStart              EventType = "planning_start"
	EventPlanReady                  EventType = "plan_ready"
	EventExecutionStart             EventType = "execution_start"
	EventTodoUpdated                EventType = "todo_updated"
	EventAgentStepProgress          EventType = "agent_step_progress"
	EventDataReuseNotification      EventType = "data_reuse_notification"
	EventResponseGeneratingStart    EventType = "response_generating_start"
	EventResponseGeneratingProgress EventType = "response_generating_progress"
	EventFinalResponse              EventType = "final_response"
	EventError                      EventType = "error"
	EventWorkflowInterrupted        EventType = "workflow_interrupted"
)

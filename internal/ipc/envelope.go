package ipc

// RequestType enumerates the variants an agent may write into its IPC
// outbox.
type RequestType string

const (
	TypeMessage          RequestType = "message"
	TypeReaction         RequestType = "reaction"
	TypePoll             RequestType = "poll"
	TypeScheduleTask     RequestType = "schedule_task"
	TypePauseTask        RequestType = "pause_task"
	TypeResumeTask       RequestType = "resume_task"
	TypeCancelTask       RequestType = "cancel_task"
	TypeRegisterGroup    RequestType = "register_group"
	TypeRefreshGroups    RequestType = "refresh_groups"
	TypeTriggerHeartbeat RequestType = "trigger_heartbeat"
	TypeUpdateProject    RequestType = "update_project"
)

// ReplyRef identifies the message an outbound send is replying to.
type ReplyRef struct {
	Author    string `json:"author"`
	Timestamp int64  `json:"ts"`
}

// Envelope is the on-disk shape of one IPC request file. Only the fields
// relevant to Type are populated; the rest are left zero.
type Envelope struct {
	Type RequestType `json:"type"`

	// message / reaction / poll
	ChatAddress     string    `json:"chatAddress,omitempty"`
	Text            string    `json:"text,omitempty"`
	Attachments     []string  `json:"attachments,omitempty"`
	ReplyTo         *ReplyRef `json:"replyTo,omitempty"`
	Emoji           string    `json:"emoji,omitempty"`
	TargetAuthor    string    `json:"targetAuthor,omitempty"`
	TargetTimestamp int64     `json:"targetTimestamp,omitempty"`
	Question        string    `json:"question,omitempty"`
	Options         []string  `json:"options,omitempty"`

	// schedule_task / pause_task / resume_task / cancel_task
	TaskID        string `json:"taskId,omitempty"`
	Prompt        string `json:"prompt,omitempty"`
	ScheduleType  string `json:"scheduleType,omitempty"`
	ScheduleValue string `json:"scheduleValue,omitempty"`
	ContextMode   string `json:"contextMode,omitempty"`

	// register_group
	DisplayName     string            `json:"displayName,omitempty"`
	WorkspaceFolder string            `json:"workspaceFolder,omitempty"`
	TriggerPhrase   string            `json:"triggerPhrase,omitempty"`
	RequiresTrigger bool              `json:"requiresTrigger,omitempty"`
	ExtraMounts     map[string]string `json:"extraMounts,omitempty"`

	// trigger_heartbeat
	Folder string `json:"folder,omitempty"`
}

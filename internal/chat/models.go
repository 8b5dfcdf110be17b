package chat

import (
	"time"

	"gorm.io/datatypes"
)

type Thread struct {
	ID            string     `gorm:"primaryKey;size:26" json:"id"`
	Title         string     `gorm:"type:varchar(255);not null;default:''" json:"title"`
	Pinned        bool       `gorm:"not null;default:false;index" json:"pinned"`
	OwnerID       string     `gorm:"type:varchar(64);not null;index:idx_threads_owner_last,priority:1" json:"-"`
	BranchParent  *string    `gorm:"size:26;index" json:"branch_parent,omitempty"`
	LastMessageAt *time.Time `gorm:"index:idx_threads_owner_last,priority:2" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Thread) TableName() string { return "threads" }

// Message is one user turn plus the reference to the ledger entry holding
// its model response. Forked copies share StreamID with their source.
type Message struct {
	ID              string                     `gorm:"primaryKey;size:26" json:"id"`
	ThreadID        string                     `gorm:"size:26;not null;index:idx_messages_thread" json:"thread_id"`
	Prompt          string                     `gorm:"type:text;not null" json:"prompt"`
	Model           string                     `gorm:"type:varchar(64);not null" json:"model"`
	Attachments     datatypes.JSONSlice[string] `json:"attachments"`
	SearchGrounding bool                       `gorm:"not null;default:false" json:"search_grounding"`
	ImageGeneration bool                       `gorm:"not null;default:false" json:"image_generation"`
	StreamID        string                     `gorm:"size:26;not null;index:idx_messages_stream" json:"stream_id"`
	Response        string                     `gorm:"type:text" json:"response"`
	CreatedAt       time.Time                  `json:"created_at"`
}

func (Message) TableName() string { return "messages" }

// BreakPoint is a titled marker attached to a message; its title is
// generated into its own ledger entry.
type BreakPoint struct {
	ID        string    `gorm:"primaryKey;size:26" json:"id"`
	MessageID string    `gorm:"size:26;not null;index:idx_break_points_message" json:"message_id"`
	ThreadID  string    `gorm:"size:26;not null;index:idx_break_points_thread" json:"thread_id"`
	Model     string    `gorm:"type:varchar(64);not null" json:"model"`
	StreamID  string    `gorm:"size:26;not null;index:idx_break_points_stream" json:"stream_id"`
	Response  string    `gorm:"type:text" json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

func (BreakPoint) TableName() string { return "break_points" }

// Models lists every table of the package for migration.
func Models() []any {
	return []any{&Thread{}, &Message{}, &BreakPoint{}}
}

package chat

// Role identifies one of the two parties of a chat.
type Role string

const (
	// RoleCreator is the party that created the chat.
	RoleCreator Role = "creator"
	// RoleRecipient is the party the share link is handed to.
	RoleRecipient Role = "recipient"
)

// Chat models a two-party ephemeral session with a single mutable message
// slot. Bearer tokens and session identifiers are stored only as one-way
// digests; an empty digest column means the value is absent or not yet bound.
type Chat struct {
	ID                   string `gorm:"column:id;primaryKey;size:190;not null"`
	CreatorTokenHash     string `gorm:"column:creator_token_hash;size:64;not null"`
	RecipientTokenHash   string `gorm:"column:recipient_token_hash;size:64;not null"`
	CreatorSessionHash   string `gorm:"column:creator_session_hash;size:64;not null;default:''"`
	RecipientSessionHash string `gorm:"column:recipient_session_hash;size:64;not null;default:''"`
	CreatedAtMillis      int64  `gorm:"column:created_at_ms;not null"`
	ExpiresAtMillis      int64  `gorm:"column:expires_at_ms;not null"`
	CurrentMessage       string `gorm:"column:current_message;type:text;not null;default:''"`
	CurrentSender        string `gorm:"column:current_sender;size:16;not null;default:''"`
	MessageAtMillis      int64  `gorm:"column:message_at_ms;not null;default:0"`
	MessageRead          bool   `gorm:"column:message_read;not null;default:false"`
}

// TableName provides the explicit table binding for GORM.
func (Chat) TableName() string {
	return "chats"
}

func (c *Chat) hasMessage() bool {
	return c.CurrentMessage != ""
}

func (c *Chat) sessionHash(role Role) string {
	if role == RoleCreator {
		return c.CreatorSessionHash
	}
	return c.RecipientSessionHash
}

func sessionColumn(role Role) string {
	if role == RoleCreator {
		return "creator_session_hash"
	}
	return "recipient_session_hash"
}

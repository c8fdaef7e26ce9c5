package stats

// DailyBucket holds the monotonically-incrementing creation counters for one
// UTC calendar day. Rows are created lazily on the first event of a day and
// never deleted by normal operation.
type DailyBucket struct {
	Date      string `gorm:"column:date;primaryKey;size:10;not null"`
	NoteCount int64  `gorm:"column:note_count;not null;default:0"`
	ChatCount int64  `gorm:"column:chat_count;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (DailyBucket) TableName() string {
	return "stats_daily"
}

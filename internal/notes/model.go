package notes

// Note models a stored one-time note. The ciphertext is opaque to the
// backend: encryption and decryption happen in the client before the payload
// ever reaches this service.
type Note struct {
	ID              string `gorm:"column:id;primaryKey;size:190;not null"`
	Ciphertext      string `gorm:"column:ciphertext;type:text;not null"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	ExpiresAtMillis int64  `gorm:"column:expires_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

package pseudonym

import "time"

// VaultRecord maps a token back to its source value for authorised
// re-identification. Tokens are deterministic, so re-inserting the same
// mapping is a no-op.
type VaultRecord struct {
	Token      string    `gorm:"primaryKey;column:token" json:"token"`
	Field      string    `gorm:"column:field" json:"field"`
	Value      string    `gorm:"column:value" json:"value"`
	KeyVersion string    `gorm:"column:key_version" json:"key_version"`
	CreatedAt  time.Time `gorm:"column:created_at" json:"created_at"`
}

func (VaultRecord) TableName() string {
	return "pseudonym_vault"
}

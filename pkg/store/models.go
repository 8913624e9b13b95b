package store

import (
	"time"

	"gorm.io/datatypes"
)

// RecordModel is the GORM row backing a domain.Record. The table name is not
// fixed here: GormStore binds every query to its configured collection name.
type RecordModel struct {
	ID        string `gorm:"primaryKey"`
	Prompt    string `gorm:"type:text;not null"`
	Result    datatypes.JSON
	Mode      string
	Service   string
	MediaURL  string
	MediaType string
	MediaKey  string
	Metadata  datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
}

package papers

import "time"

// Paper is the slice of the platform's paper record that annotations need.
type Paper struct {
	PaperID   string    `gorm:"column:paper_id;primaryKey;size:190;not null"`
	Title     string    `gorm:"column:title;size:512;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Paper) TableName() string {
	return "papers"
}

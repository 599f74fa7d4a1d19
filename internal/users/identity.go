package users

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
)

// Identity maps a provider-specific login onto a canonical Margin user id and carries the
// profile fields shown next to annotations.
type Identity struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	UserID      string    `gorm:"column:user_id;size:190;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	AvatarURL   string    `gorm:"column:user_avatar_url;size:512"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Summary projects the identity onto the author shape attached to annotations.
func (i Identity) Summary() annotations.AuthorSummary {
	displayName := i.DisplayName
	if displayName == "" {
		displayName = i.Email
	}
	return annotations.AuthorSummary{
		ID:          i.UserID,
		DisplayName: displayName,
		Email:       i.Email,
		AvatarURL:   i.AvatarURL,
	}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

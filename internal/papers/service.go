package papers

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// Service reads paper metadata. Papers are written by the wider platform.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("papers: database connection required")
	}
	return &Service{db: db}, nil
}

// LookupTitles returns titles keyed by paper id. Unknown ids are omitted.
func (s *Service) LookupTitles(ctx context.Context, paperIDs []string) (map[string]string, error) {
	titles := make(map[string]string, len(paperIDs))
	if len(paperIDs) == 0 {
		return titles, nil
	}
	var papers []Paper
	if err := s.db.WithContext(ctx).
		Select("paper_id", "title").
		Where("paper_id IN ?", paperIDs).
		Find(&papers).Error; err != nil {
		return nil, fmt.Errorf("papers: lookup titles: %w", err)
	}
	for _, paper := range papers {
		titles[paper.PaperID] = paper.Title
	}
	return titles, nil
}

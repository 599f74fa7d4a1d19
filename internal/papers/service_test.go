package papers

import (
	"context"
	"testing"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var _ annotations.PaperDirectory = (*Service)(nil)

func TestLookupTitles(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:margin_papers?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Paper{}))
	require.NoError(t, db.Create(&[]Paper{
		{PaperID: "paper-1", Title: "On Computable Numbers", OwnerID: "alan"},
		{PaperID: "paper-2", Title: "Sketch of the Analytical Engine", OwnerID: "ada"},
	}).Error)

	service, err := NewService(db)
	require.NoError(t, err)

	titles, err := service.LookupTitles(context.Background(), []string{"paper-1", "paper-3"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"paper-1": "On Computable Numbers"}, titles)

	empty, err := service.LookupTitles(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

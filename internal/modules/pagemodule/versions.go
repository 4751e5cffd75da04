package pagemodule

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/events"
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

// ErrActiveVersion rejects deleting the version a page currently serves.
var ErrActiveVersion = fmt.Errorf("cannot delete the active version")

// ErrInvalidTree rejects a save whose component tree fails validation.
type ErrInvalidTree struct {
	Issues []pagetree.Issue
}

func (e *ErrInvalidTree) Error() string {
	return fmt.Sprintf("page definition has %d validation error(s)", len(e.Issues))
}

// SaveVersion appends a new version of a page and makes it active. The
// tree is validated first; fatal issues reject the save. Version numbers
// strictly increase per page, and the deactivate-then-insert runs in one
// transaction so exactly one version stays active.
func (s *Store) SaveVersion(ctx context.Context, pageID string, definition []byte, changeDescription, userID string) (*database.PageVersion, error) {
	if _, err := s.GetPage(ctx, pageID); err != nil {
		return nil, err
	}

	tree, err := pagetree.Parse(definition)
	if err != nil {
		return nil, &ErrInvalidTree{Issues: []pagetree.Issue{{Message: err.Error(), Fatal: true}}}
	}
	if fatal := pagetree.FatalIssues(tree.Validate(s.lookup())); len(fatal) > 0 {
		return nil, &ErrInvalidTree{Issues: fatal}
	}

	var version database.PageVersion
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		row := tx.Model(&database.PageVersion{}).
			Where("page_id = ?", pageID).
			Select("COALESCE(MAX(version_number), 0)")
		if err := row.Scan(&maxNumber).Error; err != nil {
			return err
		}
		if err := tx.Model(&database.PageVersion{}).
			Where("page_id = ?", pageID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		version = database.PageVersion{
			ID:                uuid.NewString(),
			PageID:            pageID,
			VersionNumber:     maxNumber + 1,
			PageDefinition:    string(definition),
			ChangeDescription: changeDescription,
			CreatedByUserID:   userID,
			IsActive:          true,
		}
		return tx.Create(&version).Error
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.EventVersionSaved, pageID, fmt.Sprintf("version %d saved", version.VersionNumber))
	return &version, nil
}

// ActiveVersion returns the version a page currently serves, or ErrNotFound
// when the page has never been saved.
func (s *Store) ActiveVersion(ctx context.Context, pageID string) (*database.PageVersion, error) {
	var version database.PageVersion
	err := s.db.WithContext(ctx).
		First(&version, "page_id = ? AND is_active = ?", pageID, true).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// LatestVersion returns the highest-numbered version regardless of the
// active flag; the renderer falls back to it when no version is active.
func (s *Store) LatestVersion(ctx context.Context, pageID string) (*database.PageVersion, error) {
	var version database.PageVersion
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("version_number DESC").
		First(&version).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// GetVersion returns one version by number.
func (s *Store) GetVersion(ctx context.Context, pageID string, number int) (*database.PageVersion, error) {
	var version database.PageVersion
	err := s.db.WithContext(ctx).
		First(&version, "page_id = ? AND version_number = ?", pageID, number).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// History returns a page's versions newest first. The definitions are
// included; clients needing only metadata can project them away.
func (s *Store) History(ctx context.Context, pageID string) ([]database.PageVersion, error) {
	var versions []database.PageVersion
	err := s.db.WithContext(ctx).
		Where("page_id = ?", pageID).
		Order("version_number DESC").
		Find(&versions).Error
	return versions, err
}

// RestoreVersion copies an old version's definition into a brand-new
// version and activates it. History is never rewritten: restoring version
// 2 of a page at version 5 produces version 6.
func (s *Store) RestoreVersion(ctx context.Context, pageID string, number int) (*database.PageVersion, error) {
	src, err := s.GetVersion(ctx, pageID, number)
	if err != nil {
		return nil, err
	}
	restored, err := s.SaveVersion(ctx, pageID, []byte(src.PageDefinition),
		fmt.Sprintf("Restored from version %d", number), "")
	if err != nil {
		return nil, err
	}
	s.publish(events.EventVersionRestored, pageID, fmt.Sprintf("version %d restored as %d", number, restored.VersionNumber))
	return restored, nil
}

// DeleteVersion removes an inactive version from history.
func (s *Store) DeleteVersion(ctx context.Context, pageID string, number int) error {
	version, err := s.GetVersion(ctx, pageID, number)
	if err != nil {
		return err
	}
	if version.IsActive {
		return ErrActiveVersion
	}
	return s.db.WithContext(ctx).Delete(version).Error
}

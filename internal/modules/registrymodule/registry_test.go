package registrymodule

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.ComponentRegistration{}, &database.Page{}, &database.PageVersion{}))
	return db
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(testDB(t), nil, hclog.NewNullLogger())
}

func manifest(pluginID, componentID string) plugins.Manifest {
	return plugins.Manifest{
		PluginID:      pluginID,
		PluginVersion: "1.0.0",
		ComponentID:   componentID,
		DisplayName:   componentID,
		Category:      plugins.CategoryUI,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, manifest("cards", "card"), "/plugins/cards"))

	row, err := r.Get(ctx, "cards", "card")
	require.NoError(t, err)
	assert.True(t, row.IsActive, "registering activates the component")

	got, err := r.GetManifest(ctx, "cards", "card")
	require.NoError(t, err)
	assert.Equal(t, "card", got.ComponentID)
	assert.Equal(t, "1.0.0", got.PluginVersion)

	_, err = r.Get(ctx, "cards", "nope")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterUpsertReactivates(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, manifest("cards", "card"), ""))
	require.NoError(t, r.SetComponentActive(ctx, "cards", "card", false))

	updated := manifest("cards", "card")
	updated.DisplayName = "Fancy Card"
	require.NoError(t, r.Register(ctx, updated, ""))

	row, err := r.Get(ctx, "cards", "card")
	require.NoError(t, err)
	assert.Equal(t, "Fancy Card", row.ComponentName)
	assert.True(t, row.IsActive, "registering twice equals registering once: active")
}

func TestRegisterRejectsInvalidManifest(t *testing.T) {
	r := testRegistry(t)
	bad := manifest("cards", "card")
	bad.Category = "bogus"
	assert.Error(t, r.Register(context.Background(), bad, ""))
}

func TestRegisterBatchAtomic(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	bad := manifest("cards", "broken")
	bad.DisplayName = ""
	err := r.RegisterBatch(ctx, []plugins.Manifest{manifest("cards", "card"), bad}, "")
	require.Error(t, err)

	rows, err := r.List(ctx, ListOptions{PluginID: "cards"})
	require.NoError(t, err)
	assert.Empty(t, rows, "a failing manifest rolls back the whole batch")
}

func TestSetPluginActive(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.RegisterBatch(ctx, []plugins.Manifest{
		manifest("cards", "card"),
		manifest("cards", "list"),
		manifest("other", "widget"),
	}, ""))

	require.NoError(t, r.SetPluginActive(ctx, "cards", false))

	active, err := r.List(ctx, ListOptions{OnlyActive: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "other", active[0].PluginID)

	assert.NotNil(t, r.ActiveManifest(ctx, "other", "widget"))
	assert.Nil(t, r.ActiveManifest(ctx, "cards", "card"), "deactivated components are invisible to pages")
}

func TestListFilters(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	nav := manifest("nav", "bar")
	nav.Category = plugins.CategoryNavbar
	require.NoError(t, r.RegisterBatch(ctx, []plugins.Manifest{manifest("cards", "card"), nav}, ""))

	rows, err := r.List(ctx, ListOptions{Category: "navbar"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "bar", rows[0].ComponentID)
}

func pageWithVersion(t *testing.T, db *gorm.DB, pageID, pluginID, componentID string, active bool) {
	t.Helper()
	require.NoError(t, db.Create(&database.Page{
		ID: pageID, SiteID: "site-1", Slug: pageID, PageName: "Page " + pageID,
	}).Error)
	def := `{"components":[{"instanceId":"i1","pluginId":"` + pluginID + `","componentId":"` + componentID + `"}]}`
	require.NoError(t, db.Create(&database.PageVersion{
		ID: pageID + "-v1", PageID: pageID, VersionNumber: 1,
		PageDefinition: def, IsActive: active,
	}).Error)
}

func TestUnregisterInUse(t *testing.T) {
	db := testDB(t)
	r := NewRegistry(db, nil, hclog.NewNullLogger())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, manifest("cards", "card"), ""))
	pageWithVersion(t, db, "page-1", "cards", "card", true)

	err := r.Unregister(ctx, "cards", "card")
	var inUse *ErrComponentInUse
	require.True(t, errors.As(err, &inUse))
	require.Len(t, inUse.Pages, 1)
	assert.Equal(t, PageRef{PageID: "page-1", PageName: "Page page-1", SiteID: "site-1"}, inUse.Pages[0])

	// Still registered.
	_, err = r.Get(ctx, "cards", "card")
	assert.NoError(t, err)
}

func TestUnregisterInUseByHistoricalVersion(t *testing.T) {
	db := testDB(t)
	r := NewRegistry(db, nil, hclog.NewNullLogger())
	ctx := context.Background()

	require.NoError(t, r.Register(ctx, manifest("cards", "card"), ""))
	pageWithVersion(t, db, "page-1", "cards", "card", false)

	// An inactive version can still be restored, so the reference counts.
	err := r.Unregister(ctx, "cards", "card")
	var inUse *ErrComponentInUse
	require.True(t, errors.As(err, &inUse))
	require.Len(t, inUse.Pages, 1)
	assert.Equal(t, "page-1", inUse.Pages[0].PageID)
}

func TestUnregisterFree(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()
	require.NoError(t, r.Register(ctx, manifest("cards", "card"), ""))
	require.NoError(t, r.Unregister(ctx, "cards", "card"))
	_, err := r.Get(ctx, "cards", "card")
	assert.ErrorIs(t, err, ErrNotRegistered)

	assert.ErrorIs(t, r.Unregister(ctx, "cards", "card"), ErrNotRegistered)
}

func TestUnregisterPluginKeepsReferenced(t *testing.T) {
	db := testDB(t)
	r := NewRegistry(db, nil, hclog.NewNullLogger())
	ctx := context.Background()

	require.NoError(t, r.RegisterBatch(ctx, []plugins.Manifest{
		manifest("cards", "card"),
		manifest("cards", "list"),
	}, ""))
	require.NoError(t, r.SetPluginActive(ctx, "cards", true))
	pageWithVersion(t, db, "page-1", "cards", "card", true)

	require.NoError(t, r.UnregisterPlugin(ctx, "cards"))

	// The referenced component survives, deactivated.
	row, err := r.Get(ctx, "cards", "card")
	require.NoError(t, err)
	assert.False(t, row.IsActive)

	// The unreferenced one is gone.
	_, err = r.Get(ctx, "cards", "list")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

package pagemodule

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
	"github.com/fabrica-io/fabrica/internal/pagetree"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.Site{}, &database.Page{}, &database.PageVersion{}))
	return NewStore(db, nil, nil, hclog.NewNullLogger())
}

func newPage(t *testing.T, s *Store) *database.Page {
	t.Helper()
	ctx := context.Background()
	site, err := s.CreateSite(ctx, SiteInput{SiteName: "Demo Site"})
	require.NoError(t, err)
	page, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "Home"})
	require.NoError(t, err)
	return page
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Home", "home"},
		{"About Us!", "about-us"},
		{"  --Weird   Name--  ", "weird-name"},
		{"Ünïcode Stuff", "n-code-stuff"},
		{"!!!", "page"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), "input %q", tt.in)
	}
}

func TestSiteSlugUnique(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, err := s.CreateSite(ctx, SiteInput{SiteName: "Demo", SiteSlug: "demo"})
	require.NoError(t, err)
	_, err = s.CreateSite(ctx, SiteInput{SiteName: "Other", SiteSlug: "demo"})
	assert.ErrorIs(t, err, ErrSlugTaken)
}

func TestPageSlugCollisionGetsSuffix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	site, err := s.CreateSite(ctx, SiteInput{SiteName: "Demo"})
	require.NoError(t, err)

	p1, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "News"})
	require.NoError(t, err)
	p2, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "News"})
	require.NoError(t, err)
	p3, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "News"})
	require.NoError(t, err)

	assert.Equal(t, "news", p1.Slug)
	assert.Equal(t, "news-1", p2.Slug, "the smallest free suffix wins")
	assert.Equal(t, "news-2", p3.Slug)

	// Same slug on a different site is fine.
	other, err := s.CreateSite(ctx, SiteInput{SiteName: "Other"})
	require.NoError(t, err)
	p4, err := s.CreatePage(ctx, other.ID, PageInput{PageName: "News"})
	require.NoError(t, err)
	assert.Equal(t, "news", p4.Slug)
}

func TestPageDataSourceValidationOnWrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	site, err := s.CreateSite(ctx, SiteInput{SiteName: "Demo"})
	require.NoError(t, err)

	_, err = s.CreatePage(ctx, site.ID, PageInput{
		PageName: "Bad",
		DataSources: map[string]pagetree.DataSourceConfig{
			"posts": {Type: pagetree.SourceAPI}, // endpoint missing
		},
	})
	require.Error(t, err)

	page, err := s.CreatePage(ctx, site.ID, PageInput{
		PageName: "Good",
		DataSources: map[string]pagetree.DataSourceConfig{
			"posts": {Type: pagetree.SourceAPI, Endpoint: "https://example.com/posts"},
		},
	})
	require.NoError(t, err)
	configs, err := PageDataSources(page)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/posts", configs["posts"].Endpoint)
}

const validDefinition = `{"components":[{"instanceId":"a","pluginId":"core","componentId":"text"}]}`

func TestSaveVersionSequence(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	page := newPage(t, s)

	v1, err := s.SaveVersion(ctx, page.ID, []byte(validDefinition), "first", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.True(t, v1.IsActive)

	v2, err := s.SaveVersion(ctx, page.ID, []byte(validDefinition), "second", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	active, err := s.ActiveVersion(ctx, page.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, active.VersionNumber)

	// Exactly one active row.
	history, err := s.History(ctx, page.ID)
	require.NoError(t, err)
	activeCount := 0
	for _, v := range history {
		if v.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
	assert.Equal(t, 2, history[0].VersionNumber, "history is newest first")
}

func TestSaveVersionRejectsInvalidTree(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	page := newPage(t, s)

	// Duplicate instance IDs are fatal.
	bad := `{"components":[
		{"instanceId":"x","pluginId":"core","componentId":"text"},
		{"instanceId":"x","pluginId":"core","componentId":"text"}
	]}`
	_, err := s.SaveVersion(ctx, page.ID, []byte(bad), "", "")
	var invalid *ErrInvalidTree
	require.True(t, errors.As(err, &invalid))
	assert.NotEmpty(t, invalid.Issues)

	// Nothing was persisted.
	_, err = s.ActiveVersion(ctx, page.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreVersion(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	page := newPage(t, s)

	first := `{"components":[{"instanceId":"a","pluginId":"core","componentId":"text","props":{"text":"old"}}]}`
	_, err := s.SaveVersion(ctx, page.ID, []byte(first), "v1", "")
	require.NoError(t, err)
	_, err = s.SaveVersion(ctx, page.ID, []byte(validDefinition), "v2", "")
	require.NoError(t, err)

	restored, err := s.RestoreVersion(ctx, page.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber, "restore appends, never rewrites")
	assert.Equal(t, first, restored.PageDefinition)
	assert.Equal(t, "Restored from version 1", restored.ChangeDescription)
	assert.True(t, restored.IsActive)
}

func TestDeleteVersionRules(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	page := newPage(t, s)

	_, err := s.SaveVersion(ctx, page.ID, []byte(validDefinition), "v1", "")
	require.NoError(t, err)
	_, err = s.SaveVersion(ctx, page.ID, []byte(validDefinition), "v2", "")
	require.NoError(t, err)

	assert.ErrorIs(t, s.DeleteVersion(ctx, page.ID, 2), ErrActiveVersion)
	require.NoError(t, s.DeleteVersion(ctx, page.ID, 1))
	_, err = s.GetVersion(ctx, page.ID, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSiteCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	page := newPage(t, s)
	_, err := s.SaveVersion(ctx, page.ID, []byte(validDefinition), "", "")
	require.NoError(t, err)

	site, err := s.GetSite(ctx, page.SiteID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSite(ctx, site.ID))

	_, err = s.GetPage(ctx, page.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReorderPages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	site, err := s.CreateSite(ctx, SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	a, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "Alpha", DisplayOrder: 0})
	require.NoError(t, err)
	b, err := s.CreatePage(ctx, site.ID, PageInput{PageName: "Beta", DisplayOrder: 1})
	require.NoError(t, err)

	require.NoError(t, s.ReorderPages(ctx, site.ID, []string{b.ID, a.ID}))

	pages, err := s.ListPages(ctx, site.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, b.ID, pages[0].ID)
	assert.Equal(t, a.ID, pages[1].ID)

	// An ID from another site rolls the whole reorder back.
	other, err := s.CreateSite(ctx, SiteInput{SiteName: "Other"})
	require.NoError(t, err)
	foreign, err := s.CreatePage(ctx, other.ID, PageInput{PageName: "Foreign"})
	require.NoError(t, err)

	err = s.ReorderPages(ctx, site.ID, []string{a.ID, foreign.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	pages, err = s.ListPages(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, pages[0].ID, "failed reorder leaves order untouched")
}

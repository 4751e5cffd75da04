package rendermodule

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/fabrica-io/fabrica/internal/config"
	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/modules/datasourcemodule"
	"github.com/fabrica-io/fabrica/internal/modules/pagemodule"
	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// mapManifests serves manifests from a fixed map.
type mapManifests map[string]plugins.Manifest

func (m mapManifests) ActiveManifest(ctx context.Context, pluginID, componentID string) *plugins.Manifest {
	if man, ok := m[pluginID+"/"+componentID]; ok {
		return &man
	}
	return nil
}

func testSetup(t *testing.T, manifests mapManifests) (*pagemodule.Store, *Orchestrator, *gorm.DB) {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&database.Site{}, &database.Page{}, &database.PageVersion{}))

	store := pagemodule.NewStore(db, manifests, nil, hclog.NewNullLogger())
	engine := datasourcemodule.NewEngine(&config.DataSourceConfig{
		DefaultTTL:   time.Minute,
		FetchTimeout: 2 * time.Second,
	}, nil, hclog.NewNullLogger())
	orch := NewOrchestrator(store, engine, manifests, hclog.NewNullLogger())
	return store, orch, db
}

func repeaterManifests() mapManifests {
	return mapManifests{
		"core/repeater": {
			PluginID: "core", ComponentID: "repeater", DisplayName: "Repeater",
			Category:     plugins.CategoryLayout,
			Capabilities: plugins.Capabilities{CanHaveChildren: true, Iterator: true},
		},
		"core/text": {
			PluginID: "core", ComponentID: "text", DisplayName: "Text",
			Category: plugins.CategoryUI,
		},
	}
}

func TestRenderResolvedRepeater(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"name":"A","score":1.5},{"name":"B","score":2}]`))
	}))
	defer srv.Close()

	store, orch, _ := testSetup(t, repeaterManifests())
	ctx := context.Background()

	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{
		PageName: "Scores",
		DataSources: map[string]pagetree.DataSourceConfig{
			"players": {Type: pagetree.SourceAPI, Endpoint: srv.URL},
		},
	})
	require.NoError(t, err)

	def := `{"components":[{
		"instanceId":"list","pluginId":"core","componentId":"repeater",
		"iteratorConfig":{"dataPath":"players"},
		"children":[{
			"instanceId":"row","parentId":"list","pluginId":"core","componentId":"text",
			"props":{"text":"{{item.name}}: {{item.score}}"}
		}]
	}]}`
	_, err = store.SaveVersion(ctx, page.ID, []byte(def), "initial", "")
	require.NoError(t, err)

	result, err := orch.Render(ctx, page.ID, nil, true)
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Errors)

	require.Len(t, result.Tree, 1)
	rows := result.Tree[0].Children
	require.Len(t, rows, 2)
	assert.Equal(t, "A: 1.5", rows[0].Props["text"])
	assert.Equal(t, "B: 2", rows[1].Props["text"])
	assert.Equal(t, 1, result.PageMeta.Version)
	assert.False(t, result.PageMeta.Draft)
}

func TestRenderUnresolvedLeavesBindings(t *testing.T) {
	store, orch, _ := testSetup(t, repeaterManifests())
	ctx := context.Background()

	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{PageName: "Raw"})
	require.NoError(t, err)
	def := `{"components":[{"instanceId":"a","pluginId":"core","componentId":"text","props":{"text":"{{title}}"}}]}`
	_, err = store.SaveVersion(ctx, page.ID, []byte(def), "", "")
	require.NoError(t, err)

	result, err := orch.Render(ctx, page.ID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, "{{title}}", result.Tree[0].Props["text"], "client-side resolution keeps tokens")
}

func TestRenderDraftFallbackAndWarnings(t *testing.T) {
	store, orch, db := testSetup(t, repeaterManifests())
	ctx := context.Background()

	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{PageName: "Draft"})
	require.NoError(t, err)

	// The definition references a component that is not registered; saving
	// succeeds (non-fatal) but render warns.
	def := `{"components":[{"instanceId":"a","pluginId":"gone","componentId":"widget"}]}`
	v, err := store.SaveVersion(ctx, page.ID, []byte(def), "", "")
	require.NoError(t, err)

	// Deactivate the only version to force the draft fallback.
	require.NoError(t, db.Model(&database.PageVersion{}).
		Where("id = ?", v.ID).Update("is_active", false).Error)

	result, err := orch.Render(ctx, page.ID, nil, false)
	require.NoError(t, err)
	assert.True(t, result.PageMeta.Draft)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "serving draft version 1")
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "not registered") {
			found = true
		}
	}
	assert.True(t, found, "unregistered component produces a warning")
}

func TestRenderNeverSavedPage(t *testing.T) {
	store, orch, _ := testSetup(t, nil)
	ctx := context.Background()
	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{PageName: "Empty"})
	require.NoError(t, err)

	_, err = orch.Render(ctx, page.ID, nil, false)
	assert.ErrorIs(t, err, pagemodule.ErrNotFound)
}

func TestRenderBySlugRequiresPublishedSite(t *testing.T) {
	store, orch, _ := testSetup(t, repeaterManifests())
	ctx := context.Background()

	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo", SiteSlug: "demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{PageName: "Home"})
	require.NoError(t, err)
	def := `{"components":[{"instanceId":"a","pluginId":"core","componentId":"text"}]}`
	_, err = store.SaveVersion(ctx, page.ID, []byte(def), "", "")
	require.NoError(t, err)

	_, err = orch.RenderBySlug(ctx, "demo", "home", nil, false)
	assert.ErrorIs(t, err, pagemodule.ErrNotFound, "unpublished site is invisible")

	_, err = store.SetSitePublished(ctx, site.ID, true)
	require.NoError(t, err)

	result, err := orch.RenderBySlug(ctx, "demo", "home", nil, false)
	require.NoError(t, err)
	assert.Equal(t, "home", result.PageMeta.Slug)
}

func TestRenderSlotRegions(t *testing.T) {
	store, orch, _ := testSetup(t, repeaterManifests())
	ctx := context.Background()
	site, err := store.CreateSite(ctx, pagemodule.SiteInput{SiteName: "Demo"})
	require.NoError(t, err)
	page, err := store.CreatePage(ctx, site.ID, pagemodule.PageInput{PageName: "Layout"})
	require.NoError(t, err)
	def := `{"components":[
		{"instanceId":"nav","pluginId":"core","componentId":"text","slot":"header","displayOrder":0},
		{"instanceId":"body","pluginId":"core","componentId":"text","displayOrder":1}
	]}`
	_, err = store.SaveVersion(ctx, page.ID, []byte(def), "", "")
	require.NoError(t, err)

	result, err := orch.Render(ctx, page.ID, nil, false)
	require.NoError(t, err)
	require.Len(t, result.Regions[pagetree.SlotHeader], 1)
	require.Len(t, result.Regions[pagetree.SlotCenter], 1)
	assert.Equal(t, "body", result.Regions[pagetree.SlotCenter][0].InstanceID)
}

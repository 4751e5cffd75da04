// Package rendermodule assembles everything a client needs to render a
// page: the component tree, the fetched data, and the warnings about
// anything that could not be honored.
package rendermodule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/fabrica-io/fabrica/internal/database"
	"github.com/fabrica-io/fabrica/internal/modules/datasourcemodule"
	"github.com/fabrica-io/fabrica/internal/modules/pagemodule"
	"github.com/fabrica-io/fabrica/internal/pagetree"
	"github.com/fabrica-io/fabrica/internal/template"
	"github.com/fabrica-io/fabrica/pkg/plugins"
)

// PageSource is the slice of the page store the orchestrator reads.
type PageSource interface {
	GetPage(ctx context.Context, id string) (*database.Page, error)
	GetSiteBySlug(ctx context.Context, slug string) (*database.Site, error)
	GetPageBySlug(ctx context.Context, siteID, slug string) (*database.Page, error)
	ActiveVersion(ctx context.Context, pageID string) (*database.PageVersion, error)
	LatestVersion(ctx context.Context, pageID string) (*database.PageVersion, error)
	DataSourceConfigs(ctx context.Context, pageID string) (map[string]pagetree.DataSourceConfig, error)
}

// DataFetcher aggregates the page's data sources.
type DataFetcher interface {
	FetchAll(ctx context.Context, configs map[string]pagetree.DataSourceConfig, requestContext map[string]any) datasourcemodule.FetchResult
}

// ManifestSource resolves active component manifests.
type ManifestSource interface {
	ActiveManifest(ctx context.Context, pluginID, componentID string) *plugins.Manifest
}

// PageMeta is the page header the render payload carries.
type PageMeta struct {
	PageID      string `json:"pageId"`
	SiteID      string `json:"siteId"`
	Slug        string `json:"slug"`
	PageName    string `json:"pageName"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Version     int    `json:"version"`
	Draft       bool   `json:"draft"` // true when no active version existed
}

// RenderResult is the full render payload.
type RenderResult struct {
	Tree        []*pagetree.ComponentInstance            `json:"tree"`
	Regions     map[string][]*pagetree.ComponentInstance `json:"regions"`
	Data        map[string]any                           `json:"data"`
	Errors      map[string]string                        `json:"errors,omitempty"`
	Warnings    []string                                 `json:"warnings,omitempty"`
	PageMeta    PageMeta                                 `json:"pageMeta"`
	FetchTimeMs int64                                    `json:"fetchTimeMs"`
}

// Orchestrator drives the render pipeline.
type Orchestrator struct {
	pages     PageSource
	fetcher   DataFetcher
	manifests ManifestSource
	logger    hclog.Logger
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(pages PageSource, fetcher DataFetcher, manifests ManifestSource, logger hclog.Logger) *Orchestrator {
	return &Orchestrator{
		pages:     pages,
		fetcher:   fetcher,
		manifests: manifests,
		logger:    logger.Named("render"),
	}
}

// Render assembles the payload for one page. With resolve set, template
// bindings are substituted server side and repeaters are expanded; without
// it, the tree ships raw and the client resolves.
func (o *Orchestrator) Render(ctx context.Context, pageID string, requestContext map[string]any, resolve bool) (*RenderResult, error) {
	page, err := o.pages.GetPage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	return o.render(ctx, page, requestContext, resolve)
}

// RenderBySlug resolves a published page through its site and page slugs.
func (o *Orchestrator) RenderBySlug(ctx context.Context, siteSlug, pageSlug string, requestContext map[string]any, resolve bool) (*RenderResult, error) {
	site, err := o.pages.GetSiteBySlug(ctx, siteSlug)
	if err != nil {
		return nil, err
	}
	if !site.Published {
		return nil, pagemodule.ErrNotFound
	}
	page, err := o.pages.GetPageBySlug(ctx, site.ID, pageSlug)
	if err != nil {
		return nil, err
	}
	return o.render(ctx, page, requestContext, resolve)
}

func (o *Orchestrator) render(ctx context.Context, page *database.Page, requestContext map[string]any, resolve bool) (*RenderResult, error) {
	var warnings []string

	version, err := o.pages.ActiveVersion(ctx, page.ID)
	draft := false
	if errors.Is(err, pagemodule.ErrNotFound) {
		// No active version: fall back to the newest draft.
		version, err = o.pages.LatestVersion(ctx, page.ID)
		draft = true
		if err == nil {
			warnings = append(warnings, fmt.Sprintf("no active version, serving draft version %d", version.VersionNumber))
		}
	}
	if err != nil {
		return nil, err
	}

	tree, err := pagetree.Parse([]byte(version.PageDefinition))
	if err != nil {
		return nil, fmt.Errorf("page %s version %d: %w", page.ID, version.VersionNumber, err)
	}
	tree.SortSiblings()

	for _, issue := range tree.Validate(o.lookup(ctx)) {
		warnings = append(warnings, issue.String())
	}

	configs, err := o.pages.DataSourceConfigs(ctx, page.ID)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	fetched := o.fetcher.FetchAll(ctx, configs, requestContext)
	fetchTime := time.Since(start).Milliseconds()

	if resolve {
		base := &template.DataContext{
			DataSources: fetched.Data,
			SharedData:  tree.SharedData,
		}
		tree.Components = resolveNodes(tree.Components, base)
	}

	return &RenderResult{
		Tree:        tree.Components,
		Regions:     tree.RouteSlots(),
		Data:        fetched.Data,
		Errors:      fetched.Errors,
		Warnings:    warnings,
		FetchTimeMs: fetchTime,
		PageMeta: PageMeta{
			PageID:      page.ID,
			SiteID:      page.SiteID,
			Slug:        page.Slug,
			PageName:    page.PageName,
			Title:       page.Title,
			Description: page.Description,
			Version:     version.VersionNumber,
			Draft:       draft,
		},
	}, nil
}

func (o *Orchestrator) lookup(ctx context.Context) pagetree.ManifestLookup {
	if o.manifests == nil {
		return nil
	}
	return func(pluginID, componentID string) *plugins.Manifest {
		return o.manifests.ActiveManifest(ctx, pluginID, componentID)
	}
}

// resolveNodes substitutes bindings through the tree and expands repeaters
// against their data paths.
func resolveNodes(nodes []*pagetree.ComponentInstance, ctx *template.DataContext) []*pagetree.ComponentInstance {
	out := make([]*pagetree.ComponentInstance, 0, len(nodes))
	for _, node := range nodes {
		if node.Iterator != nil {
			source := ctx.Resolve(node.Iterator.DataPath)
			out = append(out, pagetree.ExpandRepeater(node, source, ctx))
			continue
		}
		resolved := *node
		resolved.Props = ctx.ResolveProps(node.Props)
		if node.Styles != nil {
			styles := make(map[string]string, len(node.Styles))
			for k, v := range node.Styles {
				styles[k] = ctx.ResolveString(v)
			}
			resolved.Styles = styles
		}
		resolved.Children = resolveNodes(node.Children, ctx)
		out = append(out, &resolved)
	}
	return out
}

package sites

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"scrapeflow/internal/browser"
	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/errorsx"
)

// ListingModule walks a paginated listing site: authenticate once, then for
// each page verify session health, extract items, download any marked file
// links, and advance. It checks task cancellation between pages so a cancel
// takes effect at the next page boundary.
type ListingModule struct {
	def         Definition
	downloadDir string
}

// NewListingModule builds a module instance for one execution
func NewListingModule(def Definition, downloadDir string) *ListingModule {
	return &ListingModule{def: def, downloadDir: downloadDir}
}

// Execute runs the listing walk for one task
func (m *ListingModule) Execute(ctx context.Context, task *engine.Task, rc *browser.RecoveryController) error {
	if m.def.Auth != nil {
		if err := m.def.Auth.Authenticate(ctx, rc.Session(), task.Parameters); err != nil {
			return errorsx.WithKind(errorsx.KindAuth, err)
		}
	}

	pagination := m.newPagination()

	for {
		if task.IsCancelled() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errorsx.WithKind(errorsx.KindCancelled, errorsx.WrapRecoverable(err))
		}

		if !rc.EnsureHealthy(ctx) {
			return errorsx.WithKind(errorsx.KindSession,
				errorsx.WrapRecoverable(fmt.Errorf("session unrecoverable on page %d", task.Metrics().PagesVisited+1)))
		}

		items, err := m.def.Extraction.Extract(ctx, rc.Session())
		if err != nil {
			return err
		}
		for _, item := range items {
			task.AddItem(item)
		}
		task.AddPageVisited()

		if m.def.FileLinkSelector != "" {
			if err := m.downloadFiles(ctx, task, rc); err != nil {
				return err
			}
		}

		done, err := pagination.NextPage(ctx, rc.Session())
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if m.def.PageDelay != nil {
			if err := m.def.PageDelay(ctx); err != nil {
				return errorsx.WithKind(errorsx.KindCancelled, errorsx.WrapRecoverable(err))
			}
		}
	}
}

func (m *ListingModule) newPagination() PaginationStrategy {
	if m.def.NewPagination != nil {
		return m.def.NewPagination()
	}
	return &LinkPagination{NextSelector: "a.next", MaxPages: 1}
}

// downloadFiles resolves and downloads every marked file link on the page.
// Cancellation is honored before each download.
func (m *ListingModule) downloadFiles(ctx context.Context, task *engine.Task, rc *browser.RecoveryController) error {
	// Downloads are where a stale session hurts most; re-verify right
	// before touching the links even though the page loop checked earlier
	if !rc.EnsureHealthy(ctx) {
		return errorsx.WithKind(errorsx.KindSession,
			errorsx.WrapRecoverable(fmt.Errorf("session unrecoverable before download")))
	}

	session := rc.Session()
	links, err := session.FindElements(m.def.FileLinkSelector)
	if err != nil {
		return err
	}

	base, err := session.CurrentURL()
	if err != nil {
		return err
	}

	for _, link := range links {
		if task.IsCancelled() {
			return nil
		}
		href, ok := link.Attr("href")
		if !ok || href == "" {
			continue
		}

		target := resolveRef(base, href)
		dest := filepath.Join(m.downloadDir, task.ID, path.Base(target))
		if _, err := session.DownloadFile(ctx, target, dest); err != nil {
			return err
		}
		task.AddFileDownloaded()
	}
	return nil
}

// resolveRef resolves ref against base, falling back to ref verbatim when
// either side fails to parse
func resolveRef(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

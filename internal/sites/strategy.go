package sites

import (
	"context"

	"scrapeflow/internal/browser"
	"scrapeflow/internal/engine"
)

// AuthStrategy performs whatever login a site requires before extraction.
// Sites without authentication use NoAuth.
type AuthStrategy interface {
	Authenticate(ctx context.Context, session browser.Session, params map[string]string) error
}

// PaginationStrategy advances the session to the next result page. Done
// reporting true ends the walk.
type PaginationStrategy interface {
	NextPage(ctx context.Context, session browser.Session) (done bool, err error)
}

// ExtractionStrategy pulls items off the current page
type ExtractionStrategy interface {
	Extract(ctx context.Context, session browser.Session) ([]map[string]string, error)
}

// NoAuth is the authentication strategy for public sites
type NoAuth struct{}

func (NoAuth) Authenticate(ctx context.Context, session browser.Session, params map[string]string) error {
	return nil
}

// FormAuth logs in by filling a form with credentials from task parameters
type FormAuth struct {
	FormSelector     string
	UserSelector     string
	PasswordSelector string
	UserParam        string
	PasswordParam    string
}

func (a FormAuth) Authenticate(ctx context.Context, session browser.Session, params map[string]string) error {
	if err := session.FillInput(a.UserSelector, params[a.UserParam]); err != nil {
		return err
	}
	if err := session.FillInput(a.PasswordSelector, params[a.PasswordParam]); err != nil {
		return err
	}
	return session.SubmitForm(ctx, a.FormSelector)
}

// LinkPagination follows a "next" link until it disappears
type LinkPagination struct {
	NextSelector string
	MaxPages     int

	visited int
}

func (p *LinkPagination) NextPage(ctx context.Context, session browser.Session) (bool, error) {
	p.visited++
	if p.MaxPages > 0 && p.visited >= p.MaxPages {
		return true, nil
	}
	if _, err := session.FindElement(p.NextSelector); err != nil {
		// No next link means the walk is complete, not an error
		return true, nil
	}
	if err := session.Click(ctx, p.NextSelector); err != nil {
		return false, err
	}
	return false, nil
}

// SelectorExtraction maps CSS selectors to item fields. ItemSelector scopes
// one item; Fields are read relative to the full document per matched item.
type SelectorExtraction struct {
	ItemSelector string
	Fields       map[string]string
}

func (x SelectorExtraction) Extract(ctx context.Context, session browser.Session) ([]map[string]string, error) {
	elements, err := session.FindElements(x.ItemSelector)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]string, 0, len(elements))
	for _, el := range elements {
		item := map[string]string{"text": el.Text()}
		for field, attr := range x.Fields {
			if v, ok := el.Attr(attr); ok {
				item[field] = v
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// Definition bundles the strategies and selectors for one site
type Definition struct {
	Name       string
	Auth       AuthStrategy
	Extraction ExtractionStrategy

	// NewPagination builds a fresh pagination walker per task execution
	// since walkers carry page-count state
	NewPagination func() PaginationStrategy

	// FileLinkSelector, when set, marks anchors whose targets are
	// downloaded alongside extraction
	FileLinkSelector string

	// PageDelay inserts a politeness pause between pages
	PageDelay func(ctx context.Context) error
}

// RegisterAll registers every definition with the engine registry
func RegisterAll(registry *engine.Registry, downloadDir string, defs ...Definition) error {
	for _, def := range defs {
		def := def
		err := registry.Register(def.Name, func() engine.SiteModule {
			return NewListingModule(def, downloadDir)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

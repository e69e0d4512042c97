package sites

import (
	"context"
	"time"

	"scrapeflow/internal/engine"
	"scrapeflow/internal/pkg/config"

	"go.uber.org/fx"
)

// Module registers the built-in site modules with the engine registry
var Module = fx.Module("sites",
	fx.Invoke(registerBuiltins),
)

func registerBuiltins(registry *engine.Registry, cfg *config.Config) error {
	delay := pageDelay(cfg.Browser.PageDelay)

	return RegisterAll(registry, cfg.Browser.DownloadDir,
		Definition{
			Name: "listing",
			Auth: NoAuth{},
			Extraction: SelectorExtraction{
				ItemSelector: ".item",
				Fields:       map[string]string{"link": "href"},
			},
			NewPagination: func() PaginationStrategy {
				return &LinkPagination{NextSelector: "a.next", MaxPages: 50}
			},
			PageDelay: delay,
		},
		Definition{
			Name: "documents",
			Auth: FormAuth{
				FormSelector:     "form#login",
				UserSelector:     "input[name=username]",
				PasswordSelector: "input[name=password]",
				UserParam:        "username",
				PasswordParam:    "password",
			},
			Extraction: SelectorExtraction{
				ItemSelector: ".document-row",
				Fields:       map[string]string{"link": "href", "title": "title"},
			},
			NewPagination: func() PaginationStrategy {
				return &LinkPagination{NextSelector: "a[rel=next]", MaxPages: 100}
			},
			FileLinkSelector: "a.download",
			PageDelay:        delay,
		},
	)
}

// pageDelay builds a cancellable politeness pause between pages
func pageDelay(d time.Duration) func(ctx context.Context) error {
	if d <= 0 {
		return nil
	}
	return func(ctx context.Context) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

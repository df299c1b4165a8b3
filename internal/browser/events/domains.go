// internal/browser/events/domains.go
package events

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/browser/registry"
)

// Domain names recorded on a tab. Fetch is owned by the interception controller.
const (
	DomainPage    = "page"
	DomainNetwork = "network"
	DomainRuntime = "runtime"
	DomainDOM     = "dom"
	DomainFetch   = "fetch"
)

// Enable turns on event delivery for one category on a tab. Enabling an
// already enabled domain re-sends the enable command, which the browser treats
// as a no-op.
func (p *Pipeline) Enable(ctx context.Context, tab *registry.Tab, cat schemas.EventCategory) error {
	ctx = tab.Exec(ctx)
	var name string
	var err error
	switch cat {
	case schemas.CategoryPage:
		name = DomainPage
		if err = page.Enable().Do(ctx); err == nil {
			err = page.SetLifecycleEventsEnabled(true).Do(ctx)
		}
	case schemas.CategoryNetwork:
		name = DomainNetwork
		err = network.Enable().Do(ctx)
	case schemas.CategoryRuntime:
		name = DomainRuntime
		if err = runtime.Enable().Do(ctx); err == nil {
			err = cdplog.Enable().Do(ctx)
		}
	case schemas.CategoryDOM:
		name = DomainDOM
		if err = dom.Enable().Do(ctx); err == nil {
			// Mutation events are only sent for nodes the client has seen.
			err = cdp.Execute(ctx, dom.CommandGetDocument, dom.GetDocument().WithDepth(-1), &dom.GetDocumentReturns{})
		}
	default:
		return schemas.NewError(schemas.ErrInvalidArgument, "unknown event category %q", cat)
	}
	if err != nil {
		return fmt.Errorf("enabling %s events on tab %q: %w", name, tab.ID, err)
	}
	tab.SetDomain(name, true)
	p.logger.Debug("Event domain enabled.", zap.String("tab_id", tab.ID), zap.String("domain", name))
	return nil
}

// DisableAll turns off the network and runtime domains. Page and DOM stay on
// because navigation tracking and element invalidation depend on them. The
// caller is responsible for releasing fetch interception. It returns the
// domains that were switched off.
func (p *Pipeline) DisableAll(ctx context.Context, tab *registry.Tab) ([]string, error) {
	ctx = tab.Exec(ctx)
	var disabled []string
	if tab.DomainEnabled(DomainNetwork) {
		if err := network.Disable().Do(ctx); err != nil {
			return disabled, fmt.Errorf("disabling network events on tab %q: %w", tab.ID, err)
		}
		tab.SetDomain(DomainNetwork, false)
		disabled = append(disabled, DomainNetwork)
	}
	if tab.DomainEnabled(DomainRuntime) {
		if err := runtime.Disable().Do(ctx); err != nil {
			return disabled, fmt.Errorf("disabling runtime events on tab %q: %w", tab.ID, err)
		}
		_ = cdplog.Disable().Do(ctx)
		tab.SetDomain(DomainRuntime, false)
		disabled = append(disabled, DomainRuntime)
	}
	return disabled, nil
}

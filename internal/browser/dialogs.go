// internal/browser/dialogs.go
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"go.uber.org/zap"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
)

// Dialog returns the tab's open JavaScript dialog, or nil.
func (m *Manager) Dialog(tabID string) (*schemas.DialogInfo, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return nil, err
	}
	return tab.Dialog(), nil
}

// HandleDialog accepts or dismisses the open dialog. promptText is only used
// when accepting a prompt().
func (m *Manager) HandleDialog(ctx context.Context, tabID string, accept bool, promptText string) (schemas.DialogInfo, error) {
	tab, err := m.reg.RunningTab(tabID)
	if err != nil {
		return schemas.DialogInfo{}, err
	}
	d := tab.Dialog()
	if d == nil {
		return schemas.DialogInfo{}, schemas.NewError(schemas.ErrNotFound, "tab %q has no open dialog", tabID)
	}

	params := page.HandleJavaScriptDialog(accept)
	if accept && promptText != "" {
		params = params.WithPromptText(promptText)
	}
	if err := params.Do(tab.Exec(ctx)); err != nil {
		return schemas.DialogInfo{}, fmt.Errorf("failed to handle dialog on tab %q: %w", tabID, err)
	}
	// Page.javascriptDialogClosed clears it too; this covers callers that
	// look before the event has been drained.
	tab.SetDialog(nil)
	m.logger.Debug("Dialog handled.", zap.String("tab_id", tabID), zap.String("type", d.Type), zap.Bool("accept", accept))
	return *d, nil
}

// internal/browser/transport/flags_test.go
package transport

import (
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
)

func TestExecAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)

	t.Run("headless with no extras keeps the defaults", func(t *testing.T) {
		opts := ExecAllocatorOptions(LaunchSpec{Headless: true})
		assert.Len(t, opts, base)
	})

	t.Run("headful adds an override", func(t *testing.T) {
		opts := ExecAllocatorOptions(LaunchSpec{Headless: false})
		assert.Len(t, opts, base+1)
	})

	t.Run("every flag and the binary path become options", func(t *testing.T) {
		opts := ExecAllocatorOptions(LaunchSpec{
			Headless:   true,
			BinaryPath: "/usr/bin/chromium",
			Flags: []Flag{
				{Name: "no-sandbox"},
				{Name: "window-size", Value: "800,600"},
				{Name: "enable-automation", Off: true},
			},
		})
		assert.Len(t, opts, base+4)
	})
}

// internal/browser/transport/flags.go
package transport

import (
	"github.com/chromedp/chromedp"
)

// ExecAllocatorOptions turns a LaunchSpec into chromedp allocator options,
// starting from chromedp's defaults.
func ExecAllocatorOptions(spec LaunchSpec) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if !spec.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if spec.BinaryPath != "" {
		opts = append(opts, chromedp.ExecPath(spec.BinaryPath))
	}
	for _, f := range spec.Flags {
		switch {
		case f.Off:
			opts = append(opts, chromedp.Flag(f.Name, false))
		case f.Value == "":
			opts = append(opts, chromedp.Flag(f.Name, true))
		default:
			opts = append(opts, chromedp.Flag(f.Name, f.Value))
		}
	}
	return opts
}

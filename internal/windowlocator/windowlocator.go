// Package windowlocator defines the contract for resolving a window title
// to a capturable window (C10/C.13). Platform-specific window enumeration
// is an external collaborator per the system's scope: this package holds
// only the interface internal/sourcecmd depends on, never a concrete
// implementation.
package windowlocator

// Info describes a located window.
type Info struct {
	// Handle is an opaque, platform-specific window identifier (an HWND on
	// Windows, a window id on X11, etc.) formatted as a string so callers
	// never need to know its concrete type.
	Handle string
	Title   string
	Visible bool
	Minimized bool
	X, Y, Width, Height int
}

// MatchMode selects how a configured title is compared against live
// windows.
type MatchMode string

const (
	MatchExact     MatchMode = "exact"
	MatchSubstring MatchMode = "substring"
	MatchRegex     MatchMode = "regex"
)

// Locator resolves a configured window title to a live window. A
// concrete, platform-specific implementation is provided by the host
// application; this package only states the contract.
type Locator interface {
	// Locate finds the first window whose title matches title under mode.
	// Returns an error when no window matches.
	Locate(title string, mode MatchMode) (Info, error)
}

package bridge

// Strategy names shared with the bridge page script. Different mobile
// OS/browser combinations honor different triggers for custom URL schemes,
// so every strategy is attempted in order and individual failures are
// swallowed.
const (
	StrategyDirectNavigation = "direct_navigation"
	StrategyReplaceLocation  = "replace_location"
	StrategyHiddenFrame      = "hidden_frame"
	StrategyAnchorClick      = "anchor_click"
)

// LaunchStrategy is one independently fallible way of asking the host
// environment to open the destination URL.
type LaunchStrategy interface {
	Name() string
	Attempt(targetURL string) error
}

type strategyFunc struct {
	name    string
	attempt func(targetURL string) error
}

// NewStrategy wraps a function as a named LaunchStrategy.
func NewStrategy(name string, attempt func(targetURL string) error) LaunchStrategy {
	return &strategyFunc{name: name, attempt: attempt}
}

func (s *strategyFunc) Name() string {
	return s.name
}

func (s *strategyFunc) Attempt(targetURL string) error {
	return s.attempt(targetURL)
}

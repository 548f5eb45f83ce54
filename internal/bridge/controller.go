package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State names one node of the launch/fallback machine.
type State string

const (
	// StateIdle is the initial state before the info fetch is started.
	StateIdle State = "idle"
	// StateFetching covers the in-flight info request.
	StateFetching State = "fetching"
	// StateGateDenied means the server rejected the request as non-organic.
	StateGateDenied State = "gate_denied"
	// StateNoDestination means no active destination was available.
	StateNoDestination State = "no_destination"
	// StateFetchFailed covers transport failures and malformed responses.
	StateFetchFailed State = "fetch_failed"
	// StateReady holds a usable assignment with manual buttons enabled.
	StateReady State = "ready"
	// StateLaunching covers an in-flight launch attempt with its fallback
	// timer armed.
	StateLaunching State = "launching"
	// StateSuccessDetected is terminal for the attempt: a lifecycle signal
	// showed the external app taking over the foreground.
	StateSuccessDetected State = "success_detected"
	// StateFallbackFired is terminal: the fallback navigation was initiated.
	StateFallbackFired State = "fallback_fired"
)

// Signal is a page-lifecycle event fed in by the host environment.
type Signal int

const (
	// SignalVisibilityHidden fires when the document visibility becomes hidden.
	SignalVisibilityHidden Signal = iota
	// SignalPageHide fires on the pagehide lifecycle event.
	SignalPageHide
	// SignalWindowBlur fires on window blur. Only counts as launch success
	// inside the grace window after launch start; some mobile browsers blur
	// before hiding, others blur for unrelated reasons much later.
	SignalWindowBlur
)

var (
	// ErrDenied is returned by an InfoClient when the server gate refused the
	// request.
	ErrDenied = errors.New("bridge: access denied")
	// ErrUnavailable is returned by an InfoClient when no destination exists.
	ErrUnavailable = errors.New("bridge: no destination available")

	errMissingClient      = errors.New("info client is required")
	errMissingBeacon      = errors.New("beacon sink is required")
	errMissingNavigator   = errors.New("navigator is required")
	errMissingStrategies  = errors.New("at least one launch strategy is required")
	errAlreadyStarted     = errors.New("controller already started")
	errNotRetryable       = errors.New("retry is only valid from a failed fetch")
	errLaunchNotReady     = errors.New("no assignment to launch")
	errNavigationFinished = errors.New("fallback navigation already initiated")
)

// InfoRequest is the body of the assignment fetch.
type InfoRequest struct {
	StockCode        string
	FreeText         string
	OriginalReferrer string
}

// InfoResponse is a usable assignment.
type InfoResponse struct {
	RecordID        string
	DestinationURL  string
	DestinationName string
	FallbackURL     string
}

// InfoClient fetches an assignment from the backend. Implementations map a
// forbidden status to ErrDenied and service-unavailable to ErrUnavailable.
type InfoClient interface {
	GetInfo(ctx context.Context, request InfoRequest) (InfoResponse, error)
}

// PageLeaveBeacon reports a launch outcome for a record.
type PageLeaveBeacon struct {
	RecordID string
	Success  bool
	Action   string
}

// FallbackBeacon reports a fallback navigation for a record.
type FallbackBeacon struct {
	RecordID string
	URL      string
	Action   string
}

// BeaconSink delivers fire-and-forget telemetry. Implementations must never
// block the caller or surface errors; a lost beacon is acceptable, a stuck
// redirect is not.
type BeaconSink interface {
	SendPageLeave(beacon PageLeaveBeacon)
	SendFallback(beacon FallbackBeacon)
}

// Navigator performs the hard navigation that ends the bridge page.
type Navigator interface {
	Navigate(url string)
}

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// TimerFactory schedules a callback after a delay. The default is
// time.AfterFunc; tests substitute a manual trigger.
type TimerFactory func(delay time.Duration, callback func()) Timer

const (
	defaultOpenDelay       = 150 * time.Millisecond
	defaultFallbackDelay   = 5000 * time.Millisecond
	defaultBlurGraceWindow = 1200 * time.Millisecond
)

// ControllerConfig wires a launch controller.
type ControllerConfig struct {
	Client          InfoClient
	Beacon          BeaconSink
	Navigator       Navigator
	Strategies      []LaunchStrategy
	Clock           func() time.Time
	Timers          TimerFactory
	OpenDelay       time.Duration
	FallbackDelay   time.Duration
	BlurGraceWindow time.Duration
	Logger          *zap.Logger
}

// Controller drives the bridge page flow: fetch an assignment, fire the
// launch strategies, watch lifecycle signals for success, and fall back to a
// web destination exactly once if the app never took over. All host callbacks
// (signals, timer firings, button clicks) funnel through one mutex, mirroring
// the single-threaded event loop the browser rendition runs on.
type Controller struct {
	client     InfoClient
	beacon     BeaconSink
	navigator  Navigator
	strategies []LaunchStrategy
	clock      func() time.Time
	timers     TimerFactory
	openDelay  time.Duration
	fallback   time.Duration
	blurGrace  time.Duration
	logger     *zap.Logger

	mu              sync.Mutex
	state           State
	recordID        string
	destinationURL  string
	destinationName string
	fallbackURL     string
	launchStartedAt time.Time
	launchSuccess   bool
	fallbackDone    bool
	listenersOn     bool
	attempt         int
	fallbackTimer   Timer
	openTimer       Timer
}

// NewController constructs a Controller in StateIdle.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Client == nil {
		return nil, errMissingClient
	}
	if cfg.Beacon == nil {
		return nil, errMissingBeacon
	}
	if cfg.Navigator == nil {
		return nil, errMissingNavigator
	}
	if len(cfg.Strategies) == 0 {
		return nil, errMissingStrategies
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	timers := cfg.Timers
	if timers == nil {
		timers = func(delay time.Duration, callback func()) Timer {
			return time.AfterFunc(delay, callback)
		}
	}
	openDelay := cfg.OpenDelay
	if openDelay <= 0 {
		openDelay = defaultOpenDelay
	}
	fallbackDelay := cfg.FallbackDelay
	if fallbackDelay <= 0 {
		fallbackDelay = defaultFallbackDelay
	}
	blurGrace := cfg.BlurGraceWindow
	if blurGrace <= 0 {
		blurGrace = defaultBlurGraceWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Controller{
		client:     cfg.Client,
		beacon:     cfg.Beacon,
		navigator:  cfg.Navigator,
		strategies: cfg.Strategies,
		clock:      clock,
		timers:     timers,
		openDelay:  openDelay,
		fallback:   fallbackDelay,
		blurGrace:  blurGrace,
		logger:     logger,
		state:      StateIdle,
	}, nil
}

// State returns the current machine state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RecordID returns the assignment record id of the current attempt.
func (c *Controller) RecordID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recordID
}

// Start runs the initial fetch and, on success, the single automatic launch.
// It may only be called once per page load.
func (c *Controller) Start(ctx context.Context, request InfoRequest) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", errAlreadyStarted, c.state)
	}
	c.state = StateFetching
	c.mu.Unlock()

	return c.fetch(ctx, request)
}

// Retry re-enters the fetch from scratch after a failed one. The server hands
// out a fresh record and may pick a different destination.
func (c *Controller) Retry(ctx context.Context, request InfoRequest) error {
	c.mu.Lock()
	switch c.state {
	case StateGateDenied, StateNoDestination, StateFetchFailed:
		c.state = StateFetching
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", errNotRetryable, state)
	}
	c.mu.Unlock()

	return c.fetch(ctx, request)
}

func (c *Controller) fetch(ctx context.Context, request InfoRequest) error {
	response, err := c.client.GetInfo(ctx, request)

	c.mu.Lock()
	if err != nil {
		switch {
		case errors.Is(err, ErrDenied):
			c.state = StateGateDenied
		case errors.Is(err, ErrUnavailable):
			c.state = StateNoDestination
		default:
			c.state = StateFetchFailed
		}
		c.mu.Unlock()
		c.logger.Warn("info fetch failed", zap.Error(err))
		return err
	}
	if response.RecordID == "" || response.DestinationURL == "" {
		c.state = StateFetchFailed
		c.mu.Unlock()
		c.logger.Warn("info fetch returned malformed assignment")
		return fmt.Errorf("bridge: malformed assignment response")
	}

	c.recordID = response.RecordID
	c.destinationURL = response.DestinationURL
	c.destinationName = response.DestinationName
	c.fallbackURL = response.FallbackURL
	if c.fallbackURL == "" {
		c.fallbackURL = "/"
	}
	c.state = StateReady
	c.mu.Unlock()

	// Auto-launch fires once per fetch; later launches are manual.
	return c.Launch()
}

// Launch starts a launch attempt: resets the per-attempt guards, re-arms the
// fallback timer (cancelling any pending one), and schedules the strategy
// burst after the open delay. Valid from Ready, from a running attempt
// (manual re-click) and after a detected success; once a fallback navigation
// has been initiated the page is gone and relaunching is an error.
func (c *Controller) Launch() error {
	c.mu.Lock()
	switch c.state {
	case StateReady, StateLaunching, StateSuccessDetected:
	case StateFallbackFired:
		c.mu.Unlock()
		return errNavigationFinished
	default:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", errLaunchNotReady, state)
	}

	c.attempt++
	attempt := c.attempt
	c.launchSuccess = false
	c.launchStartedAt = c.clock()
	c.listenersOn = true
	c.state = StateLaunching

	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
	}
	if c.openTimer != nil {
		c.openTimer.Stop()
	}
	targetURL := c.destinationURL
	c.fallbackTimer = c.timers(c.fallback, func() { c.onFallbackTimer(attempt) })
	c.openTimer = c.timers(c.openDelay, func() { c.runStrategies(attempt, targetURL) })
	c.mu.Unlock()

	return nil
}

func (c *Controller) runStrategies(attempt int, targetURL string) {
	c.mu.Lock()
	stale := attempt != c.attempt || c.state != StateLaunching
	c.mu.Unlock()
	if stale {
		return
	}

	for _, strategy := range c.strategies {
		if err := strategy.Attempt(targetURL); err != nil {
			c.logger.Debug("launch strategy failed",
				zap.String("strategy", strategy.Name()),
				zap.Error(err),
			)
		}
	}
}

// HandleSignal feeds a page-lifecycle event into the machine. The first
// qualifying signal of an attempt wins; everything after it is a no-op, so
// hosts may deliver duplicates freely.
func (c *Controller) HandleSignal(signal Signal) {
	c.mu.Lock()

	if c.state != StateLaunching || c.launchSuccess || c.fallbackDone || !c.listenersOn {
		c.mu.Unlock()
		return
	}
	if signal == SignalWindowBlur && c.clock().Sub(c.launchStartedAt) >= c.blurGrace {
		c.mu.Unlock()
		return
	}

	c.launchSuccess = true
	c.listenersOn = false
	c.state = StateSuccessDetected
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
	recordID := c.recordID
	c.mu.Unlock()

	c.beacon.SendPageLeave(PageLeaveBeacon{RecordID: recordID, Success: true})
	c.logger.Debug("launch success detected", zap.String("record_id", recordID))
}

func (c *Controller) onFallbackTimer(attempt int) {
	c.mu.Lock()
	// Stop is best-effort: the callback may already be running when a success
	// signal cancels the timer, so the guards decide, not the cancellation.
	if attempt != c.attempt || c.launchSuccess || c.fallbackDone || c.state != StateLaunching {
		c.mu.Unlock()
		return
	}

	c.fallbackDone = true
	c.listenersOn = false
	c.state = StateFallbackFired
	recordID := c.recordID
	fallbackURL := c.fallbackURL
	c.mu.Unlock()

	c.logger.Info("launch not detected, redirecting to fallback",
		zap.String("record_id", recordID),
		zap.String("url", fallbackURL),
	)
	c.beacon.SendFallback(FallbackBeacon{RecordID: recordID, URL: fallbackURL})
	c.navigator.Navigate(fallbackURL)
}

// OpenClicked handles the manual Open button: beacon the click, then start a
// fresh launch attempt.
func (c *Controller) OpenClicked() error {
	c.mu.Lock()
	recordID := c.recordID
	c.mu.Unlock()
	if recordID != "" {
		c.beacon.SendPageLeave(PageLeaveBeacon{RecordID: recordID, Action: "open"})
	}
	return c.Launch()
}

// JoinClicked handles the manual Join button: no app launch, straight to the
// fallback destination.
func (c *Controller) JoinClicked() error {
	c.mu.Lock()
	if c.state == StateFallbackFired {
		c.mu.Unlock()
		return errNavigationFinished
	}
	if c.recordID == "" {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: state %s", errLaunchNotReady, state)
	}

	c.fallbackDone = true
	c.listenersOn = false
	c.state = StateFallbackFired
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
	recordID := c.recordID
	fallbackURL := c.fallbackURL
	c.mu.Unlock()

	c.beacon.SendFallback(FallbackBeacon{RecordID: recordID, URL: fallbackURL, Action: "join"})
	c.navigator.Navigate(fallbackURL)
	return nil
}

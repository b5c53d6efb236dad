package widget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Host is the page the widget lives in.
type Host interface {
	// InjectScript adds the SDK script and returns once it has loaded.
	InjectScript(ctx context.Context, src string) error
	// RemoveScript drops the script node so a remount does not duplicate it.
	RemoveScript(src string)
	ContainerExists(containerID string) bool
	CreateBrick(ctx context.Context, cfg BrickConfig) error
}

type loadState int

const (
	stateIdle loadState = iota
	stateLoading
	stateLoaded
)

type loadCall struct {
	done chan struct{}
	err  error
}

// Adapter drives one page's widget. The script is injected at most once for
// the adapter's lifetime; Close removes it and aborts pending retries.
type Adapter struct {
	host Host
	cfg  Config
	log  logrus.FieldLogger

	mu           sync.Mutex
	state        loadState
	load         *loadCall
	mounting     map[BrickKind]*loadCall
	initializing map[BrickKind]bool
	mounted      map[BrickKind]BrickConfig
	closed       bool
	done         chan struct{}
}

func NewAdapter(host Host, cfg Config, log logrus.FieldLogger) *Adapter {
	return &Adapter{
		host:         host,
		cfg:          cfg.withDefaults(),
		log:          log,
		mounting:     make(map[BrickKind]*loadCall),
		initializing: make(map[BrickKind]bool),
		mounted:      make(map[BrickKind]BrickConfig),
		done:         make(chan struct{}),
	}
}

func (a *Adapter) Config() Config {
	return a.cfg
}

// Load injects the SDK script. Calls after a successful load return at once;
// calls made while a load is running wait for that same load.
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	switch a.state {
	case stateLoaded:
		a.mu.Unlock()
		return nil
	case stateLoading:
		call := a.load
		a.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return ErrClosed
		}
	}

	call := &loadCall{done: make(chan struct{})}
	a.state = stateLoading
	a.load = call
	a.mu.Unlock()

	err := a.host.InjectScript(ctx, a.cfg.ScriptURL)

	a.mu.Lock()
	if err != nil {
		a.state = stateIdle
		call.err = &Error{Op: "load", Err: err}
	} else if a.state == stateLoading {
		a.state = stateLoaded
	}
	close(call.done)
	a.mu.Unlock()

	if err != nil {
		a.log.WithError(err).Warn("widget script failed to load")
	}
	return call.err
}

// Initialize creates a brick once its container exists, checking up to
// InitAttempts times InitDelay apart. Running out of attempts is fatal.
func (a *Adapter) Initialize(ctx context.Context, cfg BrickConfig) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.state != stateLoaded {
		a.mu.Unlock()
		return &Error{Op: "initialize", Err: ErrNotLoaded}
	}
	a.initializing[cfg.Kind] = true
	a.mu.Unlock()

	lastErr := ErrContainerMissing
	for attempt := 1; ; attempt++ {
		if a.host.ContainerExists(cfg.ContainerID) {
			err := a.host.CreateBrick(ctx, cfg)
			if err == nil {
				a.mu.Lock()
				a.mounted[cfg.Kind] = cfg
				a.mu.Unlock()
				return nil
			}
			lastErr = err
		}

		a.log.WithFields(logrus.Fields{
			"brick":     cfg.Kind,
			"container": cfg.ContainerID,
			"attempt":   attempt,
		}).Debug("widget container not ready")

		if attempt >= a.cfg.InitAttempts {
			break
		}

		timer := time.NewTimer(a.cfg.InitDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			a.endInit(cfg.Kind)
			return ctx.Err()
		case <-a.done:
			timer.Stop()
			return ErrClosed
		}
	}

	a.endInit(cfg.Kind)
	return &Error{
		Op:     "initialize",
		Fatal:  true,
		Detail: fmt.Sprintf("brick %s in #%s: gave up after %d attempts", cfg.Kind, cfg.ContainerID, a.cfg.InitAttempts),
		Err:    lastErr,
	}
}

// Mount loads the script if needed and initializes the brick. At most one
// mount per brick kind runs at a time; concurrent callers wait for it and
// share its result.
func (a *Adapter) Mount(ctx context.Context, cfg BrickConfig) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if _, ok := a.mounted[cfg.Kind]; ok {
		a.mu.Unlock()
		return nil
	}
	if call, ok := a.mounting[cfg.Kind]; ok {
		a.mu.Unlock()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		case <-a.done:
			return ErrClosed
		}
	}

	call := &loadCall{done: make(chan struct{})}
	a.mounting[cfg.Kind] = call
	a.mu.Unlock()

	err := a.Load(ctx)
	if err == nil {
		err = a.Initialize(ctx, cfg)
	}

	a.mu.Lock()
	if a.mounting[cfg.Kind] == call {
		delete(a.mounting, cfg.Kind)
	}
	call.err = err
	close(call.done)
	a.mu.Unlock()
	return err
}

func (a *Adapter) endInit(kind BrickKind) {
	a.mu.Lock()
	delete(a.initializing, kind)
	a.mu.Unlock()
}

// Translate turns a widget event into a signal. An error raised while a brick
// is still initializing is fatal; afterwards it is recoverable. Page events
// (script_loaded, container_mounted) yield SignalNone.
func (a *Adapter) Translate(ev Event) (Signal, error) {
	if ev.hostEvent() {
		return Signal{Kind: SignalNone}, nil
	}

	kind := ev.Brick
	if kind == "" {
		kind = BrickPayment
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Signal{}, ErrClosed
	}

	switch ev.Type {
	case EventReady:
		delete(a.initializing, kind)
		return Signal{Kind: SignalReady, Brick: kind}, nil

	case EventSubmit:
		if _, ok := a.mounted[BrickPayment]; !ok {
			return Signal{}, &Error{Op: "submit", Err: ErrNotLoaded}
		}
		if ev.Payload == nil {
			return Signal{}, &Error{Op: "submit", Err: fmt.Errorf("%w: submit without payload", ErrUnknownEvent)}
		}
		return Signal{Kind: SignalSubmit, Brick: kind, Payload: *ev.Payload}, nil

	case EventError:
		fatal := a.initializing[kind]
		if fatal {
			delete(a.initializing, kind)
			delete(a.mounted, kind)
		}
		return Signal{
			Kind:  SignalError,
			Brick: kind,
			Err:   &Error{Op: string(kind), Fatal: fatal, Detail: string(ev.Error), Err: ErrRemote},
		}, nil

	case EventBinChange:
		return Signal{Kind: SignalBinChange, Brick: kind, BIN: ev.BIN}, nil

	case EventCardToken:
		return Signal{Kind: SignalCardToken, Brick: kind, Token: ev.Token}, nil
	}

	return Signal{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Type)
}

func (a *Adapter) Loaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateLoaded
}

// Mounting reports whether a mount of kind is in flight.
func (a *Adapter) Mounting(kind BrickKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.mounting[kind]
	return ok
}

func (a *Adapter) Mounted(kind BrickKind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.mounted[kind]
	return ok
}

// Close tears the widget down. It is safe to call more than once.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.done)
	injected := a.state != stateIdle
	a.state = stateIdle
	a.mounted = make(map[BrickKind]BrickConfig)
	a.mounting = make(map[BrickKind]*loadCall)
	a.initializing = make(map[BrickKind]bool)
	a.mu.Unlock()

	if injected {
		a.host.RemoveScript(a.cfg.ScriptURL)
	}
}

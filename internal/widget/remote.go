package widget

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var ErrMissingContainer = errors.New("widget: container_mounted without container id")

// RemoteHost is a Host whose DOM lives in a browser page. The page polls
// Instructions to learn what to inject and create, and reports back through
// Apply.
type RemoteHost struct {
	mu         sync.Mutex
	script     string
	loaded     bool
	loadedCh   chan struct{}
	injections int
	containers map[string]bool
	bricks     map[BrickKind]BrickConfig
}

func NewRemoteHost() *RemoteHost {
	return &RemoteHost{
		containers: make(map[string]bool),
		bricks:     make(map[BrickKind]BrickConfig),
	}
}

func (h *RemoteHost) InjectScript(ctx context.Context, src string) error {
	h.mu.Lock()
	h.script = src
	h.injections++
	if h.loaded {
		h.mu.Unlock()
		return nil
	}
	if h.loadedCh == nil {
		h.loadedCh = make(chan struct{})
	}
	ch := h.loadedCh
	h.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *RemoteHost) RemoveScript(src string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.script != src {
		return
	}
	h.script = ""
	h.loaded = false
	h.bricks = make(map[BrickKind]BrickConfig)
}

func (h *RemoteHost) ContainerExists(containerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.containers[containerID]
}

func (h *RemoteHost) CreateBrick(_ context.Context, cfg BrickConfig) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.loaded {
		return ErrNotLoaded
	}
	h.bricks[cfg.Kind] = cfg
	return nil
}

// Apply records a page event. Widget events are ignored here.
func (h *RemoteHost) Apply(ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch ev.Type {
	case EventScriptLoaded:
		h.loaded = true
		if h.loadedCh != nil {
			close(h.loadedCh)
			h.loadedCh = nil
		}
	case EventContainerMounted:
		if ev.ContainerID == "" {
			return ErrMissingContainer
		}
		h.containers[ev.ContainerID] = true
	}
	return nil
}

// Instructions is what the page has to do next.
type Instructions struct {
	ScriptURL    string        `json:"script_url,omitempty"`
	ScriptLoaded bool          `json:"script_loaded"`
	Injections   int           `json:"injections"`
	Bricks       []BrickConfig `json:"bricks"`
}

func (h *RemoteHost) Instructions() Instructions {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := Instructions{
		ScriptURL:    h.script,
		ScriptLoaded: h.loaded,
		Injections:   h.injections,
		Bricks:       make([]BrickConfig, 0, len(h.bricks)),
	}
	for _, b := range h.bricks {
		out.Bricks = append(out.Bricks, b)
	}
	sort.Slice(out.Bricks, func(i, j int) bool { return out.Bricks[i].Kind < out.Bricks[j].Kind })
	return out
}

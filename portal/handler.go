package portal

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
)

// LineStore is the persisted list of guest lines the portal reads and writes
type LineStore interface {
	Append(line string) error
	ReadAll() ([]string, error)
	Clear() error
}

// Action is the store operation selected by a request
type Action int

const (
	ActionRender Action = iota
	ActionAppend
	ActionClear
)

func (a Action) String() string {
	switch a {
	case ActionAppend:
		return "append"
	case ActionClear:
		return "clear"
	default:
		return "render"
	}
}

const (
	submitPath = "/submit"
	clearPath  = "/clear"
	logTextKey = "log_text"
)

// Handler turns one raw HTTP request into one raw HTTP response
type Handler struct {
	store           LineStore
	templateManager *TemplateManager
}

// NewHandler creates a new Handler instance
func NewHandler(store LineStore, templateManager *TemplateManager) *Handler {
	return &Handler{
		store:           store,
		templateManager: templateManager,
	}
}

// Decide picks the store action for a parsed request. text is the decoded
// line to append for ActionAppend.
func Decide(req *Request) (action Action, text string) {
	if req == nil {
		return ActionRender, ""
	}
	switch {
	case strings.HasPrefix(req.Path, submitPath):
		if !req.Query.Has(logTextKey) {
			return ActionRender, ""
		}
		return ActionAppend, req.Query.Get(logTextKey)
	case strings.HasPrefix(req.Path, clearPath):
		return ActionClear, ""
	}
	return ActionRender, ""
}

// Handle performs the action requested by raw and returns the rendered page.
// Store and parse failures are logged; the response is always 200.
func (h *Handler) Handle(raw []byte) []byte {
	req, err := ParseRequest(raw)
	if err != nil {
		log.Debugf("Portal: %v, rendering page only", err)
	} else {
		log.Debugf("Portal: %s %s", req.Method, req.Path)
	}

	action, text := Decide(req)
	switch action {
	case ActionAppend:
		if err := h.store.Append(text); err != nil {
			log.Errorf("Portal: Failed to append line: %v", err)
		} else {
			log.WithField("line", text).Info("Portal: Line appended")
		}
	case ActionClear:
		if err := h.store.Clear(); err != nil {
			log.Errorf("Portal: Failed to clear log: %v", err)
		} else {
			log.Info("Portal: Log cleared")
		}
	}

	lines, err := h.store.ReadAll()
	if err != nil {
		log.Errorf("Portal: Failed to read log: %v", err)
		lines = nil
	}

	body, err := h.templateManager.Render(lines)
	if err != nil {
		log.Errorf("Portal: %v", err)
		body = ""
	}
	return buildResponse(body)
}

func buildResponse(body string) []byte {
	var b strings.Builder
	b.WriteString("HTTP/1.1 200 OK\r\n")
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("Cache-Control: no-cache, no-store, must-revalidate\r\n")
	b.WriteString("Pragma: no-cache\r\n")
	b.WriteString("Expires: 0\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

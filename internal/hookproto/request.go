package hookproto

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/rocodesign/engrammar/pkg/engram"
)

// Request types, ported from daemon.py's _handle_request dispatch. Maintain
// has no original counterpart — the original has no long-running daemon
// responsibility beyond search, so background extract/evaluate passes were
// triggered directly by the hook scripts. Here they run through the same
// daemon the hooks already talk to, keyed by task name so a Stop hook firing
// twice in quick succession can't spawn the same background pass twice.
const (
	RequestSearch      = "search"
	RequestToolContext = "tool_context"
	RequestPinned      = "pinned"
	RequestPing        = "ping"
	RequestShutdown    = "shutdown"
	RequestMaintain    = "maintain"
)

// Maintenance task names accepted by a "maintain" request.
const (
	TaskExtract  = "extract"
	TaskEvaluate = "evaluate"
)

// Request is one newline-framed JSON request sent to the daemon over its
// Unix socket. Only the fields relevant to Type are populated by the
// client; the daemon ignores fields it doesn't need for that Type.
type Request struct {
	Type string `json:"type"`

	// search
	Query          string `json:"query,omitempty"`
	CategoryFilter string `json:"category_filter,omitempty"`
	TopK           int    `json:"top_k,omitempty"`

	// tool_context
	ToolName  string                 `json:"tool_name,omitempty"`
	ToolInput map[string]interface{} `json:"tool_input,omitempty"`

	// maintain
	Task           string `json:"task,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`
}

// EngramView is the JSON shape one engram is serialized into for a daemon
// response, mirroring daemon.py's _serialize (dict(sqlite Row)).
type EngramView struct {
	ID              int64                `json:"id"`
	Text            string               `json:"text"`
	Category        string               `json:"category,omitempty"`
	Source          engram.Source        `json:"source,omitempty"`
	Pinned          bool                 `json:"pinned,omitempty"`
	OccurrenceCount int                  `json:"occurrence_count,omitempty"`
	Prerequisites   engram.Prerequisites `json:"prerequisites,omitempty"`
}

// ViewOf converts a store engram into its wire representation.
func ViewOf(e *engram.Engram) EngramView {
	return EngramView{
		ID:              e.ID,
		Text:            e.Text,
		Category:        e.Category,
		Source:          e.Source,
		Pinned:          e.Pinned,
		OccurrenceCount: e.OccurrenceCount,
		Prerequisites:   e.Prerequisites,
	}
}

// Response is the daemon's newline-framed JSON reply. Only the fields
// relevant to the originating request's Type are populated.
type Response struct {
	Results []EngramView `json:"results,omitempty"`
	Status  string       `json:"status,omitempty"`
	Uptime  float64      `json:"uptime,omitempty"`
	Idle    float64      `json:"idle,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// ReadRequest reads one newline-terminated JSON request from r, matching
// daemon.py's _handle_connection framing (recv until the first '\n').
func ReadRequest(r io.Reader) (Request, error) {
	var req Request
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return req, err
	}
	if decErr := json.Unmarshal([]byte(line), &req); decErr != nil {
		return req, decErr
	}
	return req, nil
}

// WriteResponse writes resp as one newline-terminated JSON line to w.
func WriteResponse(w io.Writer, resp Response) error {
	b, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// WriteRequest writes req as one newline-terminated JSON line to w, used by
// the client side of the socket.
func WriteRequest(w io.Writer, req Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// ReadResponse reads one newline-terminated JSON response from r, used by
// the client side of the socket.
func ReadResponse(r io.Reader) (Response, error) {
	var resp Response
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return resp, err
	}
	if decErr := json.Unmarshal([]byte(line), &resp); decErr != nil {
		return resp, decErr
	}
	return resp, nil
}

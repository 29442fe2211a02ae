package http

import (
	"errors"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/exec"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes installs the server's routes on e.
func RegisterRoutes(e *echo.Echo, s *Server) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/tools", s.handleTools)
	e.GET("/tools/:id", s.handleDescribe)
	e.GET("/tree", s.handleTree)
	e.GET("/tree/*", s.handleTree)
	e.POST("/dispatch", s.handleDispatch)
	e.POST("/execute", s.handleExecute)
	e.DELETE("/sessions/:id", s.handleEndSession)
	e.GET("/tally", s.handleTally)
}

type healthResponse struct {
	Status  string `json:"status"`
	Version uint64 `json:"version,omitempty"`
	Digest  string `json:"digest,omitempty"`
	Servers int    `json:"servers"`
	Tools   int    `json:"tools"`
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.svc.Snapshot()
	if snap == nil {
		return c.JSON(http.StatusServiceUnavailable, healthResponse{Status: "no snapshot"})
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Version: snap.Version(),
		Digest:  snap.Digest(),
		Servers: len(snap.Servers()),
		Tools:   snap.Len(),
	})
}

type toolEntry struct {
	ID          string           `json:"id"`
	Server      string           `json:"server"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Params      []registry.Param `json:"params,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
}

func (s *Server) handleTools(c echo.Context) error {
	snap := s.svc.Snapshot()
	if snap == nil {
		return errorJSON(c, http.StatusServiceUnavailable, registry.ErrNoSnapshot)
	}

	q := c.QueryParam("q")
	if q == "" {
		out := make([]toolEntry, 0, snap.Len())
		for d := range snap.ListAll() {
			out = append(out, toolEntry{
				ID:          d.ID(),
				Server:      d.Server,
				Name:        d.Name,
				Description: d.Summary(),
				Params:      d.Params,
				Tags:        d.Tags,
			})
		}
		return c.JSON(http.StatusOK, out)
	}

	limit := registry.DefaultSearchLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	results, err := s.svc.SearchTools(c.Request().Context(), q, limit)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	out := make([]toolEntry, 0, len(results))
	for _, r := range results {
		out = append(out, toolEntry{
			ID:          r.ID,
			Server:      r.Namespace,
			Name:        r.Name,
			Description: r.ShortDescription,
			Tags:        r.Tags,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDescribe(c echo.Context) error {
	id, err := url.PathUnescape(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed tool id")
	}
	level := tooldoc.DetailLevel(c.QueryParam("level"))
	doc, err := s.svc.DescribeTool(c.Request().Context(), id, level)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, doc)
	case errors.Is(err, tooldoc.ErrInvalidDetail):
		return errorJSON(c, http.StatusBadRequest, err)
	case errors.Is(err, registry.ErrNoSnapshot):
		return errorJSON(c, http.StatusServiceUnavailable, err)
	case code.Classify(err) == code.KindNotFound:
		return errorJSON(c, http.StatusNotFound, err)
	default:
		return errorJSON(c, http.StatusInternalServerError, err)
	}
}

type dirResponse struct {
	Path    string   `json:"path"`
	Kind    string   `json:"kind"`
	Entries []string `json:"entries"`
}

func (s *Server) handleTree(c echo.Context) error {
	tree, err := s.svc.Tree()
	if err != nil {
		return errorJSON(c, http.StatusServiceUnavailable, err)
	}
	p := discovery.CleanPath(c.Param("*"))
	n, ok := tree.Lookup(p)
	if !ok {
		return errorJSON(c, http.StatusNotFound, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist})
	}
	if !n.Kind.IsDir() {
		return c.Blob(http.StatusOK, "text/plain; charset=utf-8", n.Content)
	}
	children, err := tree.List(p)
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	entries := make([]string, 0, len(children))
	for _, ch := range children {
		name := ch.Name
		if ch.Kind.IsDir() {
			name += "/"
		}
		entries = append(entries, name)
	}
	return c.JSON(http.StatusOK, dirResponse{Path: p, Kind: n.Kind.String(), Entries: entries})
}

type dispatchRequest struct {
	Session   string         `json:"session,omitempty"`
	Name      string         `json:"name,omitempty"`
	Server    string         `json:"server,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Usage     *exec.Usage    `json:"usage,omitempty"`
}

type executeRequest struct {
	Session string      `json:"session,omitempty"`
	Code    string      `json:"code"`
	Usage   *exec.Usage `json:"usage,omitempty"`

	// Persist, when set, turns carrying definitions between the session's
	// turns on or off from this turn on.
	Persist *bool `json:"persist,omitempty"`
}

type turnResponse struct {
	Session string     `json:"session"`
	Turn    exec.Turn  `json:"turn"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Kind    code.Kind `json:"kind"`
	Message string    `json:"message"`
}

func (s *Server) handleDispatch(c echo.Context) error {
	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Name == "" && (req.Server == "" || req.Tool == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "name or server and tool are required")
	}
	sess, err := s.session(req.Session)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, err)
	}
	call := run.ToolCall{Name: req.Name, Server: req.Server, Tool: req.Tool, Args: req.Arguments}
	turn, err := sess.Dispatch(c.Request().Context(), call, req.Usage)
	return s.turnJSON(c, sess, turn, err)
}

func (s *Server) handleExecute(c echo.Context) error {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	sess, err := s.session(req.Session)
	if err != nil {
		return errorJSON(c, http.StatusNotFound, err)
	}
	if req.Persist != nil {
		sess.PersistGlobals(*req.Persist)
	}
	turn, err := sess.ExecuteCode(c.Request().Context(), req.Code, req.Usage)
	return s.turnJSON(c, sess, turn, err)
}

// turnJSON reports a completed turn with 200 even when the call or snippet
// failed: the failure is part of the conversation. A turn that never ran
// is a server-side error.
func (s *Server) turnJSON(c echo.Context, sess *exec.Session, turn exec.Turn, err error) error {
	if turn.ID == "" {
		status := http.StatusInternalServerError
		if errors.Is(err, registry.ErrNoSnapshot) {
			status = http.StatusServiceUnavailable
		}
		return errorJSON(c, status, err)
	}
	resp := turnResponse{Session: sess.ID(), Turn: turn}
	if err != nil {
		resp.Error = &errorBody{Kind: code.Classify(err), Message: err.Error()}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEndSession(c echo.Context) error {
	if !s.endSession(c.Param("id")) {
		return errorJSON(c, http.StatusNotFound, ErrUnknownSession)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTally(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.Accountant().Summarize())
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]any{
		"error": errorBody{Kind: code.Classify(err), Message: err.Error()},
	})
}

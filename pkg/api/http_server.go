package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"polyfit/pkg/common"
	"polyfit/pkg/core"
	"polyfit/pkg/logger"
	"polyfit/pkg/model"
	"polyfit/pkg/pointset"
)

type Server struct {
	ws   *core.Workspace
	log  *logger.Logger
	http *http.Server
}

func NewServer(ws *core.Workspace, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NoopLogger()
	}
	s := &Server{ws: ws, log: log.WithComponent("api")}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the routed handler; Start serves it.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/interpolate", s.handleInterpolate)
	mux.HandleFunc("/api/evaluate", s.handleEvaluate)
	mux.HandleFunc("/api/sets", s.handleSets)
	mux.HandleFunc("/api/points", s.handlePoints)
	mux.HandleFunc("/api/solve", s.handleSolve)
	mux.HandleFunc("/api/eval", s.handleEval)
	mux.HandleFunc("/api/import", s.handleImport)
	mux.HandleFunc("/api/export", s.handleExport)
	mux.HandleFunc("/api/reset", s.handleReset)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.Handle("/metrics", s.ws.Stats().Handler())
	return mux
}

// Start blocks until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	s.log.Info("listening", "addr", addr, "protocol", "http")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleInterpolate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Points []common.Point `json:"points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	sol, err := s.ws.Interpolate(r.Context(), req.Points)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"coefficients": numbers(sol.Coefficients),
		"degree":       sol.Degree,
		"equation":     sol.Equation,
	})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Coefficients []float64 `json:"coefficients"`
		X            *float64  `json:"x"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.X == nil {
		http.Error(w, "Invalid body", http.StatusBadRequest)
		return
	}

	s.ws.Stats().RecordEvaluation()
	coeffs := model.Coefficients(req.Coefficients)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"x":        *req.X,
		"y":        number(coeffs.Evaluate(*req.X)),
		"equation": coeffs.Format(),
	})
}

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"sets": s.ws.Sets()})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	name := setName(r)

	switch r.Method {
	case http.MethodGet:
		points, err := s.ws.Points(name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		dups, _ := s.ws.Duplicates(name)
		resp := map[string]interface{}{
			"set":        name,
			"points":     points,
			"duplicates": dups,
		}
		if lo, hi, ok, _ := s.ws.Bounds(name); ok {
			resp["domain"] = []float64{lo, hi}
		}
		s.writeJSON(w, http.StatusOK, resp)

	case http.MethodPost:
		var p struct {
			X *float64 `json:"x"`
			Y *float64 `json:"y"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.X == nil || p.Y == nil {
			http.Error(w, "Invalid body", http.StatusBadRequest)
			return
		}
		idx, err := s.ws.AddPoint(name, common.Point{X: *p.X, Y: *p.Y})
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, map[string]interface{}{"set": name, "index": idx})

	case http.MethodDelete:
		idx, err := strconv.Atoi(r.URL.Query().Get("index"))
		if err != nil {
			http.Error(w, "Invalid index", http.StatusBadRequest)
			return
		}
		removed, err := s.ws.RemovePoint(name, idx)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"set": name, "removed": removed})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSolve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	sol, err := s.ws.Solve(r.Context(), setName(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"set":          sol.Set,
		"points":       sol.Points,
		"coefficients": numbers(sol.Coefficients),
		"degree":       sol.Degree,
		"equation":     sol.Equation,
	})
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	x, err := strconv.ParseFloat(r.URL.Query().Get("x"), 64)
	if err != nil {
		http.Error(w, "Invalid x", http.StatusBadRequest)
		return
	}

	y, sol, err := s.ws.Evaluate(r.Context(), setName(r), x)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"set":      sol.Set,
		"x":        number(x),
		"y":        number(y),
		"equation": sol.Equation,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := setName(r)
	n, err := s.ws.Import(name, r.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.WithSet(name).Info("imported points", "count", n)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"set": name, "imported": n})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	name := setName(r)
	if _, err := s.ws.Points(name); err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", "attachment;filename="+name+"_points.json")
	if err := s.ws.Export(name, w); err != nil {
		s.log.WithSet(name).Warn("export failed", "error", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.ws.Reset(setName(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Point set reset"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.writeJSON(w, http.StatusOK, s.ws.Summary())
}

func setName(r *http.Request) string {
	if name := r.URL.Query().Get("set"); name != "" {
		return name
	}
	return core.DefaultSet
}

// writeJSON encodes before the status goes out, so an encoding failure
// still reaches the caller as a 500 with a body.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encode response", "error", err)
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}

// writeError maps workspace and solver errors onto status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}
	status := http.StatusInternalServerError

	var ipe *model.InsufficientPointsError
	var de *model.DegenerateInputError
	switch {
	case errors.As(err, &ipe):
		status = http.StatusUnprocessableEntity
		body["needed"] = ipe.Missing()
	case errors.As(err, &de):
		status = http.StatusUnprocessableEntity
		body["index"] = de.Index
	case errors.Is(err, core.ErrSetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrTooManyPoints):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrInvalidName),
		errors.Is(err, pointset.ErrIndexOutOfRange),
		errors.Is(err, pointset.ErrNotArray),
		errors.Is(err, pointset.ErrInvalidPoint):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, body)
}

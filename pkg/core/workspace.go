package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"polyfit/pkg/common"
	"polyfit/pkg/config"
	"polyfit/pkg/logger"
	"polyfit/pkg/model"
	"polyfit/pkg/monitor"
	"polyfit/pkg/pointset"
	"polyfit/pkg/storage"
)

const DefaultSet = "default"

var (
	ErrSetNotFound   = errors.New("point set not found")
	ErrInvalidName   = errors.New("invalid point set name")
	ErrTooManyPoints = common.ErrTooManyPoints
	ErrClosed        = errors.New("workspace closed")
)

// Solution is derived data: recomputed from a snapshot of the points on
// every call and never stored.
type Solution struct {
	Set          string             `json:"set,omitempty"`
	Points       []common.Point     `json:"points"`
	Coefficients model.Coefficients `json:"coefficients"`
	Degree       int                `json:"degree"`
	Equation     string             `json:"equation"`
}

// Workspace holds the named, mutable point sets around the pure solver.
// Mutations go to the journal first, dirty sets are checkpointed into the
// backend in the background and the journal is then truncated.
type Workspace struct {
	mu      sync.RWMutex
	sets    map[string]*pointset.Set
	dirty   map[string]struct{}
	dropped map[string]struct{}
	closed  bool
	lsn     uint64 // last LSN written to the journal

	backend storage.Backend
	journal *storage.Journal
	stats   *monitor.WorkloadStats
	log     *logger.Logger
	conf    *config.Config

	flushCh   chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWorkspace(cfg *config.Config, log *logger.Logger) (*Workspace, error) {
	if log == nil {
		log = logger.NoopLogger()
	}
	if err := os.MkdirAll(cfg.Storage.Path, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	backend, err := storage.NewSQLiteBackend(filepath.Join(cfg.Storage.Path, "polyfit.db"), log)
	if err != nil {
		return nil, err
	}
	journal, err := storage.OpenJournal(filepath.Join(cfg.Storage.Path, "polyfit.journal"))
	if err != nil {
		backend.Close()
		return nil, err
	}

	ws := &Workspace{
		sets:    make(map[string]*pointset.Set),
		dirty:   make(map[string]struct{}),
		dropped: make(map[string]struct{}),
		backend: backend,
		journal: journal,
		stats:   monitor.NewWorkloadStats(),
		log:     log.WithComponent("core"),
		conf:    cfg,
		flushCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}

	if err := ws.recover(); err != nil {
		journal.Close()
		backend.Close()
		return nil, err
	}

	ws.wg.Add(1)
	go ws.backgroundCheckpoint()

	return ws, nil
}

func (ws *Workspace) Stats() *monitor.WorkloadStats {
	return ws.stats
}

func validName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Interpolate solves points directly without touching any set.
func (ws *Workspace) Interpolate(ctx context.Context, points []common.Point) (Solution, error) {
	if len(points) > ws.conf.Limits.MaxPoints {
		return Solution{}, fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(points), ws.conf.Limits.MaxPoints)
	}
	return ws.solve(ctx, "", points)
}

// Solve interpolates the current contents of the named set.
func (ws *Workspace) Solve(ctx context.Context, name string) (Solution, error) {
	points, err := ws.Points(name)
	if err != nil {
		return Solution{}, err
	}
	return ws.solve(ctx, name, points)
}

// Evaluate solves the named set and evaluates the result at x.
func (ws *Workspace) Evaluate(ctx context.Context, name string, x float64) (float64, Solution, error) {
	sol, err := ws.Solve(ctx, name)
	if err != nil {
		return 0, sol, err
	}
	ws.stats.RecordEvaluation()
	return sol.Coefficients.Evaluate(x), sol, nil
}

func (ws *Workspace) solve(ctx context.Context, name string, points []common.Point) (Solution, error) {
	log := ws.log
	if name != "" {
		log = log.WithSet(name)
	}

	coeffs, err := model.Interpolate(points)
	switch {
	case errors.Is(err, model.ErrInsufficientPoints):
		ws.stats.RecordInterpolation(monitor.ResultInsufficient, len(points))
	case errors.Is(err, model.ErrDegenerateInput):
		ws.stats.RecordInterpolation(monitor.ResultDegenerate, len(points))
	case err == nil:
		ws.stats.RecordInterpolation(monitor.ResultOK, len(points))
	}
	log.LogSolve(ctx, len(points), coeffs.Degree(), err)
	if err != nil {
		return Solution{Set: name, Points: points}, err
	}

	return Solution{
		Set:          name,
		Points:       points,
		Coefficients: coeffs,
		Degree:       coeffs.Degree(),
		Equation:     coeffs.Format(),
	}, nil
}

// Points returns a snapshot of the named set.
func (ws *Workspace) Points(name string) ([]common.Point, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	s, ok := ws.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	return s.Points(), nil
}

// Bounds returns the x range covered by the named set.
func (ws *Workspace) Bounds(name string) (lo, hi float64, ok bool, err error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	s, found := ws.sets[name]
	if !found {
		return 0, 0, false, fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	lo, hi, ok = s.Bounds()
	return lo, hi, ok, nil
}

// Duplicates reports coincident x values in the named set.
func (ws *Workspace) Duplicates(name string) ([]pointset.Collision, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	s, ok := ws.sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	return s.Duplicates(), nil
}

func (ws *Workspace) Sets() []string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	names := make([]string, 0, len(ws.sets))
	for n := range ws.sets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddPoint appends p to the named set, creating the set when needed.
func (ws *Workspace) AddPoint(name string, p common.Point) (int, error) {
	if err := validName(name); err != nil {
		return 0, err
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return 0, ErrClosed
	}
	if s, ok := ws.sets[name]; ok {
		if s.Len() >= ws.conf.Limits.MaxPoints {
			return 0, fmt.Errorf("%w: set %q holds %d", ErrTooManyPoints, name, s.Len())
		}
		if s.HasX(p.X) {
			ws.log.WithSet(name).Warn("duplicate x accepted, solve will reject the set", "x", p.X)
		}
	}

	e := storage.Entry{Op: storage.OpAdd, Set: name, Point: p}
	if err := ws.logLocked(&e); err != nil {
		return 0, err
	}
	ws.stats.RecordMutation("add")
	return ws.applyLocked(e)
}

func (ws *Workspace) RemovePoint(name string, index int) (common.Point, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return common.Point{}, ErrClosed
	}
	s, ok := ws.sets[name]
	if !ok {
		return common.Point{}, fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	if index < 0 || index >= s.Len() {
		return common.Point{}, fmt.Errorf("%w: %d (len %d)", pointset.ErrIndexOutOfRange, index, s.Len())
	}
	removed := s.Points()[index]

	e := storage.Entry{Op: storage.OpRemove, Set: name, Index: index}
	if err := ws.logLocked(&e); err != nil {
		return common.Point{}, err
	}
	ws.stats.RecordMutation("remove")
	if _, err := ws.applyLocked(e); err != nil {
		return common.Point{}, err
	}
	return removed, nil
}

// ReplacePoints swaps the whole content of the named set.
func (ws *Workspace) ReplacePoints(name string, points []common.Point) error {
	if err := validName(name); err != nil {
		return err
	}
	if len(points) > ws.conf.Limits.MaxPoints {
		return fmt.Errorf("%w: %d > %d", ErrTooManyPoints, len(points), ws.conf.Limits.MaxPoints)
	}
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}

	entries := make([]storage.Entry, 0, len(points)+1)
	entries = append(entries, storage.Entry{Op: storage.OpReset, Set: name})
	for _, p := range points {
		entries = append(entries, storage.Entry{Op: storage.OpAdd, Set: name, Point: p})
	}
	ptrs := make([]*storage.Entry, len(entries))
	for i := range entries {
		ptrs[i] = &entries[i]
	}
	if err := ws.logLocked(ptrs...); err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := ws.applyLocked(e); err != nil {
			return err
		}
	}
	ws.stats.RecordMutation("replace")
	return nil
}

// Import replaces the named set with a JSON array read from r.
func (ws *Workspace) Import(name string, r io.Reader) (int, error) {
	points, err := pointset.Decode(r)
	if err != nil {
		return 0, err
	}
	if err := ws.ReplacePoints(name, points); err != nil {
		return 0, err
	}
	return len(points), nil
}

// Export writes the named set as a JSON array.
func (ws *Workspace) Export(name string, w io.Writer) error {
	points, err := ws.Points(name)
	if err != nil {
		return err
	}
	return pointset.New(points...).Export(w)
}

// Reset clears the named set but keeps it.
func (ws *Workspace) Reset(name string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	if _, ok := ws.sets[name]; !ok {
		return fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	e := storage.Entry{Op: storage.OpReset, Set: name}
	if err := ws.logLocked(&e); err != nil {
		return err
	}
	ws.stats.RecordMutation("reset")
	_, err := ws.applyLocked(e)
	return err
}

func (ws *Workspace) DeleteSet(name string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.closed {
		return ErrClosed
	}
	if _, ok := ws.sets[name]; !ok {
		return fmt.Errorf("%w: %q", ErrSetNotFound, name)
	}
	e := storage.Entry{Op: storage.OpDrop, Set: name}
	if err := ws.logLocked(&e); err != nil {
		return err
	}
	ws.stats.RecordMutation("drop")
	_, err := ws.applyLocked(e)
	return err
}

// logLocked stamps entries with the next LSNs, appends them and fsyncs the
// journal before anything is applied. Caller holds ws.mu.
func (ws *Workspace) logLocked(entries ...*storage.Entry) error {
	for _, e := range entries {
		ws.lsn++
		e.LSN = ws.lsn
		if err := ws.journal.Append(*e); err != nil {
			return err
		}
	}
	return ws.journal.Sync()
}

// applyLocked mutates memory for one journal entry. Caller holds ws.mu.
func (ws *Workspace) applyLocked(e storage.Entry) (int, error) {
	idx := 0
	switch e.Op {
	case storage.OpAdd:
		s, ok := ws.sets[e.Set]
		if !ok {
			s = pointset.New()
			ws.sets[e.Set] = s
		}
		idx = s.Add(e.Point)
	case storage.OpRemove:
		s, ok := ws.sets[e.Set]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrSetNotFound, e.Set)
		}
		if _, err := s.Remove(e.Index); err != nil {
			return 0, err
		}
		idx = e.Index
	case storage.OpReset:
		if s, ok := ws.sets[e.Set]; ok {
			s.Replace(nil)
		} else {
			ws.sets[e.Set] = pointset.New()
		}
	case storage.OpDrop:
		delete(ws.sets, e.Set)
		delete(ws.dirty, e.Set)
		ws.dropped[e.Set] = struct{}{}
		ws.stats.SetPointSets(len(ws.sets))
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown journal op 0x%02x", e.Op)
	}

	delete(ws.dropped, e.Set)
	ws.dirty[e.Set] = struct{}{}
	ws.stats.SetPointSets(len(ws.sets))
	if len(ws.dirty) >= ws.conf.Storage.BatchSize {
		select {
		case ws.flushCh <- struct{}{}:
		default:
		}
	}
	return idx, nil
}

// Checkpoint writes dirty sets to the backend and truncates the journal.
func (ws *Workspace) Checkpoint() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.checkpointLocked()
}

func (ws *Workspace) checkpointLocked() error {
	if len(ws.dirty) == 0 && len(ws.dropped) == 0 {
		return nil
	}
	ctx := context.Background()

	dropped := make([]string, 0, len(ws.dropped))
	for name := range ws.dropped {
		dropped = append(dropped, name)
	}
	sort.Strings(dropped)

	batch := make(map[string][]common.Point, len(ws.dirty))
	for name := range ws.dirty {
		if s, ok := ws.sets[name]; ok {
			batch[name] = s.Points()
		}
	}

	// sets, drops and the LSN commit together, so a crash before the journal
	// is truncated only leaves entries that replay will skip
	if err := ws.backend.Checkpoint(batch, dropped, ws.lsn); err != nil {
		ws.log.LogCheckpoint(ctx, len(batch), err)
		return err
	}
	ws.dirty = make(map[string]struct{})
	ws.dropped = make(map[string]struct{})

	if err := ws.journal.Truncate(); err != nil {
		ws.log.LogCheckpoint(ctx, len(batch), err)
		return err
	}
	ws.log.LogCheckpoint(ctx, len(batch), nil)
	return nil
}

func (ws *Workspace) backgroundCheckpoint() {
	defer ws.wg.Done()
	ticker := time.NewTicker(time.Duration(ws.conf.Storage.CheckpointIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ws.flushCh:
			ws.Checkpoint()
		case <-ticker.C:
			ws.Checkpoint()
		case <-ws.closeCh:
			ws.Checkpoint()
			return
		}
	}
}

// recover loads the backend and replays the journal on top of it.
func (ws *Workspace) recover() error {
	ctx := context.Background()

	stored, err := ws.backend.LoadAll()
	if err != nil {
		ws.log.LogRecovery(ctx, 0, 0, err)
		return fmt.Errorf("load point sets: %w", err)
	}
	for name, points := range stored {
		ws.sets[name] = pointset.New(points...)
	}
	checkpointed, err := ws.backend.CheckpointLSN()
	if err != nil {
		ws.log.LogRecovery(ctx, len(ws.sets), 0, err)
		return fmt.Errorf("load checkpoint lsn: %w", err)
	}
	ws.lsn = checkpointed

	it, err := ws.journal.NewIterator()
	if err != nil {
		ws.log.LogRecovery(ctx, len(ws.sets), 0, err)
		return err
	}
	defer it.Close()

	replayed, skipped := 0, 0
	for {
		e, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// torn or corrupted tail: keep what was replayed so far
			ws.log.Warn("journal replay stopped", "entries_replayed", replayed, "error", err)
			break
		}
		if e.LSN <= checkpointed {
			// already in the backend
			skipped++
			continue
		}
		if e.LSN > ws.lsn {
			ws.lsn = e.LSN
		}
		if _, err := ws.applyLocked(e); err != nil {
			ws.log.Warn("skipping journal entry", "op", e.Op, "set", e.Set, "lsn", e.LSN, "error", err)
			continue
		}
		replayed++
	}
	ws.stats.SetPointSets(len(ws.sets))
	ws.log.LogRecovery(ctx, len(ws.sets), replayed, nil)

	if skipped > 0 {
		ws.log.Info("journal entries already checkpointed", "skipped", skipped, "checkpoint_lsn", checkpointed)
	}

	// fold the replayed tail into the backend so the journal starts empty
	if err := ws.checkpointLocked(); err != nil {
		return err
	}
	// whatever is left (checkpointed entries, a torn tail) must not stay in
	// front of new appends
	if size, err := ws.journal.Size(); err != nil || size > 0 {
		return ws.journal.Truncate()
	}
	return nil
}

// Summary reports workspace counters for the stats endpoint.
func (ws *Workspace) Summary() map[string]interface{} {
	ws.mu.RLock()
	totalPoints := 0
	for _, s := range ws.sets {
		totalPoints += s.Len()
	}
	sets := len(ws.sets)
	pending := len(ws.dirty) + len(ws.dropped)
	ws.mu.RUnlock()

	journalSize, _ := ws.journal.Size()
	solves, rejects, evals, _ := ws.stats.Counts()
	return map[string]interface{}{
		"point_sets":         sets,
		"points_total":       totalPoints,
		"pending_sets":       pending,
		"journal_size_bytes": journalSize,
		"interpolations":     solves,
		"rejected":           rejects,
		"evaluations":        evals,
		"rejection_ratio":    ws.stats.GetRejectionRatio(),
		"max_points":         ws.conf.Limits.MaxPoints,
	}
}

func (ws *Workspace) Close() {
	ws.closeOnce.Do(func() {
		close(ws.closeCh)
		ws.wg.Wait()

		ws.mu.Lock()
		ws.closed = true
		ws.mu.Unlock()

		ws.journal.Close()
		ws.backend.Close()
	})
}

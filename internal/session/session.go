// Package session holds the per-compile context passed through every
// pipeline stage: configuration, logger, diagnostics and counters.
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-bsp/internal/config"
	"github.com/Faultbox/midgard-bsp/pkg/geom"
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages.
const (
	StageLoad   Stage = "load"
	StageCSG    Stage = "csg"
	StageBSP    Stage = "bsp"
	StagePortal Stage = "portal"
	StageVis    Stage = "vis"
	StageBake   Stage = "bake"
	StageWrite  Stage = "write"
)

// Severity grades a diagnostic.
type Severity int

// Severities.
const (
	SeverityNote Severity = iota
	SeverityWarning
	SeverityError
)

// String returns the severity label used in reports.
func (s Severity) String() string {
	switch s {
	case SeverityNote:
		return "note"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("Severity(%d)", int(s))
	}
}

// Ref points at the source of a diagnostic. Negative fields are unset.
type Ref struct {
	Entity int
	Brush  int
	Line   int
}

// NoRef is a Ref with nothing set.
var NoRef = Ref{Entity: -1, Brush: -1, Line: -1}

// EntityRef refers to an entity.
func EntityRef(entity, line int) Ref {
	return Ref{Entity: entity, Brush: -1, Line: line}
}

// BrushRef refers to a brush of an entity.
func BrushRef(entity, brush, line int) Ref {
	return Ref{Entity: entity, Brush: brush, Line: line}
}

// String formats the reference as "entity 2 brush 5 (line 40)".
func (r Ref) String() string {
	s := ""
	if r.Entity >= 0 {
		s = fmt.Sprintf("entity %d", r.Entity)
	}
	if r.Brush >= 0 {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("brush %d", r.Brush)
	}
	if r.Line > 0 {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("(line %d)", r.Line)
	}
	return s
}

// Diagnostic is one reported problem.
type Diagnostic struct {
	Severity Severity
	Stage    Stage
	Ref      Ref
	Message  string
}

func (d Diagnostic) String() string {
	if ref := d.Ref.String(); ref != "" {
		return fmt.Sprintf("%s [%s] %s: %s", d.Severity, d.Stage, ref, d.Message)
	}
	return fmt.Sprintf("%s [%s] %s", d.Severity, d.Stage, d.Message)
}

// StageTime records how long a stage took.
type StageTime struct {
	Stage    Stage
	Duration time.Duration
}

// Session is the state of one compile. Methods are safe for concurrent
// use.
type Session struct {
	ID     uuid.UUID
	Config *config.Config
	Log    *zap.Logger

	mu       sync.Mutex
	diags    []Diagnostic
	counts   map[string]int
	degraded []string
	times    []StageTime
	started  time.Time
}

// New creates a session. A nil logger discards output.
func New(cfg *config.Config, log *zap.Logger) *Session {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Session{
		ID:      id,
		Config:  cfg,
		Log:     log.With(zap.String("session", id.String())),
		counts:  make(map[string]int),
		started: time.Now(),
	}
}

// Epsilon returns the configured tolerances.
func (s *Session) Epsilon() geom.Epsilon {
	return s.Config.Compile.Epsilon
}

// Verbosity returns the configured verbosity.
func (s *Session) Verbosity() int {
	return s.Config.Logging.Verbosity
}

func (s *Session) add(d Diagnostic) {
	s.mu.Lock()
	s.diags = append(s.diags, d)
	s.mu.Unlock()
}

// Warn records a recoverable problem.
func (s *Session) Warn(stage Stage, ref Ref, format string, args ...any) {
	d := Diagnostic{Severity: SeverityWarning, Stage: stage, Ref: ref, Message: fmt.Sprintf(format, args...)}
	s.add(d)
	s.Log.Warn(d.Message, zap.String("stage", string(stage)), zap.Stringer("ref", ref))
}

// Error records a problem that fails the compile.
func (s *Session) Error(stage Stage, ref Ref, err error) {
	d := Diagnostic{Severity: SeverityError, Stage: stage, Ref: ref, Message: err.Error()}
	s.add(d)
	s.Log.Error(d.Message, zap.String("stage", string(stage)), zap.Stringer("ref", ref))
}

// Degenerate counts an expected geometric byproduct such as a zero area
// winding. It is logged at verbosity 2 and reported at verbosity 3.
func (s *Session) Degenerate(stage Stage, ref Ref, format string, args ...any) {
	s.Count("degenerate", 1)
	v := s.Verbosity()
	if v < 2 {
		return
	}
	msg := fmt.Sprintf(format, args...)
	s.Log.Debug(msg, zap.String("stage", string(stage)), zap.Stringer("ref", ref))
	if v >= 3 {
		s.add(Diagnostic{Severity: SeverityNote, Stage: stage, Ref: ref, Message: msg})
	}
}

// MarkDegraded flags the output as usable but not fully computed.
func (s *Session) MarkDegraded(stage Stage, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.mu.Lock()
	s.degraded = append(s.degraded, fmt.Sprintf("[%s] %s", stage, msg))
	s.mu.Unlock()
	s.Warn(stage, NoRef, "degraded: %s", msg)
}

// Degraded reports whether any stage degraded the output.
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.degraded) > 0
}

// Count adds n to a named counter.
func (s *Session) Count(name string, n int) {
	s.mu.Lock()
	s.counts[name] += n
	s.mu.Unlock()
}

// SetCount sets a named counter.
func (s *Session) SetCount(name string, n int) {
	s.mu.Lock()
	s.counts[name] = n
	s.mu.Unlock()
}

// Counter returns a named counter.
func (s *Session) Counter(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// Diagnostics returns a copy of the recorded diagnostics.
func (s *Session) Diagnostics() []Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Diagnostic(nil), s.diags...)
}

// Warnings returns the number of warnings recorded.
func (s *Session) Warnings() int {
	return s.countSeverity(SeverityWarning)
}

func (s *Session) countSeverity(sev Severity) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.diags {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// Err combines every error diagnostic into one error, or returns nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, d := range s.diags {
		if d.Severity == SeverityError {
			err = multierr.Append(err, fmt.Errorf("%s", d.String()))
		}
	}
	return err
}

// Begin starts timing a stage. Call the returned func when it ends.
func (s *Session) Begin(stage Stage) func() {
	start := time.Now()
	s.Log.Info("stage started", zap.String("stage", string(stage)))
	return func() {
		d := time.Since(start)
		s.mu.Lock()
		s.times = append(s.times, StageTime{Stage: stage, Duration: d})
		s.mu.Unlock()
		s.Log.Info("stage finished", zap.String("stage", string(stage)), zap.Duration("took", d))
	}
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.started)
}

func (s *Session) snapshot() (diags []Diagnostic, counts map[string]int, degraded []string, times []StageTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts = make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return append([]Diagnostic(nil), s.diags...), counts, append([]string(nil), s.degraded...),
		append([]StageTime(nil), s.times...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CounterNames returns the names of the counters in sorted order.
func (s *Session) CounterNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.counts)
}

// Package orchestrator drives one batch run: roster in, one page per student,
// one archive out.
//
// A Run moves through Idle → Configured → Running → Completed → Delivered.
// Any per-student failure moves it to Failed; pages already written stay on
// disk and no archive is built.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/quizpack/internal/models"
	"github.com/xhad/quizpack/internal/types"
	"github.com/xhad/quizpack/pkg/document"
	"github.com/xhad/quizpack/pkg/llm"
	"github.com/xhad/quizpack/pkg/packager"
)

type State int

const (
	Idle State = iota
	Configured
	Running
	Completed
	Delivered
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Configured:
		return "configured"
	case Running:
		return "running"
	case Completed:
		return "completed"
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrMissingCredential = errors.New("credential is required")
	ErrMissingRoster     = errors.New("roster is required")
)

// StudentError reports which roster entry aborted a run.
type StudentError struct {
	Index   int
	Student string
	Err     error
}

func (e *StudentError) Error() string {
	return fmt.Sprintf("student %d (%s): %v", e.Index+1, e.Student, e.Err)
}

func (e *StudentError) Unwrap() error { return e.Err }

type Progress struct {
	Done     int
	Total    int
	Student  string
	Fraction float64
}

type ProgressFunc func(Progress)

// GeneratorFactory builds a generation client bound to one run's credential.
type GeneratorFactory func(credential string) (types.Generator, error)

type Options struct {
	ID           uuid.UUID // generated when zero
	NewGenerator GeneratorFactory
	Builder      types.PromptBuilder
	Writer       types.DocumentWriter
	Ledger       types.Ledger   // optional
	Recorder     types.Recorder // optional
	Logger       *zap.Logger    // optional
	ArchiveName  string

	// CredentialOptional lets Configure accept an empty credential, for
	// endpoints such as a local Ollama server that need none.
	CredentialOptional bool
}

type Run struct {
	id   uuid.UUID
	opts Options
	log  *zap.Logger

	mu          sync.Mutex
	state       State
	temperature float64
	roster      *models.Roster
	gen         types.Generator
	docs        []models.GeneratedDocument
	files       []string
	archive     *models.Archive
	err         error
}

func New(opts Options) (*Run, error) {
	if opts.NewGenerator == nil {
		return nil, errors.New("orchestrator: generator factory is required")
	}
	if opts.Builder == nil {
		return nil, errors.New("orchestrator: prompt builder is required")
	}
	if opts.Writer == nil {
		return nil, errors.New("orchestrator: document writer is required")
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ArchiveName == "" {
		opts.ArchiveName = packager.DefaultArchiveName
	}

	id := opts.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &Run{
		id:    id,
		opts:  opts,
		log:   opts.Logger.With(zap.String("run_id", id.String())),
		state: Idle,
	}, nil
}

func (r *Run) ID() string {
	return r.id.String()
}

func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Err returns the error that failed the run, if any.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Files returns the transient page paths written so far.
func (r *Run) Files() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func (r *Run) Documents() []models.GeneratedDocument {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.GeneratedDocument(nil), r.docs...)
}

// Archive returns the built archive once the run has completed.
func (r *Run) Archive() *models.Archive {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.archive
}

func (r *Run) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roster == nil {
		return 0
	}
	return len(r.roster.Students)
}

// Configure binds the credential, temperature and roster to the run.
func (r *Run) Configure(credential string, temperature float64, roster *models.Roster) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Idle {
		return fmt.Errorf("%w: configure from %s", ErrInvalidTransition, r.state)
	}
	if credential == "" && !r.opts.CredentialOptional {
		return ErrMissingCredential
	}
	if err := llm.ValidateTemperature(temperature); err != nil {
		return err
	}
	if roster == nil {
		return ErrMissingRoster
	}

	gen, err := r.opts.NewGenerator(credential)
	if err != nil {
		return fmt.Errorf("orchestrator: build generator: %w", err)
	}

	r.gen = gen
	r.temperature = temperature
	r.roster = roster
	r.state = Configured

	r.log.Info("run configured",
		zap.Int("students", len(roster.Students)),
		zap.Float64("temperature", temperature),
		zap.String("subject", roster.Config.Subject),
		zap.String("topic", roster.Config.Topic),
	)
	return nil
}

// Start processes the roster strictly in order, one generation call at a
// time, then builds the archive. progress may be nil.
func (r *Run) Start(ctx context.Context, progress ProgressFunc) (*models.Archive, error) {
	r.mu.Lock()
	if r.state != Configured {
		state := r.state
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: start from %s", ErrInvalidTransition, state)
	}
	r.state = Running
	roster := r.roster
	gen := r.gen
	temperature := r.temperature
	r.mu.Unlock()

	if progress == nil {
		progress = func(Progress) {}
	}

	total := len(roster.Students)
	r.log.Info("run started", zap.Int("students", total))

	system, err := r.opts.Builder.System(roster.Config)
	if err != nil {
		return nil, r.fail(err)
	}

	names := document.NewDeduper()
	for i, student := range roster.Students {
		if err := ctx.Err(); err != nil {
			return nil, r.fail(&StudentError{Index: i, Student: student.FullName, Err: err})
		}

		doc, err := r.processStudent(ctx, gen, system, temperature, names.FileName(student.FullName), student)
		if err != nil {
			return nil, r.fail(&StudentError{Index: i, Student: student.FullName, Err: err})
		}

		r.mu.Lock()
		r.docs = append(r.docs, *doc)
		r.files = append(r.files, doc.Path)
		r.mu.Unlock()

		if r.opts.Ledger != nil {
			if err := r.opts.Ledger.Record(ctx, r.ID(), *doc); err != nil {
				return nil, r.fail(&StudentError{Index: i, Student: student.FullName, Err: err})
			}
		}
		r.opts.Recorder.DocumentGenerated()

		done := i + 1
		progress(Progress{
			Done:     done,
			Total:    total,
			Student:  student.FullName,
			Fraction: float64(done) / float64(total),
		})
	}

	archive, err := packager.Archive(r.opts.ArchiveName, r.Files())
	if err != nil {
		return nil, r.fail(err)
	}

	r.mu.Lock()
	r.archive = archive
	r.state = Completed
	r.mu.Unlock()

	r.opts.Recorder.RunFinished("completed")
	r.log.Info("run completed", zap.Int("documents", len(archive.Entries)), zap.Int("archive_bytes", len(archive.Data)))
	return archive, nil
}

func (r *Run) processStudent(ctx context.Context, gen types.Generator, system string, temperature float64, fileName string, student models.StudentRecord) (*models.GeneratedDocument, error) {
	user, err := r.opts.Builder.User(student)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	text, err := gen.Generate(ctx, system, user, temperature)
	r.opts.Recorder.ObserveGeneration(time.Since(start).Seconds())
	if err != nil {
		r.opts.Recorder.GenerationFailed(string(llm.KindOf(err)))
		return nil, err
	}

	doc, err := r.opts.Writer.Write(fileName, student.FullName, text)
	if err != nil {
		return nil, err
	}
	doc.IdempotencyKey = uuid.NewSHA1(r.id, []byte(fileName)).String()

	r.log.Debug("document written",
		zap.String("student", student.FullName),
		zap.String("file", doc.FileName),
		zap.Duration("took", time.Since(start)),
	)
	return doc, nil
}

func (r *Run) fail(err error) error {
	r.mu.Lock()
	r.state = Failed
	r.err = err
	left := len(r.files)
	r.mu.Unlock()

	r.opts.Recorder.RunFinished("failed")
	r.log.Error("run aborted", zap.Error(err), zap.Int("files_left_on_disk", left))
	return err
}

// Deliver marks the archive as handed over and deletes the transient pages.
func (r *Run) Deliver() error {
	r.mu.Lock()
	if r.state != Completed {
		state := r.state
		r.mu.Unlock()
		return fmt.Errorf("%w: deliver from %s", ErrInvalidTransition, state)
	}
	r.state = Delivered
	files := append([]string(nil), r.files...)
	r.mu.Unlock()

	if err := packager.Delete(files); err != nil {
		r.log.Warn("cleanup incomplete", zap.Error(err))
		return err
	}
	r.log.Info("run delivered", zap.Int("files_deleted", len(files)))
	return nil
}

type nopRecorder struct{}

func (nopRecorder) DocumentGenerated()        {}
func (nopRecorder) GenerationFailed(string)   {}
func (nopRecorder) RunFinished(string)        {}
func (nopRecorder) ObserveGeneration(float64) {}

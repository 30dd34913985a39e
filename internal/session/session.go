// Package session provides MediaFilterSession, which owns the selected video,
// derives the filtered composition from it, loops the preview and exports the
// filtered result before handing it to the media library.
//
// All session state lives on one control goroutine started with Run. Public
// methods and asynchronous callbacks (preview end, export settled, library
// saved) are handed off to that goroutine as function calls.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maauso/filteredvideo/internal/composition"
	"github.com/maauso/filteredvideo/internal/events"
	"github.com/maauso/filteredvideo/internal/export"
	"github.com/maauso/filteredvideo/internal/filter"
	"github.com/maauso/filteredvideo/internal/library"
	"github.com/maauso/filteredvideo/internal/media"
	"github.com/maauso/filteredvideo/internal/preview"
	"github.com/maauso/filteredvideo/internal/storage"
)

// Static errors for session operations.
var (
	// ErrNoSource is returned when an export is requested before a source is set.
	ErrNoSource = errors.New("no source selected")
	// ErrExportRunning is returned when an export is requested while another runs.
	ErrExportRunning = errors.New("an export is already running")
	// ErrClosed is returned once the session has been closed.
	ErrClosed = errors.New("session closed")
	// ErrNoDestination is returned when no export destination is known.
	ErrNoDestination = errors.New("no export destination")
	// ErrJobActive is returned when deleting an export that has not settled.
	ErrJobActive = errors.New("export has not finished")
)

// Runner encodes a composition to a file and blocks until the encode settles.
type Runner interface {
	Run(ctx context.Context, src composition.Source, dst string, progress export.ProgressFunc) export.Result
}

// LibrarySaver writes a finished export to the media library. src stays
// readable for the whole call even if the export path is reused.
type LibrarySaver interface {
	Save(ctx context.Context, src library.File) (library.Asset, bool, error)
}

// Publisher receives session notifications.
type Publisher interface {
	Publish(e events.Event)
}

// Config holds the session's collaborators.
type Config struct {
	// Codec decodes sources for the default composition builder.
	Codec media.Codec
	// Spec is the filter applied to every frame. Defaults to filter.Noir.
	Spec filter.Spec
	// Compose builds the composition for a reference. Defaults to composition.New.
	Compose func(ref media.Reference, spec filter.Spec) composition.Source
	// Surface receives preview frames.
	Surface preview.Surface
	// RealtimePreview paces the preview at the source frame rate.
	RealtimePreview bool
	// Exporter encodes compositions.
	Exporter Runner
	// Jobs keeps export job history. Defaults to an in-memory repository.
	Jobs export.Repository
	// Library is optional; without it completed exports stay in the cache.
	Library LibrarySaver
	// Events is optional.
	Events Publisher
	// Files deletes the previous export. Defaults to storage.FileRemover.
	Files storage.Remover
	// Destination is used when StartExport is given an empty path.
	Destination string
	Logger      *slog.Logger
}

// State is a snapshot of the session.
type State struct {
	Source        *media.Reference `json:"source,omitempty"`
	Filter        filter.Spec      `json:"filter"`
	ExportEnabled bool             `json:"export_enabled"`
	RunningJob    string           `json:"running_job,omitempty"`
	LastJob       string           `json:"last_job,omitempty"`
	Playing       bool             `json:"playing"`
	Position      time.Duration    `json:"position"`
	Loops         int              `json:"loops"`
	// Frames counts preview frames rendered from the current source.
	Frames int `json:"frames"`
}

// Session is a MediaFilterSession. Run must be running for any other method
// to make progress.
type Session struct {
	cfg    Config
	logger *slog.Logger

	calls    chan func()
	quit     chan struct{}
	stopped  chan struct{}
	runOnce  sync.Once
	quitOnce sync.Once
	bg       sync.WaitGroup

	base       context.Context
	cancelBase context.CancelFunc

	// Owned by the control goroutine.
	ref          media.Reference
	comp         composition.Source
	player       *preview.Player
	running      *export.Job
	cancelExport context.CancelFunc
	lastJob      string
	loops        int
	paused       bool
	closing      bool
}

// New creates a session. Call Run to start its control goroutine.
func New(cfg Config) *Session {
	if cfg.Spec == "" {
		cfg.Spec = filter.Noir
	}
	if cfg.Compose == nil {
		codec := cfg.Codec
		cfg.Compose = func(ref media.Reference, spec filter.Spec) composition.Source {
			return composition.New(ref, spec, codec)
		}
	}
	if cfg.Jobs == nil {
		cfg.Jobs = export.NewMemoryRepository()
	}
	if cfg.Files == nil {
		cfg.Files = storage.FileRemover
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		calls:      make(chan func()),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		base:       base,
		cancelBase: cancel,
	}
}

// Run executes handed-off calls until ctx is done or Close completes.
// Cancelling ctx tears the session down as Close would.
func (s *Session) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("session already running")
	}
	defer close(s.stopped)

	for {
		select {
		case fn := <-s.calls:
			fn()
		case <-s.quit:
			return nil
		case <-ctx.Done():
			s.shutdown()
			s.drain()
			return ctx.Err()
		}
	}
}

// drain keeps serving calls until background work has finished.
func (s *Session) drain() {
	idle := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(idle)
	}()
	for {
		select {
		case fn := <-s.calls:
			fn()
		case <-idle:
			return
		}
	}
}

// do runs fn on the control goroutine and waits for it to return.
func (s *Session) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case s.calls <- call:
	case <-s.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

// post hands fn to the control goroutine and waits until it ran, unless the
// session stops or cancel is done first.
func (s *Session) post(cancel <-chan struct{}, fn func()) {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}
	select {
	case s.calls <- call:
		<-done
	case <-s.stopped:
	case <-cancel:
	}
}

// SetSource replaces the current video. The previous preview is torn down
// before the new composition is built, so no frame of the old source renders
// afterwards. A running export is not affected.
func (s *Session) SetSource(ctx context.Context, ref media.Reference) error {
	var err error
	if derr := s.do(ctx, func() { err = s.setSource(ref) }); derr != nil {
		return derr
	}
	return err
}

func (s *Session) setSource(ref media.Reference) error {
	if s.closing {
		return ErrClosed
	}
	s.teardownPreview()

	s.ref = ref
	s.comp = s.cfg.Compose(ref, s.cfg.Spec)
	s.loops = 0
	s.paused = false

	if s.cfg.Surface != nil {
		s.player = preview.NewPlayer(s.comp, s.cfg.Surface, preview.Options{
			Realtime: s.cfg.RealtimePreview,
			OnEnd:    s.previewEnded,
			Logger:   s.logger,
		})
		s.player.Play()
	}

	s.logger.Info("source changed",
		slog.String("path", ref.Path),
		slog.String("name", ref.Name),
		slog.String("filter", string(s.cfg.Spec)),
	)
	s.publish(events.SourceChanged, ref)
	return nil
}

func (s *Session) teardownPreview() {
	if s.player == nil {
		return
	}
	s.player.Stop()
	s.player = nil
}

// previewEnded runs on the player goroutine.
func (s *Session) previewEnded(ctx context.Context, p *preview.Player) {
	s.post(ctx.Done(), func() { s.previewDidReachEnd(p) })
}

// previewDidReachEnd rewinds and resumes p if it is still the current player.
func (s *Session) previewDidReachEnd(p *preview.Player) {
	if p == nil || p != s.player {
		return
	}
	p.SeekToStart()
	if !s.paused {
		p.Play()
	}
	s.loops++
	s.publish(events.PreviewLooped, map[string]int{"loops": s.loops})
}

// PreviewDidReachEnd rewinds the current preview to the start and resumes it.
// It is a no-op without a source.
func (s *Session) PreviewDidReachEnd(ctx context.Context) error {
	return s.do(ctx, func() { s.previewDidReachEnd(s.player) })
}

// Pause holds the preview on its current frame until Resume.
func (s *Session) Pause(ctx context.Context) error {
	return s.setPaused(ctx, true)
}

// Resume continues a paused preview.
func (s *Session) Resume(ctx context.Context) error {
	return s.setPaused(ctx, false)
}

func (s *Session) setPaused(ctx context.Context, paused bool) error {
	var err error
	derr := s.do(ctx, func() {
		switch {
		case s.closing:
			err = ErrClosed
		case s.player == nil:
			err = ErrNoSource
		case paused:
			s.paused = true
			s.player.Pause()
		default:
			s.paused = false
			s.player.Play()
		}
	})
	if derr != nil {
		return derr
	}
	return err
}

// StartExport begins encoding the filtered composition to destination and
// returns the RUNNING job without waiting for the encode. An empty destination
// uses the configured default. Any existing file at destination is deleted first.
func (s *Session) StartExport(ctx context.Context, destination string) (*export.Job, error) {
	var (
		job *export.Job
		err error
	)
	if derr := s.do(ctx, func() { job, err = s.startExport(destination) }); derr != nil {
		return nil, derr
	}
	return job, err
}

func (s *Session) startExport(dst string) (*export.Job, error) {
	switch {
	case s.closing:
		return nil, ErrClosed
	case s.comp == nil:
		return nil, ErrNoSource
	case s.running != nil:
		return nil, ErrExportRunning
	}
	if dst == "" {
		dst = s.cfg.Destination
	}
	if dst == "" {
		return nil, ErrNoDestination
	}

	if err := s.cfg.Files.Remove(dst); err != nil {
		return nil, fmt.Errorf("remove previous export: %w", err)
	}

	job := export.New(s.ref.Path, string(s.cfg.Spec), dst)
	if err := job.Start(); err != nil {
		return nil, err
	}
	if err := s.cfg.Jobs.Save(s.base, job); err != nil {
		return nil, fmt.Errorf("save export job: %w", err)
	}

	ctx, cancel := context.WithCancel(s.base)
	s.running = job
	s.cancelExport = cancel
	s.lastJob = job.ID

	s.logger.Info("export started",
		slog.String("job_id", job.ID),
		slog.String("source", job.SourcePath),
		slog.String("destination", dst),
	)
	s.publish(events.ExportStarted, job.Clone())

	comp := s.comp
	progress := func(pct int) {
		job.UpdateProgress(pct)
		_ = s.cfg.Jobs.Save(s.base, job)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		res := s.cfg.Exporter.Run(ctx, comp, dst, progress)
		s.post(nil, func() { s.onExportSettled(job, res) })
	}()

	return job.Clone(), nil
}

// onExportSettled applies the terminal state of job. It runs once per job.
func (s *Session) onExportSettled(job *export.Job, res export.Result) {
	if job != s.running {
		s.logger.Warn("ignoring settlement of unknown export", slog.String("job_id", job.ID))
		return
	}
	s.running = nil
	if s.cancelExport != nil {
		s.cancelExport()
		s.cancelExport = nil
	}

	if err := job.Settle(res); err != nil {
		s.logger.Error("failed to settle export",
			slog.String("job_id", job.ID),
			slog.String("status", string(res.Status)),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cfg.Jobs.Save(s.base, job); err != nil {
		s.logger.Error("failed to save export job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("status", string(job.GetStatus())),
	}
	switch res.Status {
	case export.StatusCompleted:
		s.logger.Info("export completed", attrs...)
	case export.StatusCancelled:
		s.logger.Info("export cancelled", attrs...)
	default:
		// Failures are reported through the job and the event stream only.
		s.logger.Error("export failed", append(attrs, slog.String("error", job.Clone().Error))...)
	}
	s.publish(events.ExportSettled, job.Clone())

	if res.Status == export.StatusCompleted && s.cfg.Library != nil && !s.closing {
		// Open before the gate reopens so a new export cannot truncate
		// the file underneath the save.
		f, err := os.Open(res.Path)
		if err != nil {
			s.logger.Error("library save failed",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
			return
		}
		s.saveToLibrary(job, f)
	}
}

func (s *Session) saveToLibrary(job *export.Job, f *os.File) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		defer f.Close()
		asset, saved, err := s.cfg.Library.Save(s.base, f)
		s.post(nil, func() { s.onLibrarySaved(job, asset, saved, err) })
	}()
}

func (s *Session) onLibrarySaved(job *export.Job, asset library.Asset, saved bool, err error) {
	if err != nil {
		s.logger.Error("library save failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !saved {
		return
	}

	job.SetAssetID(asset.ID)
	if err := s.cfg.Jobs.Save(s.base, job); err != nil {
		s.logger.Error("failed to save export job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
	s.publish(events.LibrarySaved, asset)
	s.publish(events.Alert, events.AlertData{
		Title:   library.SavedTitle,
		Message: library.SavedMessage,
		Button:  library.SavedButton,
	})
}

// Snapshot returns the current session state.
func (s *Session) Snapshot(ctx context.Context) (State, error) {
	var st State
	err := s.do(ctx, func() {
		st = State{
			Filter:        s.cfg.Spec,
			ExportEnabled: s.exportEnabled(),
			LastJob:       s.lastJob,
			Loops:         s.loops,
		}
		if s.comp != nil {
			ref := s.ref
			st.Source = &ref
		}
		if s.running != nil {
			st.RunningJob = s.running.ID
		}
		if s.player != nil {
			st.Playing = s.player.Playing()
			st.Position = s.player.Position()
			st.Frames = s.player.Rendered()
		}
	})
	return st, err
}

// exportEnabled is the gate shown to the caller: a source is set and nothing runs.
func (s *Session) exportEnabled() bool {
	return !s.closing && s.comp != nil && s.running == nil
}

// Job returns the export job with the given ID.
func (s *Session) Job(ctx context.Context, id string) (*export.Job, error) {
	return s.cfg.Jobs.FindByID(ctx, id)
}

// Jobs returns every recorded export, most recent first.
func (s *Session) Jobs(ctx context.Context) ([]*export.Job, error) {
	return s.cfg.Jobs.List(ctx)
}

// DeleteJob forgets a settled export. The exported file is left alone.
func (s *Session) DeleteJob(ctx context.Context, id string) error {
	var err error
	derr := s.do(ctx, func() {
		var job *export.Job
		job, err = s.cfg.Jobs.FindByID(ctx, id)
		if err != nil {
			return
		}
		if !job.IsTerminal() {
			err = ErrJobActive
			return
		}
		err = s.cfg.Jobs.Delete(ctx, id)
	})
	if derr != nil {
		return derr
	}
	if err == nil {
		s.logger.Info("export deleted", slog.String("job_id", id))
	}
	return err
}

// Close tears down the preview, cancels a running export and waits for it to
// settle as CANCELLED, then stops the control goroutine.
func (s *Session) Close(ctx context.Context) error {
	if err := s.do(ctx, s.shutdown); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}

	idle := make(chan struct{})
	go func() {
		s.bg.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.quitOnce.Do(func() { close(s.quit) })
	<-s.stopped
	return nil
}

func (s *Session) shutdown() {
	if s.closing {
		return
	}
	s.closing = true
	s.teardownPreview()
	if s.cancelExport != nil {
		s.cancelExport()
	}
	s.cancelBase()
}

func (s *Session) publish(t events.Type, data any) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.Publish(events.Event{Type: t, Data: data})
}

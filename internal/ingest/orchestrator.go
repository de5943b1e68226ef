package ingest

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/recall-tools/recall/internal/identity"
	"github.com/recall-tools/recall/internal/ingest/cursor"
	"github.com/recall-tools/recall/internal/ingesterr"
	"github.com/recall-tools/recall/internal/logx"
	"github.com/recall-tools/recall/internal/store"
)

// maxConcurrentIngests bounds how many sources tick at once; blocking
// I/O (git subprocesses, large transcript reads) runs on this worker
// pool while the store's own connection serializes the actual writes.
const maxConcurrentIngests = 4

// Orchestrator holds one adapter per source kind and the store handle
// every tick reads cursors from and commits events to.
type Orchestrator struct {
	st       *store.Store
	cursors  *cursor.Repository
	adapters map[string]Adapter
	log      *logx.Logger
}

// New builds an orchestrator, indexing adapters by their Kind().
func New(st *store.Store, adapters ...Adapter) *Orchestrator {
	o := &Orchestrator{
		st:       st,
		cursors:  cursor.New(st),
		adapters: make(map[string]Adapter, len(adapters)),
		log:      logx.Default(),
	}
	for _, a := range adapters {
		o.adapters[a.Kind()] = a
	}
	return o
}

// SourceResult is IngestSource's outcome for one source, collected by
// IngestAll into a per-batch summary without aborting on one failure.
type SourceResult struct {
	SourceID string
	Inserted int
	Report   Report
	Err      error
}

// IngestAll runs IngestSource for every active or errored source on a
// bounded worker pool; a failing source does not stop the others. A
// source already marked missing or paused is skipped, since it
// requires operator action (the input reappearing, or an explicit
// resume) before another tick is useful. The store itself is the only
// serialization point: each worker's InsertBatch commits inside its
// own transaction, so concurrent ticks never interleave writes.
func (o *Orchestrator) IngestAll() ([]SourceResult, error) {
	sources, err := o.st.ListSources("")
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	limit := maxConcurrentIngests
	if n := runtime.NumCPU(); n < limit {
		limit = n
	}

	var mu sync.Mutex
	var results []SourceResult
	g := new(errgroup.Group)
	g.SetLimit(limit)

	for _, src := range sources {
		if src.Status == store.SourcePaused || src.Status == store.SourceMissing {
			continue
		}
		src := src
		g.Go(func() error {
			inserted, report, ingestErr := o.IngestSource(src)
			mu.Lock()
			results = append(results, SourceResult{SourceID: src.SourceID, Inserted: inserted, Report: report, Err: ingestErr})
			mu.Unlock()
			return nil // per-source failures are captured in SourceResult, not propagated
		})
	}
	g.Wait()
	return results, nil
}

// IngestSource dispatches to the adapter for src.Kind, inserts the
// resulting events and cursor atomically, and updates the source's
// status. Errors are captured onto the source row rather than
// propagated, except dispatch failures for an unregistered kind, which
// are a configuration error the caller should see directly.
func (o *Orchestrator) IngestSource(src store.Source) (int, Report, error) {
	adapter, ok := o.adapters[src.Kind]
	if !ok {
		return 0, Report{}, fmt.Errorf("no adapter registered for source kind %q", src.Kind)
	}

	cur, err := o.cursors.Get(src.SourceID)
	if err != nil {
		return 0, Report{}, fmt.Errorf("load cursor for %s: %w", src.SourceID, err)
	}

	ctx := NormalizationContext{
		SourceID:      src.SourceID,
		DeviceID:      src.DeviceID,
		ProjectID:     src.ProjectID,
		SourceKind:    src.Kind,
		RedactSecrets: src.RedactSecrets,
	}

	result, ingestErr := adapter.Ingest(ctx, src.Locator, cur)
	if ingestErr != nil {
		if errors.Is(ingestErr, ErrSourceMissing) {
			wrapped := ingesterr.New(ingesterr.TransientIo, ingestErr)
			o.log.Warnf("source %s missing: %v", src.SourceID, wrapped)
			src.Status = store.SourceMissing
			src.ErrorMessage = wrapped.Error()
			if err := o.st.UpsertSource(src); err != nil {
				return 0, Report{}, fmt.Errorf("mark source missing: %w", err)
			}
			return 0, Report{}, wrapped
		}

		wrapped := ingesterr.New(ingesterr.AdapterFailure, ingestErr)
		o.log.Errorf("source %s failed: %v", src.SourceID, wrapped)
		src.Status = store.SourceError
		src.ErrorMessage = wrapped.Error()
		if err := o.st.UpsertSource(src); err != nil {
			return 0, Report{}, fmt.Errorf("mark source error: %w", err)
		}
		return 0, Report{}, wrapped
	}

	inserted, err := o.st.InsertBatch(result.Events, result.NewCursor)
	if err != nil {
		wrapped := ingesterr.New(ingesterr.StoreConstraintViolation, err)
		o.log.Errorf("insert batch for %s failed: %v", src.SourceID, wrapped)
		src.Status = store.SourceError
		src.ErrorMessage = wrapped.Error()
		o.st.UpsertSource(src)
		return 0, result.Report, fmt.Errorf("insert batch for %s: %w", src.SourceID, wrapped)
	}

	src.Status = store.SourceActive
	src.ErrorMessage = ""
	src.LastSeenAt = time.Now().UTC()
	if err := o.st.UpsertSource(src); err != nil {
		return inserted, result.Report, fmt.Errorf("mark source active: %w", err)
	}

	return inserted, result.Report, nil
}

// DiscoverAndRegister runs every adapter's Discover and registers any
// candidate locator not already known as a source, used by both the
// initial `recall ingest` pass and the watch coordinator's periodic
// rediscovery timer. A known source marked missing whose locator is
// discovered again is set back to active; it is not counted as newly
// registered.
func (o *Orchestrator) DiscoverAndRegister(deviceID string) (int, error) {
	existing, err := o.st.ListSources(deviceID)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}
	known := make(map[string]store.Source, len(existing))
	for _, s := range existing {
		known[s.Locator] = s
	}

	registered := 0
	for kind, adapter := range o.adapters {
		candidates, err := adapter.Discover(deviceID)
		if err != nil {
			o.log.Warnf("discover for kind %s failed: %v", kind, err) // best-effort: must not block the others
			continue
		}
		for _, c := range candidates {
			if s, ok := known[c.Locator]; ok {
				if s.Status == store.SourceMissing {
					s.Status = store.SourceActive
					s.ErrorMessage = ""
					if err := o.st.UpsertSource(s); err != nil {
						return registered, fmt.Errorf("reactivate rediscovered source %s: %w", c.Locator, err)
					}
					known[c.Locator] = s
				}
				continue
			}
			projectID := o.resolveProjectID(c.ProjectHint)
			src := store.Source{
				SourceID:      sourceIDFor(kind, c.Locator),
				Kind:          kind,
				Locator:       c.Locator,
				DeviceID:      deviceID,
				ProjectID:     projectID,
				Status:        store.SourceActive,
				RedactSecrets: true,
				LastSeenAt:    time.Now().UTC(),
				CreatedAt:     time.Now().UTC(),
			}
			if err := o.st.UpsertSource(src); err != nil {
				return registered, fmt.Errorf("register discovered source %s: %w", c.Locator, err)
			}
			known[c.Locator] = src
			registered++
		}
	}
	return registered, nil
}

func sourceIDFor(kind, locator string) string {
	return EventID(kind, 0, locator)
}

// resolveProjectID derives and persists the project identity for a
// newly discovered source's working directory hint, best-effort: a
// hint that can't be resolved (empty, or detection fails) just leaves
// the source unattributed to any project rather than blocking registration.
func (o *Orchestrator) resolveProjectID(projectHint string) string {
	if projectHint == "" {
		return ""
	}
	p, err := identity.DetectProject(projectHint)
	if err != nil {
		o.log.Warnf("detect project for %s: %v", projectHint, err)
		return ""
	}
	if err := o.st.UpsertProject(store.Project{
		ProjectID:   p.ProjectID,
		DisplayName: p.DisplayName,
		GitRemote:   p.GitRemote,
		RootPath:    p.RootPath,
		SharePolicy: string(p.SharePolicy),
		CreatedAt:   p.CreatedAt,
	}); err != nil {
		o.log.Warnf("upsert project for %s: %v", projectHint, err)
		return ""
	}
	return p.ProjectID
}

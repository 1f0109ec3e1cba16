package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/huangang/claimwatch/internal/models"
	"github.com/huangang/claimwatch/internal/services/github"
	"github.com/huangang/claimwatch/pkg/logger"
)

// MainRepoReader reads the shared repository. A missing issue must be
// reported as github.ErrNotFound, never as an empty result.
type MainRepoReader interface {
	ListActivitySince(ctx context.Context, repo string, issue int, assignee string, since time.Time) (*github.IssueActivity, error)
}

// ForkReader reads the assignee's fork. github.ErrNotFound from
// FindForkOwnedBy means "no fork yet".
type ForkReader interface {
	FindForkOwnedBy(ctx context.Context, repo, username string) (*models.ForkRef, error)
	ListCommitsSince(ctx context.Context, forkOwner, forkRepo, author string, since time.Time) ([]models.ActivityEvent, error)
}

type MergeResult struct {
	PreviousWatermark time.Time
	NewWatermark      time.Time
	// Events are strictly newer than PreviousWatermark, ordered by time with
	// ties in ingestion order (main repository before fork).
	Events         []models.ActivityEvent
	HadNewActivity bool

	Fork         models.ForkRef
	ForkChanged  bool
	ForkDegraded bool
	ForkError    string

	MainNotFound bool
	IssueClosed  bool
	// StillAssigned is false when the issue no longer lists the assignee.
	StillAssigned bool
}

// TextEvents returns the new events worth sending to the classifier.
func (r *MergeResult) TextEvents() []models.ActivityEvent {
	var out []models.ActivityEvent
	for _, e := range r.Events {
		if e.Kind.HasText() && e.Payload != "" {
			out = append(out, e)
		}
	}
	return out
}

// ActivityMerger combines main repository and fork activity into one
// timeline and derives the new watermark.
type ActivityMerger struct {
	main  MainRepoReader
	forks ForkReader
	cache ForkCache
}

func NewActivityMerger(main MainRepoReader, forks ForkReader, cache ForkCache) *ActivityMerger {
	return &ActivityMerger{main: main, forks: forks, cache: cache}
}

// Merge reads both sources since the assignment's watermark. Main repository
// errors other than not-found are returned for the caller to classify; fork
// errors only degrade the result to main-repository data.
func (m *ActivityMerger) Merge(ctx context.Context, a *models.Assignment) (*MergeResult, error) {
	since := a.LastActivityAt
	res := &MergeResult{PreviousWatermark: since, NewWatermark: since, StillAssigned: true}
	log := logger.ForAssignment(a.ID, a.Repository, a.IssueNumber)

	var raw []models.ActivityEvent

	act, err := m.main.ListActivitySince(ctx, a.Repository, a.IssueNumber, a.Assignee, since)
	switch {
	case err == nil:
		raw = append(raw, act.Events...)
		res.IssueClosed = act.Closed
		res.StillAssigned = act.StillAssigned(a.Assignee)
	case errors.Is(err, github.ErrNotFound):
		res.MainNotFound = true
		log.Warn().Err(err).Msg("[Merger] issue not found, continuing without main repository signal")
	default:
		return nil, fmt.Errorf("read main repository: %w", err)
	}

	if m.forks != nil {
		forkEvents := m.readFork(ctx, a, since, res)
		raw = append(raw, forkEvents...)
		if res.ForkDegraded {
			log.Warn().Str("reason", res.ForkError).Msg("[Merger] fork lookup degraded, using main repository only")
		}
	}

	res.Events = mergeEvents(raw, since)
	res.HadNewActivity = len(res.Events) > 0
	for _, e := range res.Events {
		if e.Timestamp.After(res.NewWatermark) {
			res.NewWatermark = e.Timestamp
		}
	}
	return res, nil
}

func (m *ActivityMerger) readFork(ctx context.Context, a *models.Assignment, since time.Time, res *MergeResult) []models.ActivityEvent {
	ref, err := m.resolveFork(ctx, a)
	if err != nil {
		res.ForkDegraded = true
		res.ForkError = err.Error()
		if a.Fork.IsZero() {
			return nil
		}
		// Fall back to the last known fork coordinates.
		fallback := a.Fork
		ref = &fallback
	}
	if ref == nil || ref.IsZero() {
		if !a.Fork.IsZero() && !res.ForkDegraded {
			res.ForkChanged = true
		}
		return nil
	}
	res.Fork = *ref
	res.ForkChanged = *ref != a.Fork

	events, err := m.forks.ListCommitsSince(ctx, ref.Owner, ref.Name, a.Assignee, since)
	if err != nil {
		res.ForkDegraded = true
		res.ForkError = err.Error()
		if errors.Is(err, github.ErrNotFound) && m.cache != nil {
			// Fork was deleted; forget it so the next lookup starts fresh.
			_ = m.cache.Put(ctx, models.ForkReference{Repository: a.Repository, ForkOwner: a.Assignee, Found: false})
		}
		return nil
	}
	return events
}

// resolveFork consults the cache and refreshes expired or missing entries.
// A nil ref with nil error means the assignee has no fork.
func (m *ActivityMerger) resolveFork(ctx context.Context, a *models.Assignment) (*models.ForkRef, error) {
	var cached *models.ForkReference
	if m.cache != nil {
		entry, fresh, err := m.cache.Get(ctx, a.Repository, a.Assignee)
		if err != nil {
			logger.Warn().Err(err).Str("repo", a.Repository).Msg("[Merger] fork cache read failed")
		} else if entry != nil {
			if fresh {
				if !entry.Found {
					return nil, nil
				}
				ref := entry.Ref()
				return &ref, nil
			}
			cached = entry
		}
	}

	found, err := m.forks.FindForkOwnedBy(ctx, a.Repository, a.Assignee)
	if err != nil && !errors.Is(err, github.ErrNotFound) {
		if cached != nil && cached.Found {
			ref := cached.Ref()
			return &ref, nil
		}
		return nil, fmt.Errorf("find fork: %w", err)
	}

	entry := models.ForkReference{Repository: a.Repository, ForkOwner: a.Assignee}
	if found != nil && err == nil {
		entry.Found = true
		entry.ForkName = found.Name
		entry.DefaultBranch = found.DefaultBranch
	}
	if m.cache != nil {
		if perr := m.cache.Put(ctx, entry); perr != nil {
			logger.Warn().Err(perr).Str("repo", a.Repository).Msg("[Merger] fork cache write failed")
		}
	}
	if !entry.Found {
		return nil, nil
	}
	ref := entry.Ref()
	return &ref, nil
}

// mergeEvents normalizes raw events, drops anything at or before the
// watermark, removes duplicates and stable-sorts by timestamp.
func mergeEvents(raw []models.ActivityEvent, since time.Time) []models.ActivityEvent {
	seen := make(map[string]bool, len(raw))
	out := make([]models.ActivityEvent, 0, len(raw))
	for _, e := range raw {
		if !e.Timestamp.After(since) {
			continue
		}
		if e.DedupeKey == "" {
			e.DedupeKey = fmt.Sprintf("%s:%s:%d", e.Source, e.Kind, e.Timestamp.UnixNano())
		}
		if seen[e.DedupeKey] {
			continue
		}
		seen[e.DedupeKey] = true
		e.Timestamp = e.Timestamp.UTC()
		if e.Source == "" {
			e.Source = models.SourceMainRepo
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

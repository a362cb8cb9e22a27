package queue

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/buddyup/internal/compatibility"
	"github.com/malbeclabs/buddyup/internal/metrics"
	"github.com/malbeclabs/buddyup/internal/mpcerr"
	"github.com/malbeclabs/buddyup/internal/notify"
	"github.com/malbeclabs/buddyup/internal/partnership"
	"github.com/malbeclabs/buddyup/internal/preferences"
)

// Engine wires the queue Store together with the compatibility Scorer and
// the partnership Store to implement join/leave/status/suggest and the
// batched matching pass (spec §4.3).
//
// The matching pass is serialized process-wide by mu and deduplicated by
// a singleflight.Group, matching §5's "at most one runMatchingPass
// executes process-wide, protected by a named mutex".
type Engine struct {
	queue        Store
	prefs        preferences.Store
	partnerships partnership.Store
	scorer       compatibility.Scorer
	notifier     notify.Notifier
	log          *slog.Logger

	threshold     float64
	bucketHours   int
	maxConcurrent int

	mu      sync.Mutex
	flight  singleflight.Group
	limiter map[string]*limiterEntry
	limMu   sync.Mutex
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastUsedAt time.Time
}

// limiterIdleEvictAfter and limiterSweepThreshold bound the per-caller
// rate limiter map: without eviction it grows by one entry per distinct
// caller for the life of the process.
const (
	limiterIdleEvictAfter = 30 * time.Minute
	limiterSweepThreshold = 10000
)

func NewEngine(queue Store, prefs preferences.Store, partnerships partnership.Store, scorer compatibility.Scorer, notifier notify.Notifier, log *slog.Logger, threshold float64, bucketHours, maxConcurrent int) *Engine {
	return &Engine{
		queue:         queue,
		prefs:         prefs,
		partnerships:  partnerships,
		scorer:        scorer,
		notifier:      notifier,
		log:           log,
		threshold:     threshold,
		bucketHours:   bucketHours,
		maxConcurrent: maxConcurrent,
		limiter:       make(map[string]*limiterEntry),
	}
}

func (e *Engine) Join(ctx context.Context, userID string, now time.Time) (Entry, error) {
	p, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	if !p.Available {
		return Entry{}, mpcerr.New(mpcerr.Invalid, "user is not marked available")
	}
	count, err := e.partnerships.CountLive(ctx, userID)
	if err != nil {
		return Entry{}, err
	}
	if count >= p.MaxConcurrent {
		return Entry{}, mpcerr.New(mpcerr.LimitExceeded, "user already has the maximum number of concurrent partners")
	}
	return e.queue.Join(ctx, userID, now)
}

func (e *Engine) Leave(ctx context.Context, userID string) error {
	return e.queue.Leave(ctx, userID)
}

func (e *Engine) Status(ctx context.Context, userID string) (Position, error) {
	return e.queue.Position(ctx, userID)
}

// limiterFor returns a per-caller token-bucket limiter for suggest(),
// lazily created: 1 request/sec with a burst of 5. Entries idle for
// longer than limiterIdleEvictAfter are swept out once the map grows
// past limiterSweepThreshold, so a process with high caller churn
// doesn't grow this map without bound.
func (e *Engine) limiterFor(userID string) *rate.Limiter {
	e.limMu.Lock()
	defer e.limMu.Unlock()

	now := time.Now()
	if len(e.limiter) > limiterSweepThreshold {
		for k, v := range e.limiter {
			if now.Sub(v.lastUsedAt) > limiterIdleEvictAfter {
				delete(e.limiter, k)
			}
		}
	}

	entry, ok := e.limiter[userID]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(1), 5)}
		e.limiter[userID] = entry
	}
	entry.lastUsedAt = now
	return entry.limiter
}

// Suggest returns up to limit ranked candidates for userID, scored from the
// caller-supplied candidatePool and dropping pairs below
// compatibility.MinimumAcceptable. It does not read the queue or scan for
// available users itself: only the IDs in candidatePool are considered.
func (e *Engine) Suggest(ctx context.Context, userID string, limit int, candidatePool []string, now time.Time) ([]compatibility.Score, error) {
	if !e.limiterFor(userID).Allow() {
		return nil, mpcerr.New(mpcerr.LimitExceeded, "suggestion rate limit exceeded")
	}

	me, err := e.prefs.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []compatibility.Score
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, candidateID := range candidatePool {
		candidateID := candidateID
		if candidateID == userID {
			continue
		}
		g.Go(func() error {
			other, err := e.prefs.Get(gctx, candidateID)
			if err != nil {
				return nil // skip unreadable candidates rather than failing the whole suggestion
			}
			score, err := e.scorer.Score(me, other, now)
			if err != nil {
				return nil
			}
			if score.BelowThreshold {
				return nil
			}
			mu.Lock()
			results = append(results, score)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, mpcerr.Wrap(mpcerr.Transient, "suggestion scan failed", err)
	}

	compatibility.BreakTies(results, userID)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// RunMatchingPass executes one matching pass: bucket by timezone, score
// candidate pairs within each bucket, greedily pick a maximum-weight
// matching, and open PENDING partnerships for the winners (spec §4.3).
// It is idempotent: admitted users are removed from the queue, so a
// second pass with no queue mutation finds nothing left to propose
// (spec §8 property 7).
func (e *Engine) RunMatchingPass(ctx context.Context, now time.Time) (int, error) {
	v, err, _ := e.flight.Do("match-pass", func() (any, error) {
		return e.runMatchingPassLocked(ctx, now)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (e *Engine) runMatchingPassLocked(ctx context.Context, now time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	waiting, err := e.queue.SnapshotWaiting(ctx)
	if err != nil {
		return 0, err
	}
	if len(waiting) < 2 {
		return 0, nil
	}

	type candidate struct {
		entry Entry
		prefs preferences.UserPreferences
	}
	candidates := make([]candidate, 0, len(waiting))
	for _, entry := range waiting {
		p, err := e.prefs.Get(ctx, entry.UserID)
		if err != nil {
			e.log.Warn("skipping queue entry with unreadable preferences", "user", entry.UserID, "error", err)
			continue
		}
		candidates = append(candidates, candidate{entry: entry, prefs: p})
	}

	buckets := make(map[int][]candidate)
	for _, c := range candidates {
		hour := timezoneHourBucket(c.prefs.Timezone, now)
		buckets[hour] = append(buckets[hour], c)
	}

	type edge struct {
		a, b  string
		score compatibility.Score
	}
	var edges []edge

	for hour, bucket := range buckets {
		for otherHour := hour - e.bucketHours; otherHour <= hour+e.bucketHours; otherHour++ {
			if otherHour < hour {
				continue // each unordered pair considered once
			}
			for _, a := range bucket {
				peers := buckets[otherHour]
				for _, b := range peers {
					if otherHour == hour && a.entry.UserID >= b.entry.UserID {
						continue
					}
					score, err := e.scorer.Score(a.prefs, b.prefs, now)
					if err != nil {
						continue
					}
					metrics.MatchingPassCandidatesScored.Inc()
					if score.Total >= e.threshold {
						edges = append(edges, edge{a: a.entry.UserID, b: b.entry.UserID, score: score})
					}
				}
			}
		}
	}

	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].score.Total != edges[j].score.Total {
			return edges[i].score.Total > edges[j].score.Total
		}
		if edges[i].score.Breakdown.Schedule != edges[j].score.Breakdown.Schedule {
			return edges[i].score.Breakdown.Schedule > edges[j].score.Breakdown.Schedule
		}
		if edges[i].score.Breakdown.Timezone != edges[j].score.Breakdown.Timezone {
			return edges[i].score.Breakdown.Timezone > edges[j].score.Breakdown.Timezone
		}
		return edges[i].b < edges[j].b
	})

	enqueuedAt := make(map[string]time.Time, len(candidates))
	maxConc := make(map[string]int, len(candidates))
	for _, c := range candidates {
		enqueuedAt[c.entry.UserID] = c.entry.EnqueuedAt
		maxConc[c.entry.UserID] = c.prefs.MaxConcurrent
	}

	matched := make(map[string]bool)
	var admitted []string
	proposals := 0

	for _, ed := range edges {
		if matched[ed.a] || matched[ed.b] {
			continue
		}
		initiator := ed.a
		if enqueuedAt[ed.b].Before(enqueuedAt[ed.a]) {
			initiator = ed.b
		}
		recipient := ed.a
		if initiator == ed.a {
			recipient = ed.b
		}

		cap := maxConc[ed.a]
		if maxConc[ed.b] < cap {
			cap = maxConc[ed.b]
		}

		_, err := e.partnerships.Request(ctx, initiator, recipient, "", 30, ed.score.Total, cap, now)
		if err != nil {
			e.log.Warn("matching pass could not open partnership", "a", ed.a, "b", ed.b, "error", err)
			continue
		}

		matched[ed.a] = true
		matched[ed.b] = true
		admitted = append(admitted, ed.a, ed.b)
		proposals++
		metrics.MatchingPassProposals.Inc()

		e.emitMatchProposed(ctx, ed.a, ed.b, ed.score.Total, now)
	}

	if err := e.queue.Admit(ctx, admitted); err != nil {
		return proposals, err
	}

	return proposals, nil
}

func (e *Engine) emitMatchProposed(ctx context.Context, a, b string, score float64, now time.Time) {
	event := notify.Event{
		Name:      notify.MatchProposed,
		Payload:   notify.MarshalPayload(map[string]any{"userA": a, "userB": b, "score": score}),
		CreatedAt: now,
	}
	if err := e.notifier.Emit(ctx, event); err != nil {
		metrics.NotifyEmitTotal.WithLabelValues(string(notify.MatchProposed), "error").Inc()
		return
	}
	metrics.NotifyEmitTotal.WithLabelValues(string(notify.MatchProposed), "ok").Inc()
}

// timezoneHourBucket resolves a timezone's current UTC offset in whole
// hours, used to bound the O(n²) pairwise scan (spec §4.3).
func timezoneHourBucket(timezone string, now time.Time) int {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return 0
	}
	_, offset := now.In(loc).Zone()
	return offset / 3600
}

// EvictIdle removes WAITING entries older than idleAfter (C7's
// queue-eviction job).
func (e *Engine) EvictIdle(ctx context.Context, idleAfter time.Duration, now time.Time) (int, error) {
	return e.queue.EvictIdle(ctx, now.Add(-idleAfter))
}

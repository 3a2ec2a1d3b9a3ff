package app

import (
	"codegraph/internal/core/errors"
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/cache"
	"codegraph/internal/engine/query"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Service is the query and impact API over a live index. Every call reads
// one snapshot, goes through the result cache and is tagged with a request
// ID for logs and traces. Results may be shared with other callers and must
// not be modified.
type Service struct {
	store   *facts.Store
	engine  *query.Engine
	cache   *cache.Cache
	profile bool

	limiterMu sync.RWMutex
	limiter   *util.Limiter
}

type ServiceOptions struct {
	// Limiter throttles queries; nil admits everything.
	Limiter *util.Limiter
	// Profile logs every query at info level with its duration.
	Profile bool
}

func NewService(store *facts.Store, engine *query.Engine, results *cache.Cache, opts ServiceOptions) *Service {
	return &Service{
		store:   store,
		engine:  engine,
		cache:   results,
		profile: opts.Profile,
		limiter: opts.Limiter,
	}
}

func (s *Service) SetLimiter(l *util.Limiter) {
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	s.limiter = l
}

func (s *Service) wait(ctx context.Context) error {
	s.limiterMu.RLock()
	l := s.limiter
	s.limiterMu.RUnlock()
	if err := l.Wait(ctx, 1); err != nil {
		return errors.Wrap(err, errors.CodeTimeout, "query rate limit wait aborted")
	}
	return nil
}

// targetArgs keys a target the way the engine will read it, so spellings
// of the same query share one cache entry. Invalid targets keep their raw
// form and fail in the engine.
func targetArgs(t query.Target) []string {
	if n, err := query.NormalizeTarget(t); err == nil {
		t = n
	}
	return []string{t.Name, t.File, string(t.Kind)}
}

func (s *Service) depthArg(d int) string {
	if limit := s.engine.Limits().MaxDepth; limit > 0 && d > limit {
		d = limit
	}
	return strconv.Itoa(d)
}

func execute[T query.Result](ctx context.Context, s *Service, op string, key string, compute func(context.Context, *facts.Snapshot) (T, error)) (T, error) {
	var zero T
	requestID := uuid.NewString()
	ctx, span := observability.Tracer.Start(ctx, "Service."+op, trace.WithAttributes(
		attribute.String("request_id", requestID),
	))
	defer span.End()

	if err := s.wait(ctx); err != nil {
		span.RecordError(err)
		return zero, err
	}

	started := time.Now()
	res, hit, err := s.cache.Do(key, func() (query.Result, error) {
		sn := s.store.Snapshot()
		defer sn.Release()
		out, err := compute(ctx, sn)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
	elapsed := time.Since(started)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Debug("query failed", "op", op, "request_id", requestID, "error", err)
		return zero, err
	}

	meta := res.Metadata()
	span.SetAttributes(
		attribute.Bool("cache_hit", hit),
		attribute.Int64("revision", int64(meta.Revision)),
		attribute.Bool("truncated", meta.Truncated),
		attribute.Bool("timed_out", meta.TimedOut),
	)
	level := slog.LevelDebug
	if s.profile {
		level = slog.LevelInfo
	}
	slog.Log(ctx, level, "query",
		"op", op,
		"request_id", requestID,
		"cache_hit", hit,
		"revision", meta.Revision,
		"truncated", meta.Truncated,
		"duration", elapsed,
	)
	return res.(T), nil
}

func (s *Service) Lookup(ctx context.Context, t query.Target) (*query.LookupResult, error) {
	return execute(ctx, s, "lookup", cache.Key("lookup", targetArgs(t)...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.LookupResult, error) {
			return s.engine.Lookup(ctx, sn, t)
		})
}

func (s *Service) Callers(ctx context.Context, t query.Target) (*query.NeighborResult, error) {
	return execute(ctx, s, "callers", cache.Key("callers", targetArgs(t)...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.NeighborResult, error) {
			return s.engine.Callers(ctx, sn, t)
		})
}

func (s *Service) Callees(ctx context.Context, t query.Target) (*query.NeighborResult, error) {
	return execute(ctx, s, "callees", cache.Key("callees", targetArgs(t)...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.NeighborResult, error) {
			return s.engine.Callees(ctx, sn, t)
		})
}

func (s *Service) References(ctx context.Context, t query.Target) (*query.NeighborResult, error) {
	return execute(ctx, s, "references", cache.Key("references", targetArgs(t)...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.NeighborResult, error) {
			return s.engine.References(ctx, sn, t)
		})
}

func (s *Service) Dependencies(ctx context.Context, req query.DependencyRequest) (*query.DependencyResult, error) {
	key := cache.Key("dependencies", append(targetArgs(req.Target), util.NormalizePatternPath(req.File))...)
	return execute(ctx, s, "dependencies", key,
		func(ctx context.Context, sn *facts.Snapshot) (*query.DependencyResult, error) {
			return s.engine.Dependencies(ctx, sn, req)
		})
}

func (s *Service) Path(ctx context.Context, req query.PathRequest) (*query.PathResult, error) {
	kinds := make([]string, 0, len(req.Kinds))
	for _, k := range req.Kinds {
		if kind, ok := facts.ParseRelationKind(string(k)); ok {
			k = kind
		}
		kinds = append(kinds, string(k))
	}
	args := append(targetArgs(req.From), targetArgs(req.To)...)
	args = append(args, strings.Join(kinds, ","), s.depthArg(req.MaxDepth))
	return execute(ctx, s, "path", cache.Key("path", args...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.PathResult, error) {
			return s.engine.Path(ctx, sn, req)
		})
}

func (s *Service) Impact(ctx context.Context, req query.ImpactRequest) (*query.ImpactResult, error) {
	change := req.Change
	if c, ok := query.ParseChangeKind(string(change)); ok {
		change = c
	}
	args := append(targetArgs(req.Target), string(change), req.To, s.depthArg(req.MaxDepth))
	return execute(ctx, s, "impact", cache.Key("impact", args...),
		func(ctx context.Context, sn *facts.Snapshot) (*query.ImpactResult, error) {
			return s.engine.Impact(ctx, sn, req)
		})
}

// Stats describes the live index and the cache in front of it.
type Stats struct {
	Revision          facts.Revision `json:"revision"`
	Files             int            `json:"files"`
	Symbols           int            `json:"symbols"`
	Relationships     int            `json:"relationships"`
	Unresolved        int            `json:"unresolved"`
	SymbolsByKind     map[string]int `json:"symbols_by_kind"`
	RelationsByKind   map[string]int `json:"relationships_by_kind"`
	FilesByLanguage   map[string]int `json:"files_by_language"`
	StaleFiles        []string       `json:"stale_files"`
	PendingRebuilds   []string       `json:"pending_rebuilds,omitempty"`
	RetainedRevisions int            `json:"retained_revisions"`
	QueueDepth        int            `json:"queue_depth"`
	Cache             cache.Stats    `json:"cache"`
}

func (s *Service) Stats() Stats {
	st := s.store.Stats(nil)
	out := Stats{
		Revision:          st.Revision,
		Files:             st.Files,
		Symbols:           st.Symbols,
		Relationships:     st.Relationships,
		Unresolved:        st.Placeholders,
		SymbolsByKind:     make(map[string]int, len(st.SymbolsByKind)),
		RelationsByKind:   make(map[string]int, len(st.RelationsByKind)),
		FilesByLanguage:   st.FilesByLanguage,
		StaleFiles:        st.StaleFiles,
		RetainedRevisions: st.RetainedRevisions,
		Cache:             s.cache.Stats(),
	}
	if out.StaleFiles == nil {
		out.StaleFiles = []string{}
	}
	for k, n := range st.SymbolsByKind {
		out.SymbolsByKind[string(k)] = n
	}
	for k, n := range st.RelationsByKind {
		out.RelationsByKind[string(k)] = n
	}
	return out
}

// Stats adds the writer's backlog to the service statistics.
func (a *App) Stats() Stats {
	st := a.service.Stats()
	st.QueueDepth = a.Queue.Len()
	st.PendingRebuilds = a.Updater.PendingRebuilds()
	return st
}

package updater

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/parser"
	"codegraph/internal/shared/observability"
	"codegraph/internal/shared/util"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Report summarizes a bulk index or rescan.
type Report struct {
	Files       int
	Committed   int
	Unchanged   int
	ParseErrors int
	Skipped     int
	Deleted     int
	Revision    facts.Revision
	Duration    time.Duration
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case OutcomeCommitted:
		r.Committed++
	case OutcomeUnchanged:
		r.Unchanged++
	case OutcomeParseError:
		r.ParseErrors++
	case OutcomeDeleted:
		r.Deleted++
	default:
		r.Skipped++
	}
}

// IndexTree brings the whole project up to date with the disk.
func (u *Updater) IndexTree(ctx context.Context) (Report, error) {
	return u.rescan(ctx, []string{""})
}

// RescanDirs re-reads every indexable file below dirs and drops indexed
// files that no longer exist there. Unchanged files cost a hash.
func (u *Updater) RescanDirs(ctx context.Context, dirs []string) (Report, error) {
	observability.RescansTotal.Inc()
	rel := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if filepath.IsAbs(d) {
			if r, err := filepath.Rel(u.root, d); err == nil {
				d = r
			}
		}
		rel = append(rel, util.NormalizePatternPath(filepath.ToSlash(d)))
	}
	return u.rescan(ctx, rel)
}

type scanned struct {
	hash      string
	file      *parser.File
	err       error
	unchanged bool
	missing   bool
}

func (u *Updater) rescan(ctx context.Context, dirs []string) (Report, error) {
	dirs = outermost(dirs)
	ctx, span := observability.Tracer.Start(ctx, "updater.Rescan", trace.WithAttributes(
		attribute.StringSlice("dirs", dirs),
	))
	defer span.End()

	start := time.Now()
	var report Report
	paths, err := u.collect(dirs)
	if err != nil {
		span.RecordError(err)
		return report, err
	}
	report.Files = len(paths)

	results := make([]scanned, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.threads)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(u.absPath(path))
			if err != nil {
				if os.IsNotExist(err) {
					results[i].missing = true
				} else {
					results[i].err = err
				}
				return nil
			}
			hash := util.ContentHash(content)
			results[i].hash = hash
			if u.unchanged(path, hash) {
				results[i].unchanged = true
				return nil
			}
			results[i].file, results[i].err = u.parser.ParseFile(path, content)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	present := make(map[string]struct{}, len(paths))
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		r := results[i]
		switch {
		case r.missing:
			continue
		case r.unchanged:
			present[path] = struct{}{}
			report.Unchanged++
			continue
		}
		present[path] = struct{}{}
		res, err := u.commitParsed(ctx, path, r.hash, r.file, r.err)
		if err != nil && res.Outcome != OutcomeParseError {
			slog.Warn("failed to index file", "path", path, "error", err)
		}
		report.add(res)
	}

	for _, rec := range u.store.Files(nil) {
		if rec.Deleted || !underAny(rec.Path, dirs) {
			continue
		}
		if _, ok := present[rec.Path]; ok {
			continue
		}
		res, err := u.Delete(ctx, rec.Path)
		if err != nil {
			slog.Warn("failed to drop vanished file", "path", rec.Path, "error", err)
		}
		report.add(res)
	}

	report.Revision = u.store.CurrentRevision()
	report.Duration = time.Since(start)
	slog.Info("index pass complete",
		"files", report.Files,
		"committed", report.Committed,
		"unchanged", report.Unchanged,
		"parse_errors", report.ParseErrors,
		"deleted", report.Deleted,
		"revision", report.Revision,
		"duration", report.Duration)
	return report, nil
}

// commitParsed commits a file parsed outside the writer lock. The hash is
// re-checked because the writer may have caught up in the meantime.
func (u *Updater) commitParsed(ctx context.Context, path, hash string, file *parser.File, perr error) (Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.unchanged(path, hash) {
		return Result{Path: path, Outcome: OutcomeUnchanged, Revision: u.store.CurrentRevision()}, nil
	}
	u.setState(path, StateReparsing)
	return u.commitParsedLocked(ctx, path, hash, file, perr)
}

// collect lists the indexable files below dirs, sorted.
func (u *Updater) collect(dirs []string) ([]string, error) {
	seen := make(map[string]struct{})
	for _, dir := range dirs {
		root := u.absPath(dir)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			rel, relErr := filepath.Rel(u.root, p)
			if relErr != nil {
				return nil
			}
			rel = util.NormalizePatternPath(filepath.ToSlash(rel))
			if d.IsDir() {
				if rel != "" && u.filter != nil && u.filter.SkipDir(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !u.parser.IsSupportedPath(rel) {
				return nil
			}
			if u.filter != nil && !u.filter.IncludeFile(rel) {
				return nil
			}
			seen[rel] = struct{}{}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return util.SortedStringKeys(seen), nil
}

// outermost drops directories nested inside others in the list.
func outermost(dirs []string) []string {
	dirs = util.DedupeSorted(dirs)
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !underAny(d, out) {
			out = append(out, d)
		}
	}
	return out
}

func underAny(path string, dirs []string) bool {
	for _, d := range dirs {
		if util.HasPathPrefix(path, d) {
			return true
		}
	}
	return false
}

// IsIndexed reports whether path currently has a live file record.
func (u *Updater) IsIndexed(path string) bool {
	rel, err := u.RelPath(path)
	if err != nil {
		return false
	}
	rec, ok := u.store.File(rel, nil)
	return ok && !rec.Deleted
}

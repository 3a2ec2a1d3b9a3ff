package ports

import (
	"codegraph/internal/data/facts"
	"codegraph/internal/engine/parser"
	"context"
	"time"
)

// FactParser turns file text into symbol and relationship facts.
type FactParser interface {
	ParseFile(path string, content []byte) (*parser.File, error)
	GetLanguage(path string) string
	IsSupportedPath(filePath string) bool
	SupportedExtensions() []string
}

// ChangeEvent is one entry of the change stream. Deleted events carry no
// content. Force skips the unchanged-hash short-circuit.
type ChangeEvent struct {
	Path    string
	Content []byte
	Hash    string
	Deleted bool
	Force   bool
}

type EnqueueResult string

const (
	EnqueueAccepted EnqueueResult = "accepted"
	EnqueueDropped  EnqueueResult = "dropped"
)

// ChangeQueue is the bounded FIFO between the change stream and the single
// index writer.
type ChangeQueue interface {
	Enqueue(ev ChangeEvent) EnqueueResult
	DequeueBatch(ctx context.Context, maxItems int, wait time.Duration) ([]ChangeEvent, error)
	// DrainOverflow returns and clears the directories whose events were
	// dropped since the last drain.
	DrainOverflow() []string
	// RequestRescan schedules dir for a rescan on the next drain.
	RequestRescan(dir string)
	Len() int
	Close() error
}

// RevisionListener is told which file revisions advanced in a commit.
type RevisionListener interface {
	FilesAdvanced(files []facts.FileRevision)
}

// PathFilter decides which project-relative, slash-separated paths are
// indexed.
type PathFilter interface {
	IncludeFile(rel string) bool
	SkipDir(rel string) bool
}

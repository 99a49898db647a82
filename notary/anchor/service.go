// Package anchor runs the notary's two pipelines. Ingest stores a file in
// the content store and anchors an audit payload for it on the ledger;
// Verify resolves an anchored record and checks the stored file against it.
package anchor

import (
	"context"
	"time"

	"github.com/LumeraProtocol/notary/notary/allocator"
	"github.com/LumeraProtocol/notary/notary/recordcache"
	"github.com/LumeraProtocol/notary/pkg/anchorkit"
	"github.com/LumeraProtocol/notary/pkg/contentstore"
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/task"
	"github.com/LumeraProtocol/notary/pkg/utils"
	"go.uber.org/ratelimit"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Allocator issues ledger address indices.
type Allocator interface {
	AllocateNext(ctx context.Context) (allocator.Allocation, error)
}

// RecordCache stores ledger records and bundles already seen.
type RecordCache interface {
	GetGroup(ctx context.Context, groupID string) (recordcache.RecordGroup, bool, error)
	PutGroup(ctx context.Context, g recordcache.RecordGroup) error
	GetRecord(ctx context.Context, recordID string) (recordcache.RecordEntry, bool, error)
	PutRecord(ctx context.Context, e recordcache.RecordEntry) error
}

// Submission is one file to anchor.
type Submission struct {
	Name          string
	Description   string
	SizeBytes     uint64
	ModifiedAt    time.Time
	HashAlgorithm utils.HashAlgorithm
	DeclaredHash  string
	Data          []byte
}

// IngestResult is the outcome of Ingest. RecordID is the first record of the
// bundle and is the external reference for the file.
type IngestResult struct {
	Success   bool        `json:"success"`
	TaskID    string      `json:"task_id"`
	RecordID  string      `json:"record_id,omitempty"`
	ContentID string      `json:"content_id,omitempty"`
	Message   string      `json:"message"`
	Kind      errors.Kind `json:"-"`
}

// InputError reports a failure caused by the submission itself.
func (r IngestResult) InputError() bool { return !r.Success && r.Kind.InputError() }

// Retryable reports a failure worth retrying later.
func (r IngestResult) Retryable() bool { return !r.Success && r.Kind.Retryable() }

// VerifyResult is the outcome of Verify. Payload is set once the ledger
// message decoded, FileBytes once the content store answered.
type VerifyResult struct {
	IngestResult
	Payload               *anchorkit.Payload
	FileBytes             []byte
	RecomputedFileHash    string
	RecomputedContentHash string
	IsValid               bool
}

// contentIDer is implemented by stores that can derive an id without storing.
type contentIDer interface {
	IDFor(ctx context.Context, data []byte) (string, error)
}

// Service holds the collaborators shared by both pipelines.
type Service struct {
	config Config

	Content contentstore.Store
	Ledger  ledger.Client
	Alloc   Allocator
	Cache   RecordCache
	Tasks   task.Tracker

	sem     *semaphore.Weighted
	limiter ratelimit.Limiter
	sf      singleflight.Group
}

// NewService returns a Service. tracker may be nil.
func NewService(config Config, content contentstore.Store, ledgerClient ledger.Client, alloc Allocator, cache RecordCache, tracker task.Tracker) *Service {
	config = config.withDefaults()
	limiter := ratelimit.NewUnlimited()
	if config.SubmitRatePerSecond > 0 {
		limiter = ratelimit.New(config.SubmitRatePerSecond)
	}
	return &Service{
		config:  config,
		Content: content,
		Ledger:  ledgerClient,
		Alloc:   alloc,
		Cache:   cache,
		Tasks:   tracker,
		sem:     semaphore.NewWeighted(config.MaxConcurrent),
		limiter: limiter,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.config }

// Package status reports the notary's health: ledger reachability, the
// allocation counter, running tasks, cache effectiveness and host resources.
package status

import (
	"context"
	"time"

	"github.com/LumeraProtocol/notary/notary/recordcache"
	"github.com/LumeraProtocol/notary/pkg/contentstore/local"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/task"
	gocache "github.com/patrickmn/go-cache"
)

// Version is set by the main application.
var Version = "dev"

const (
	statusSubsystemTimeout = 8 * time.Second
	reachabilityTTL        = 15 * time.Second
	reachabilityKey        = "ledger"
)

// AllocationPeeker exposes the allocation counter without the seed.
type AllocationPeeker interface {
	Peek(ctx context.Context) (nextIndex uint64, initialized bool, err error)
}

// CacheStats exposes record cache counters.
type CacheStats interface {
	Stats() recordcache.Stats
}

// ContentStats exposes what the local content store holds.
type ContentStats interface {
	Stats(ctx context.Context) (local.Stats, error)
}

// Allocation is the public view of the allocation state.
type Allocation struct {
	Initialized bool   `json:"initialized"`
	NextIndex   uint64 `json:"next_index"`
}

// Status is the status report.
type Status struct {
	Version         string                 `json:"version"`
	UptimeSeconds   uint64                 `json:"uptime_seconds"`
	LedgerReachable bool                   `json:"ledger_reachable"`
	Allocation      *Allocation            `json:"allocation,omitempty"`
	RunningTasks    map[string][]task.Info `json:"running_tasks"`
	Cache           *recordcache.Stats     `json:"cache,omitempty"`
	Content         *local.Stats           `json:"content,omitempty"`
	CPUPercent      float64                `json:"cpu_percent"`
	Memory          *MemoryInfo            `json:"memory,omitempty"`
	Storage         *StorageInfo           `json:"storage,omitempty"`
}

// Service assembles Status reports.
type Service struct {
	metrics   *MetricsCollector
	dataDir   string
	startTime time.Time

	ledger  ledger.Client
	alloc   AllocationPeeker
	tracker task.Tracker
	cache   CacheStats
	content ContentStats

	// memo keeps ledger probes from running on every status request.
	memo *gocache.Cache
}

// NewService returns a status Service. Any collaborator may be nil.
func NewService(dataDir string, ledgerClient ledger.Client, alloc AllocationPeeker, tracker task.Tracker, cache CacheStats) *Service {
	return &Service{
		metrics:   NewMetricsCollector(),
		dataDir:   dataDir,
		startTime: time.Now(),
		ledger:    ledgerClient,
		alloc:     alloc,
		tracker:   tracker,
		cache:     cache,
		memo:      gocache.New(reachabilityTTL, 2*reachabilityTTL),
	}
}

// WithContentStats adds local content store figures to reports.
func (s *Service) WithContentStats(cs ContentStats) *Service {
	s.content = cs
	return s
}

// LedgerReachable probes the ledger at most once per reachabilityTTL.
func (s *Service) LedgerReachable(ctx context.Context) bool {
	if s.ledger == nil {
		return false
	}
	if v, ok := s.memo.Get(reachabilityKey); ok {
		return v.(bool)
	}
	probeCtx, cancel := context.WithTimeout(ctx, statusSubsystemTimeout)
	defer cancel()
	ok := s.ledger.IsReachable(probeCtx)
	s.memo.SetDefault(reachabilityKey, ok)
	return ok
}

// GetStatus returns the current report. Collaborator failures are logged
// and leave their section empty.
func (s *Service) GetStatus(ctx context.Context) *Status {
	fields := logtrace.Fields{logtrace.FieldMethod: "GetStatus", logtrace.FieldModule: "status"}
	logtrace.Debug(ctx, "status request received", fields)

	st := &Status{
		Version:         Version,
		UptimeSeconds:   uint64(time.Since(s.startTime).Seconds()),
		LedgerReachable: s.LedgerReachable(ctx),
		RunningTasks:    map[string][]task.Info{},
	}

	if s.alloc != nil {
		next, initialized, err := s.alloc.Peek(ctx)
		if err != nil {
			logtrace.Warn(ctx, "failed to read allocation state", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: err.Error()}))
		} else {
			st.Allocation = &Allocation{Initialized: initialized, NextIndex: next}
		}
	}
	if s.tracker != nil {
		st.RunningTasks = s.tracker.Snapshot()
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.Cache = &cs
	}
	if s.content != nil {
		cs, err := s.content.Stats(ctx)
		if err != nil {
			logtrace.Warn(ctx, "failed to read content store stats", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: err.Error()}))
		} else {
			st.Content = &cs
		}
	}

	if cpuPct, err := s.metrics.CPUPercent(ctx); err == nil {
		st.CPUPercent = cpuPct
	}
	if m, err := s.metrics.Memory(ctx); err == nil {
		st.Memory = &m
	}
	if s.dataDir != "" {
		if si, err := s.metrics.Storage(ctx, s.dataDir); err == nil {
			st.Storage = &si
		}
	}
	return st
}

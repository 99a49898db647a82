package cmd

import (
	"context"
	"fmt"

	"github.com/LumeraProtocol/notary/notary/allocator"
	"github.com/LumeraProtocol/notary/notary/anchor"
	"github.com/LumeraProtocol/notary/notary/config"
	"github.com/LumeraProtocol/notary/notary/recordcache"
	"github.com/LumeraProtocol/notary/notary/status"
	transporthttp "github.com/LumeraProtocol/notary/notary/transport/http"
	"github.com/LumeraProtocol/notary/pkg/contentstore"
	"github.com/LumeraProtocol/notary/pkg/contentstore/ipfs"
	"github.com/LumeraProtocol/notary/pkg/contentstore/local"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/ledger/simnet"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/storage/kvstore"
	"github.com/LumeraProtocol/notary/pkg/task"
)

// Node owns every long-lived component of a running notary.
type Node struct {
	config *config.Config

	stateStore  *kvstore.SQLiteStore
	ledgerStore *kvstore.SQLiteStore
	localStore  *local.Store

	Ledger  ledger.Client
	Content contentstore.Store
	Alloc   *allocator.Service
	Cache   *recordcache.Cache
	Anchor  *anchor.Service
	Status  *status.Service
	Server  *transporthttp.Server
}

// NewNode opens the stores and wires the pipelines. Close releases them.
func NewNode(ctx context.Context, cfg *config.Config) (n *Node, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	n = &Node{config: cfg}
	defer func() {
		if err != nil {
			n.Close(ctx)
		}
	}()

	logtrace.Info(ctx, "Initializing state store", logtrace.Fields{"file_path": cfg.StateDBPath()})
	if n.stateStore, err = kvstore.NewSQLiteStore(cfg.StateDBPath()); err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	if n.Ledger, err = n.initLedger(ctx); err != nil {
		return nil, err
	}
	if n.Content, err = n.initContentStore(ctx); err != nil {
		return nil, err
	}

	n.Alloc = allocator.New(n.stateStore)
	if n.Cache, err = recordcache.New(n.stateStore, cfg.Cache.MaxItems); err != nil {
		return nil, fmt.Errorf("failed to initialize record cache: %w", err)
	}

	tracker := task.New()
	n.Anchor = anchor.NewService(cfg.AnchorConfig(), n.Content, n.Ledger, n.Alloc, n.Cache, tracker)
	n.Status = status.NewService(cfg.GetDataDir(), n.Ledger, n.Alloc, tracker, n.Cache)
	if n.localStore != nil {
		n.Status.WithContentStats(n.localStore)
	}

	// base64 inflates by 4/3; leave room for the JSON envelope.
	maxBody := cfg.Ingest.SizeLimitBytes/3*4 + 64*1024
	if n.Server, err = transporthttp.NewServer(cfg.API.Host, cfg.API.Port, maxBody, n.Anchor, n.Status); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) initLedger(ctx context.Context) (ledger.Client, error) {
	switch n.config.Ledger.Backend {
	case config.LedgerBackendSimnet:
		logtrace.Info(ctx, "Initializing simulated ledger", logtrace.Fields{"file_path": n.config.LedgerDBPath()})
		store, err := kvstore.NewSQLiteStore(n.config.LedgerDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger store: %w", err)
		}
		n.ledgerStore = store
		return simnet.New(simnet.Options{
			AddressPrefix: n.config.Ledger.AddressPrefix,
			FragmentSize:  n.config.Ledger.FragmentSize,
			Store:         store,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend %q", n.config.Ledger.Backend)
	}
}

func (n *Node) initContentStore(ctx context.Context) (contentstore.Store, error) {
	switch n.config.ContentStore.Backend {
	case config.ContentBackendLocal:
		logtrace.Info(ctx, "Initializing local content store", logtrace.Fields{"file_path": n.config.ContentDBPath()})
		store, err := local.New(n.config.ContentDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open content store: %w", err)
		}
		n.localStore = store
		return store, nil
	case config.ContentBackendIPFS:
		logtrace.Info(ctx, "Initializing IPFS content store", logtrace.Fields{"api_url": n.config.ContentStore.IPFSAPIURL})
		return ipfs.NewClient(ipfs.Options{
			APIURL:  n.config.ContentStore.IPFSAPIURL,
			Timeout: n.config.ContentStore.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported content store backend %q", n.config.ContentStore.Backend)
	}
}

// Run serves the API until ctx is done, then shuts the server down.
func (n *Node) Run(ctx context.Context) error {
	err := n.Server.Run(ctx)
	logtrace.Info(ctx, "Shutting down notary", nil)
	return err
}

// Close releases the stores. It is safe on a partially built Node.
func (n *Node) Close(ctx context.Context) {
	if n.Cache != nil {
		n.Cache.Close()
	}
	logClose := func(name string, err error) {
		if err != nil {
			logtrace.Error(ctx, "Error closing "+name, logtrace.Fields{logtrace.FieldError: err.Error()})
		}
	}
	if n.localStore != nil {
		logClose("content store", n.localStore.Close())
	}
	if n.ledgerStore != nil {
		logClose("ledger store", n.ledgerStore.Close())
	}
	if n.stateStore != nil {
		logClose("state store", n.stateStore.Close())
	}
}

package anchor

import (
	"context"
	"time"

	"github.com/LumeraProtocol/notary/notary/recordcache"
	"github.com/LumeraProtocol/notary/pkg/contentstore"
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/cenkalti/backoff/v4"
)

// call runs fn with a per-attempt timeout, retrying with exponential backoff
// up to MaxRetries times. Errors for which permanent returns true stop the
// retries immediately.
func (s *Service) call(ctx context.Context, op string, timeout time.Duration, permanent func(error) bool, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.RetryInitialInterval
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && permanent != nil && permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.config.MaxRetries), ctx), func(err error, d time.Duration) {
		logtrace.Warn(ctx, "retrying "+op, logtrace.Fields{
			logtrace.FieldMethod: op,
			logtrace.FieldError:  err.Error(),
			"attempt":            attempt,
			"backoff":            d.String(),
		})
	})
}

func isContentNotFound(err error) bool { return errors.IsErr(err, contentstore.ErrNotFound) }

func isLedgerNotFound(err error) bool { return errors.IsErr(err, ledger.ErrNotFound) }

// putContent stores data; content ids are derived from the bytes, so a
// retried put cannot store anything twice.
func (s *Service) putContent(ctx context.Context, data []byte) (string, error) {
	var id string
	err := s.call(ctx, "content store put", s.config.ContentStoreTimeout, nil, func(ctx context.Context) error {
		var err error
		id, err = s.Content.Put(ctx, data)
		return err
	})
	if err != nil {
		return "", errors.E(errors.KindContentStoreUnavailable, "could not store file in content store", err)
	}
	return id, nil
}

func (s *Service) getContent(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := s.call(ctx, "content store get", s.config.ContentStoreTimeout, isContentNotFound, func(ctx context.Context) error {
		var err error
		data, err = s.Content.Get(ctx, id)
		return err
	})
	switch {
	case err == nil:
		return data, nil
	case isContentNotFound(err):
		return nil, errors.E(errors.KindNotFound, "content "+id+" not found in content store", err)
	}
	return nil, errors.E(errors.KindContentStoreUnavailable, "could not fetch content "+id+" from content store", err)
}

func (s *Service) fetchRecord(ctx context.Context, recordID string) (ledger.Record, error) {
	var rec ledger.Record
	err := s.call(ctx, "ledger fetch", s.config.LedgerTimeout, isLedgerNotFound, func(ctx context.Context) error {
		var err error
		rec, err = s.Ledger.Fetch(ctx, recordID)
		return err
	})
	switch {
	case err == nil:
		return rec, nil
	case isLedgerNotFound(err):
		return ledger.Record{}, errors.E(errors.KindNotFound, "ledger record "+recordID+" not found", err)
	}
	return ledger.Record{}, errors.E(errors.KindLedgerUnavailable, "could not fetch ledger record "+recordID, err)
}

func (s *Service) fetchGroup(ctx context.Context, groupID string) ([]ledger.Record, error) {
	var recs []ledger.Record
	err := s.call(ctx, "ledger fetch group", s.config.LedgerTimeout, isLedgerNotFound, func(ctx context.Context) error {
		var err error
		recs, err = s.Ledger.FetchGroup(ctx, groupID)
		return err
	})
	switch {
	case err == nil:
		return recs, nil
	case isLedgerNotFound(err):
		return nil, errors.E(errors.KindNotFound, "ledger bundle "+groupID+" not found", err)
	}
	return nil, errors.E(errors.KindLedgerUnavailable, "could not fetch ledger bundle "+groupID, err)
}

// submit sends message once. A submission is never retried because a second
// attempt would sign again with the same address.
func (s *Service) submit(ctx context.Context, address, message string) ([]string, error) {
	s.limiter.Take()
	callCtx, cancel := context.WithTimeout(ctx, s.config.LedgerTimeout)
	defer cancel()

	ids, err := s.Ledger.Submit(callCtx, address, message, s.config.Network)
	switch {
	case err == nil && len(ids) == 0:
		return nil, errors.Ef(errors.KindLedgerUnavailable, "ledger accepted the submission but returned no record ids")
	case err == nil:
		return ids, nil
	case errors.IsErr(err, ledger.ErrAddressSpent):
		return nil, errors.E(errors.KindInternal, "ledger reports the allocated address as already spent", err)
	}
	return nil, errors.E(errors.KindLedgerUnavailable, "ledger submission failed", err)
}

func streamEvent(ctx context.Context, send func(*Event) error, ev *Event) error {
	if send == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return send(ev)
}

// streamDetached sends ev after the point of no return; a failed send is
// only logged.
func (s *Service) streamDetached(ctx context.Context, send func(*Event) error, ev *Event, f logtrace.Fields) {
	if err := streamEvent(ctx, send, ev); err != nil {
		logtrace.Warn(ctx, "event observer failed; continuing", logtrace.WithFields(f, logtrace.Fields{
			logtrace.FieldError: err.Error(),
			"event":             ev.Type.String(),
		}))
	}
}

// cacheBestEffort logs cache write failures; the cache is never the source
// of truth, so they do not fail the request.
func (s *Service) cacheBestEffort(ctx context.Context, err error, f logtrace.Fields) {
	if err == nil {
		return
	}
	fields := logtrace.WithFields(f, logtrace.Fields{
		logtrace.FieldError:     err.Error(),
		logtrace.FieldErrorKind: errors.KindOf(err).String(),
	})
	if errors.Is(err, errors.KindConsistencyFault) {
		logtrace.Error(ctx, "record cache rejected a ledger record", fields)
		return
	}
	logtrace.Warn(ctx, "record cache write failed", fields)
}

func groupIDOf(rec ledger.Record) string {
	if rec.GroupID != "" {
		return rec.GroupID
	}
	return rec.ID
}

// cacheRecords writes recs, one bundle in order, to the cache and returns
// what was written.
func (s *Service) cacheRecords(ctx context.Context, recs []ledger.Record, f logtrace.Fields) (recordcache.RecordGroup, []recordcache.RecordEntry) {
	if len(recs) == 0 {
		return recordcache.RecordGroup{}, nil
	}
	group := recordcache.RecordGroup{GroupID: groupIDOf(recs[0]), MemberRecordIDs: make([]string, 0, len(recs))}
	entries := make([]recordcache.RecordEntry, 0, len(recs))
	for i, rec := range recs {
		e := recordcache.RecordEntry{RecordID: rec.ID, GroupID: group.GroupID, Index: i, RawMessage: rec.Message}
		s.cacheBestEffort(ctx, s.Cache.PutRecord(ctx, e), f)
		entries = append(entries, e)
		group.MemberRecordIDs = append(group.MemberRecordIDs, rec.ID)
	}
	s.cacheBestEffort(ctx, s.Cache.PutGroup(ctx, group), f)
	return group, entries
}

// failure logs err and returns its kind and message for a result.
func failure(ctx context.Context, msg string, err error, f logtrace.Fields) (errors.Kind, string) {
	kind := errors.KindOf(err)
	if kind == errors.KindUnknown {
		kind = errors.KindInternal
	}
	fields := logtrace.WithFields(f, logtrace.Fields{
		logtrace.FieldError:     err.Error(),
		logtrace.FieldErrorKind: kind.String(),
	})
	switch {
	case kind.InputError():
		logtrace.Info(ctx, msg, fields)
	case kind.Retryable():
		logtrace.Warn(ctx, msg, fields)
	default:
		fields[logtrace.FieldStackTrace] = errors.StackOf(err)
		logtrace.Error(ctx, msg, fields)
	}
	return kind, err.Error()
}

package anchor

import (
	"context"
	"fmt"

	"github.com/LumeraProtocol/notary/pkg/anchorkit"
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/task"
	"github.com/LumeraProtocol/notary/pkg/utils"
	"github.com/google/uuid"
)

// Ingest anchors sub. It never panics and never returns a Go error: every
// failure is reported through the result.
func (s *Service) Ingest(ctx context.Context, sub *Submission) IngestResult {
	return s.IngestStream(ctx, sub, nil)
}

// IngestStream is Ingest with progress events sent to send (which may be
// nil). A send error before address allocation aborts the ingestion; after
// allocation it is logged and the ingestion runs to completion, because the
// allocated index is consumed either way.
func (s *Service) IngestStream(ctx context.Context, sub *Submission, send func(*Event) error) (res IngestResult) {
	taskID := uuid.NewString()
	ctx = logtrace.CtxWithCorrelationID(ctx, taskID)
	ctx = logtrace.CtxWithOrigin(ctx, "ingest")
	fields := logtrace.Fields{logtrace.FieldMethod: "Ingest", logtrace.FieldTaskID: taskID}

	res.TaskID = taskID
	fail := func(msg string, err error) IngestResult {
		res.Success = false
		res.Kind, res.Message = failure(ctx, msg, err, fields)
		return res
	}
	defer errors.Recover(func(err error) {
		res = fail("ingest: panic", errors.E(errors.KindInternal, "ingestion aborted unexpectedly", err))
	})

	// Step 1: Validate fields and the declared hash; no side effects yet
	if err := s.validateSubmission(sub); err != nil {
		return fail("ingest: invalid submission", err)
	}
	fields[logtrace.FieldFileName] = sub.Name
	fields[logtrace.FieldSizeBytes] = len(sub.Data)
	fields[logtrace.FieldAlgorithm] = string(sub.HashAlgorithm)
	logtrace.Info(ctx, "ingest: request", fields)

	hash, err := anchorkit.VerifyDeclaredHash(sub.HashAlgorithm, sub.Data, sub.DeclaredHash)
	if err != nil {
		return fail("ingest: declared hash rejected", err)
	}
	fields[logtrace.FieldHashHex] = hash

	// Step 2: Size checks precede any network call
	size, err := s.checkSize(sub)
	if err != nil {
		return fail("ingest: size rejected", err)
	}
	if err := streamEvent(ctx, send, &Event{Type: EventTypeHashVerified, Message: "Hash verified"}); err != nil {
		return fail("ingest: observer gone", errors.E(errors.KindInternal, "ingestion cancelled by observer", err))
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fail("ingest: not admitted", errors.E(errors.KindInternal, "ingestion cancelled while waiting for a slot", err))
	}
	defer s.sem.Release(1)

	h := task.StartWith(s.Tasks, ctx, task.ServiceIngest, taskID, s.config.TaskTimeout)
	defer h.End(ctx)

	// Step 3: Store the bytes; no address is allocated if this fails
	contentID, err := s.putContent(ctx, sub.Data)
	if err != nil {
		return fail("ingest: content store failed", err)
	}
	res.ContentID = contentID
	fields[logtrace.FieldContentID] = contentID
	logtrace.Info(ctx, "ingest: content stored", fields)
	if err := streamEvent(ctx, send, &Event{Type: EventTypeContentStored, Message: "Content stored", ContentID: contentID}); err != nil {
		return fail("ingest: observer gone", errors.E(errors.KindInternal, "ingestion cancelled by observer", err))
	}

	payload, err := anchorkit.NewPayload(sub.Name, sub.Description, size, sub.ModifiedAt, sub.HashAlgorithm, hash, contentID)
	if err != nil {
		return fail("ingest: payload rejected", err)
	}
	message, err := anchorkit.Encode(payload)
	if err != nil {
		return fail("ingest: payload rejected", err)
	}

	// Caller cancellation is honored up to here
	if err := ctx.Err(); err != nil {
		return fail("ingest: cancelled", errors.E(errors.KindInternal, "ingestion cancelled before address allocation", err))
	}

	// Step 4: Allocate; from here on the index is consumed whatever happens
	alloc, err := s.Alloc.AllocateNext(ctx)
	if err != nil {
		return fail("ingest: address allocation failed", err)
	}
	ctx = context.WithoutCancel(ctx)
	fields[logtrace.FieldIndex] = alloc.Index
	logtrace.Info(ctx, "ingest: address index allocated", fields)
	s.streamDetached(ctx, send, &Event{Type: EventTypeAddressAllocated, Message: fmt.Sprintf("Address index %d allocated", alloc.Index)}, fields)
	s.streamDetached(ctx, send, &Event{Type: EventTypePayloadEncoded, Message: "Payload encoded"}, fields)

	// Step 5: Derive the one-time address and submit
	address, err := s.Ledger.DeriveAddress(alloc.Seed, alloc.Index)
	if err != nil {
		return fail("ingest: address derivation failed",
			errors.E(errors.KindInternal, fmt.Sprintf("could not derive address for index %d (index consumed)", alloc.Index), err))
	}
	fields[logtrace.FieldAddress] = address

	ids, err := s.submit(ctx, address, message)
	if err != nil {
		return fail("ingest: ledger submission failed",
			errors.E(errors.KindOf(err), fmt.Sprintf("file stored as %s but not anchored; address index %d consumed", contentID, alloc.Index), err))
	}
	res.RecordID = ids[0]
	fields[logtrace.FieldRecordID] = ids[0]
	fields["records"] = len(ids)
	logtrace.Info(ctx, "ingest: payload anchored", fields)
	s.streamDetached(ctx, send, &Event{Type: EventTypeSubmitted, Message: "Payload anchored", ContentID: contentID, RecordID: ids[0]}, fields)

	// Step 6: Populate the cache
	s.cacheSubmission(ctx, ids, fields)
	s.streamDetached(ctx, send, &Event{Type: EventTypeRecordsCached, Message: "Records cached", ContentID: contentID, RecordID: ids[0]}, fields)

	// Step 7: Report
	res.Success = true
	res.Kind = errors.KindUnknown
	res.Message = "file anchored"
	return res
}

func (s *Service) validateSubmission(sub *Submission) error {
	switch {
	case sub == nil:
		return errors.Ef(errors.KindValidation, "submission is required")
	case sub.Name == "":
		return errors.Ef(errors.KindValidation, "name is required")
	case !sub.HashAlgorithm.Valid():
		return errors.Ef(errors.KindValidation, "unsupported hash algorithm %q", string(sub.HashAlgorithm))
	}
	if _, err := utils.NormalizeHashHex(sub.DeclaredHash); err != nil {
		return errors.E(errors.KindValidation, "invalid hash", err)
	}
	return nil
}

// checkSize returns the size to record: the declared size, or the byte
// count when none was declared.
func (s *Service) checkSize(sub *Submission) (uint64, error) {
	n := int64(len(sub.Data))
	switch {
	case n == 0:
		return 0, errors.Ef(errors.KindEmptyFile, "file is empty")
	case n >= s.config.SizeLimitBytes:
		return 0, errors.Ef(errors.KindFileTooLarge, "file is %d bytes; the limit is %d", n, s.config.SizeLimitBytes)
	case sub.SizeBytes != 0 && sub.SizeBytes != uint64(n):
		return 0, errors.Ef(errors.KindValidation, "declared size %d does not match the %d bytes received", sub.SizeBytes, n)
	}
	return uint64(n), nil
}

// cacheSubmission reads the new bundle back and caches it. The records are
// on the ledger already, so failures here are logged and do not fail the
// ingestion; verification reads through to the ledger instead.
func (s *Service) cacheSubmission(ctx context.Context, ids []string, f logtrace.Fields) {
	first, err := s.fetchRecord(ctx, ids[0])
	if err != nil {
		logtrace.Warn(ctx, "ingest: could not read back anchored record", logtrace.WithFields(f, logtrace.Fields{logtrace.FieldError: err.Error()}))
		return
	}
	recs := []ledger.Record{first}
	if first.LastIndex > 0 {
		if recs, err = s.fetchGroup(ctx, groupIDOf(first)); err != nil {
			logtrace.Warn(ctx, "ingest: could not read back anchored bundle", logtrace.WithFields(f, logtrace.Fields{logtrace.FieldError: err.Error()}))
			return
		}
	}
	s.cacheRecords(ctx, recs, f)
}

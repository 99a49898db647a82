package anchor

import (
	"context"
	"slices"
	"strings"

	"github.com/LumeraProtocol/notary/pkg/anchorkit"
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/ledger"
	"github.com/LumeraProtocol/notary/pkg/logtrace"
	"github.com/LumeraProtocol/notary/pkg/task"
	"github.com/google/uuid"
)

// Verify checks the file anchored at recordID. Any member record of a
// bundle resolves the whole bundle. Concurrent calls for the same id share
// one run and each gets its own copy of the result. IsValid is true only
// when the payload decoded, the content store returned the file and its
// hash equals the declared hash.
func (s *Service) Verify(ctx context.Context, recordID string) VerifyResult {
	v, _, _ := s.sf.Do(recordID, func() (any, error) {
		return s.verify(context.WithoutCancel(ctx), recordID), nil
	})
	res := v.(VerifyResult)
	res.FileBytes = slices.Clone(res.FileBytes)
	if res.Payload != nil {
		p := *res.Payload
		res.Payload = &p
	}
	return res
}

func (s *Service) verify(ctx context.Context, recordID string) (res VerifyResult) {
	taskID := uuid.NewString()
	ctx = logtrace.CtxWithCorrelationID(ctx, taskID)
	ctx = logtrace.CtxWithOrigin(ctx, "verify")
	fields := logtrace.Fields{logtrace.FieldMethod: "Verify", logtrace.FieldTaskID: taskID, logtrace.FieldRecordID: recordID}

	res.TaskID = taskID
	res.RecordID = recordID
	fail := func(msg string, err error) VerifyResult {
		res.Success = false
		res.IsValid = false
		res.Kind, res.Message = failure(ctx, msg, err, fields)
		return res
	}
	defer errors.Recover(func(err error) {
		res = fail("verify: panic", errors.E(errors.KindInternal, "verification aborted unexpectedly", err))
	})

	if strings.TrimSpace(recordID) == "" {
		return fail("verify: invalid request", errors.Ef(errors.KindValidation, "transaction hash is required"))
	}
	logtrace.Info(ctx, "verify: request", fields)

	h := task.StartWith(s.Tasks, ctx, task.ServiceVerify, taskID, s.config.TaskTimeout)
	defer h.End(ctx)

	// Step 1: Resolve the bundle, cache first
	message, err := s.resolveMessage(ctx, recordID, fields)
	if err != nil {
		return fail("verify: record not resolved", err)
	}

	// Step 2: Decode; foreign or damaged records are invalid, not errors
	payload, err := anchorkit.Decode(message)
	if err != nil {
		return fail("verify: payload not decoded", err)
	}
	res.Payload = &payload
	res.ContentID = payload.ContentID
	fields[logtrace.FieldContentID] = payload.ContentID
	fields[logtrace.FieldFileName] = payload.Name

	// Step 3: Fetch the file
	data, err := s.getContent(ctx, payload.ContentID)
	if err != nil {
		return fail("verify: content not fetched", err)
	}
	res.FileBytes = data
	if ider, ok := s.Content.(contentIDer); ok {
		id, err := ider.IDFor(ctx, data)
		if err != nil {
			logtrace.Warn(ctx, "verify: content id not recomputed", logtrace.WithFields(fields, logtrace.Fields{logtrace.FieldError: err.Error()}))
		}
		res.RecomputedContentHash = id
	}

	// Step 4: Recompute and compare
	got, err := anchorkit.VerifyDeclaredHash(payload.HashAlgorithm, data, payload.DeclaredHash)
	res.RecomputedFileHash = got
	if err != nil {
		return fail("verify: file does not match anchored hash", err)
	}

	res.Success = true
	res.IsValid = true
	res.Kind = errors.KindUnknown
	res.Message = "file matches the anchored record"
	logtrace.Info(ctx, "verify: file verified", fields)
	return res
}

// resolveMessage returns the full message of the bundle containing
// recordID, reading through the cache to the ledger.
func (s *Service) resolveMessage(ctx context.Context, recordID string, f logtrace.Fields) (string, error) {
	entry, ok, err := s.Cache.GetRecord(ctx, recordID)
	if err != nil {
		logtrace.Warn(ctx, "verify: record cache read failed; using ledger", logtrace.WithFields(f, logtrace.Fields{logtrace.FieldError: err.Error()}))
		ok = false
	}
	if !ok {
		return s.resolveFromLedger(ctx, recordID, f)
	}
	f[logtrace.FieldGroupID] = entry.GroupID

	group, ok, err := s.Cache.GetGroup(ctx, entry.GroupID)
	if err != nil || !ok {
		return s.resolveFromLedger(ctx, recordID, f)
	}

	var sb strings.Builder
	for _, id := range group.MemberRecordIDs {
		member := entry
		if id != entry.RecordID {
			member, ok, err = s.Cache.GetRecord(ctx, id)
			if err != nil || !ok {
				return s.resolveFromLedger(ctx, recordID, f)
			}
		}
		sb.WriteString(member.RawMessage)
	}
	logtrace.Debug(ctx, "verify: bundle served from cache", f)
	return sb.String(), nil
}

func (s *Service) resolveFromLedger(ctx context.Context, recordID string, f logtrace.Fields) (string, error) {
	rec, err := s.fetchRecord(ctx, recordID)
	if err != nil {
		return "", err
	}
	f[logtrace.FieldGroupID] = groupIDOf(rec)

	recs := []ledger.Record{rec}
	if rec.LastIndex > 0 {
		if recs, err = s.fetchGroup(ctx, groupIDOf(rec)); err != nil {
			return "", err
		}
	}
	_, entries := s.cacheRecords(ctx, recs, f)

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.RawMessage)
	}
	logtrace.Debug(ctx, "verify: bundle fetched from ledger", f)
	return sb.String(), nil
}

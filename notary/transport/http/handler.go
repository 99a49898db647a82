package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/LumeraProtocol/notary/notary/anchor"
	"github.com/LumeraProtocol/notary/pkg/errors"
	"github.com/LumeraProtocol/notary/pkg/utils"
	"github.com/gin-gonic/gin"
)

// IngestRequest is the body of POST /api/v1/ingest. Modified is milliseconds
// since the Unix epoch; Data is base64 in JSON.
type IngestRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Size        uint64 `json:"size"`
	Modified    int64  `json:"modified"`
	Algorithm   string `json:"algorithm"`
	Hash        string `json:"hash"`
	Data        []byte `json:"data"`
}

type IngestResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	TransactionHash string `json:"transactionHash,omitempty"`
	ContentID       string `json:"contentId,omitempty"`
	Retryable       bool   `json:"retryable"`
}

type VerifyRequest struct {
	TransactionHash string `json:"transactionHash"`
}

type VerifyResponse struct {
	Success               bool   `json:"success"`
	IsValid               bool   `json:"isValid"`
	Message               string `json:"message"`
	Retryable             bool   `json:"retryable"`
	TransactionHash       string `json:"transactionHash"`
	Name                  string `json:"name,omitempty"`
	Description           string `json:"description,omitempty"`
	Size                  uint64 `json:"size,omitempty"`
	Modified              int64  `json:"modified,omitempty"`
	Algorithm             string `json:"algorithm,omitempty"`
	Hash                  string `json:"hash,omitempty"`
	ContentID             string `json:"contentId,omitempty"`
	RecomputedFileHash    string `json:"recomputedFileHash,omitempty"`
	RecomputedContentHash string `json:"recomputedContentHash,omitempty"`
	Data                  []byte `json:"data,omitempty"`
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.maxBody > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxBody)
	}
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, IngestResponse{Message: "invalid request body: " + err.Error()})
		return
	}

	alg, err := utils.ParseHashAlgorithm(req.Algorithm)
	if err != nil {
		c.JSON(http.StatusBadRequest, IngestResponse{Message: err.Error()})
		return
	}
	sub := &anchor.Submission{
		Name:          req.Name,
		Description:   req.Description,
		SizeBytes:     req.Size,
		HashAlgorithm: alg,
		DeclaredHash:  req.Hash,
		Data:          req.Data,
	}
	if req.Modified != 0 {
		sub.ModifiedAt = time.UnixMilli(req.Modified)
	}

	res := s.anchor.Ingest(c.Request.Context(), sub)
	c.JSON(ingestStatus(res), IngestResponse{
		Success:         res.Success,
		Message:         res.Message,
		TransactionHash: res.RecordID,
		ContentID:       res.ContentID,
		Retryable:       res.Retryable(),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, VerifyResponse{Message: "invalid request body: " + err.Error()})
		return
	}
	s.respondVerify(c, req.TransactionHash, false)
}

func (s *Server) handleGetRecord(c *gin.Context) {
	s.respondVerify(c, c.Param("id"), true)
}

func (s *Server) respondVerify(c *gin.Context, recordID string, withData bool) {
	recordID = strings.TrimSpace(recordID)
	res := s.anchor.Verify(c.Request.Context(), recordID)

	out := VerifyResponse{
		Success:               res.Success,
		IsValid:               res.IsValid,
		Message:               res.Message,
		Retryable:             res.Retryable(),
		TransactionHash:       recordID,
		RecomputedFileHash:    res.RecomputedFileHash,
		RecomputedContentHash: res.RecomputedContentHash,
	}
	if p := res.Payload; p != nil {
		out.Name = p.Name
		out.Description = p.Description
		out.Size = p.SizeBytes
		out.Algorithm = string(p.HashAlgorithm)
		out.Hash = p.DeclaredHash
		out.ContentID = p.ContentID
		if !p.ModifiedAt.IsZero() {
			out.Modified = p.ModifiedAt.UnixMilli()
		}
	}
	if withData && res.IsValid {
		out.Data = res.FileBytes
	}
	c.JSON(verifyStatus(res), out)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status not available"})
		return
	}
	c.JSON(http.StatusOK, s.status.GetStatus(c.Request.Context()))
}

func ingestStatus(res anchor.IngestResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.InputError():
		return http.StatusBadRequest
	case res.Retryable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// verifyStatus treats an invalid record as unprocessable rather than as a
// client error: the caller supplied a well-formed id.
func verifyStatus(res anchor.VerifyResult) int {
	switch {
	case res.Success:
		return http.StatusOK
	case res.Kind == errors.KindNotFound:
		return http.StatusNotFound
	case res.Kind == errors.KindValidation:
		return http.StatusBadRequest
	case res.Kind == errors.KindHashMismatch, res.Kind == errors.KindMalformedPayload:
		return http.StatusUnprocessableEntity
	case res.Retryable():
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

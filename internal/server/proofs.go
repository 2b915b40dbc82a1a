package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	manualreviewdomain "github.com/smallbiznis/pixorder/internal/manualreview/domain"
	obscontext "github.com/smallbiznis/pixorder/internal/observability/context"
)

type proofUploadURLRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

type submitProofRequest struct {
	FilePath string `json:"file_path" binding:"required"`
}

type reviewProofRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
}

func (s *Server) CreateProofUploadURL(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req proofUploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	resp, err := s.proofSvc.PresignUpload(c.Request.Context(), manualreviewdomain.UploadURLRequest{
		OrderID:     strings.TrimSpace(c.Param("id")),
		UploaderID:  identity.SubjectID,
		Filename:    req.Filename,
		ContentType: req.ContentType,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) SubmitProof(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	orderID := strings.TrimSpace(c.Param("id"))
	c.Set(obscontext.GinKeyOrderID, orderID)
	resp, err := s.proofSvc.SubmitProof(c.Request.Context(), manualreviewdomain.SubmitProofRequest{
		OrderID:    orderID,
		UploaderID: identity.SubjectID,
		FilePath:   req.FilePath,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) ListOrderProofs(c *gin.Context) {
	resp, err := s.proofSvc.ListProofs(c.Request.Context(), strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ReviewProof(c *gin.Context) {
	identity, ok := identityFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req reviewProofRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingErrors(err))
		return
	}

	resp, err := s.proofSvc.Review(c.Request.Context(), manualreviewdomain.ReviewRequest{
		ProofID:  strings.TrimSpace(c.Param("id")),
		AdminID:  identity.SubjectID,
		Decision: manualreviewdomain.Decision(req.Decision),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

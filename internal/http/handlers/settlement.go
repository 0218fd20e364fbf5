package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/siiriylonen/NDL-VuFind2-sub001/internal/settlement"
)

type SettlementService interface {
	ProcessReport(ctx context.Context, csvReader io.Reader) (*settlement.Result, error)
}

type SettlementHandler struct {
	settlements    SettlementService
	maxUploadBytes int64
}

func NewSettlementHandler(settlements SettlementService, maxUploadBytes int64) *SettlementHandler {
	return &SettlementHandler{settlements: settlements, maxUploadBytes: maxUploadBytes}
}

// UploadReport ingests the gateway's settlement CSV and reports
// discrepancies against the recorded transactions.
func (h *SettlementHandler) UploadReport(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_file"})
		return
	}
	if h.maxUploadBytes > 0 && file.Size > h.maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file_too_large"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_file"})
		return
	}
	defer src.Close()

	result, err := h.settlements.ProcessReport(c.Request.Context(), src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report_failed"})
		return
	}

	if len(result.Errors) > 0 {
		c.JSON(http.StatusBadRequest, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

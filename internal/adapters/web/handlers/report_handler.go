package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lcalzada-xor/ztcore/internal/adapters/reporting"
	reportingService "github.com/lcalzada-xor/ztcore/internal/core/services/reporting"
)

// ReportHandler generates the security posture report, as JSON for the
// dashboard and as a PDF download.
type ReportHandler struct {
	Reports *reportingService.Service
	PDF     *reporting.PDFExporter
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reports *reportingService.Service, pdf *reporting.PDFExporter) *ReportHandler {
	return &ReportHandler{
		Reports: reports,
		PDF:     pdf,
	}
}

// HandleSecurityReport returns the full report as JSON. ?window=
// accepts a Go duration (e.g. 24h, 7h30m).
func (h *ReportHandler) HandleSecurityReport(w http.ResponseWriter, r *http.Request) {
	window, ok := reportWindow(w, r)
	if !ok {
		return
	}

	report, err := h.Reports.Generate(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleSecurityReportPDF renders the same report as a PDF attachment.
func (h *ReportHandler) HandleSecurityReportPDF(w http.ResponseWriter, r *http.Request) {
	window, ok := reportWindow(w, r)
	if !ok {
		return
	}

	report, err := h.Reports.Generate(r.Context(), window)
	if err != nil {
		writeError(w, err)
		return
	}

	pdf, err := h.PDF.Export(report)
	if err != nil {
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("ztcore_report_%s.pdf", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := w.Write(pdf); err != nil {
		// Header already sent, nothing left to do.
		return
	}
}

// reportWindow parses the optional ?window= duration. A zero return
// with ok lets the service apply its default.
func reportWindow(w http.ResponseWriter, r *http.Request) (time.Duration, bool) {
	raw := r.URL.Query().Get("window")
	if raw == "" {
		return 0, true
	}
	window, err := time.ParseDuration(raw)
	if err != nil || window <= 0 {
		writeBadRequest(w, "window must be a positive duration")
		return 0, false
	}
	return window, true
}

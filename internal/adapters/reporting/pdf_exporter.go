package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/lcalzada-xor/ztcore/internal/core/domain"
)

// PDFExporter renders the security report into a printable PDF.
type PDFExporter struct{}

// NewPDFExporter creates a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Export generates the report PDF: header, risk score box, statistics,
// top-risk table and recommendations.
func (e *PDFExporter) Export(report *domain.ReportData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	e.addHeader(pdf, report)
	e.addRiskScore(pdf, report)
	e.addStatistics(pdf, report)
	e.addTopRisks(pdf, report)
	e.addRecommendations(pdf, report)
	e.addFooter(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// addHeader adds the report title and the reporting window.
func (e *PDFExporter) addHeader(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	pdf.SetFont("Arial", "B", 24)
	pdf.SetTextColor(0, 51, 102) // Dark blue
	pdf.CellFormat(0, 15, "Zero Trust Security Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(120, 120, 120)
	dateStr := fmt.Sprintf("Generated: %s", report.GeneratedAt.Format("2006-01-02 15:04"))
	pdf.CellFormat(0, 6, dateStr, "", 1, "L", false, 0, "")

	if report.Window > 0 {
		start := report.GeneratedAt.Add(-report.Window)
		periodStr := fmt.Sprintf("Reporting window: %s to %s (%s)",
			start.Format("2006-01-02 15:04"),
			report.GeneratedAt.Format("2006-01-02 15:04"),
			formatWindow(report.Window))
		pdf.CellFormat(0, 6, periodStr, "", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
}

// formatWindow renders the window without trailing zero units.
func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24 hours"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.Truncate(time.Minute).String()
}

// addRiskScore draws the prominent posture score box.
func (e *PDFExporter) addRiskScore(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	score := report.Stats.RiskScore()
	r, g, b := e.getRiskColor(score)

	pdf.SetFillColor(r, g, b)
	pdf.Rect(20, pdf.GetY(), 170, 30, "F")

	y := pdf.GetY()

	pdf.SetFont("Arial", "B", 36)
	pdf.SetTextColor(255, 255, 255)
	pdf.SetXY(25, y+5)
	scoreStr := fmt.Sprintf("%.1f/10", score)
	pdf.CellFormat(80, 20, scoreStr, "", 0, "L", false, 0, "")

	pdf.SetFont("Arial", "B", 18)
	pdf.SetXY(110, y+8)
	levelStr := fmt.Sprintf("%s Risk", report.Stats.RiskLevel())
	pdf.CellFormat(80, 14, levelStr, "", 0, "L", false, 0, "")

	pdf.SetY(y + 35)
	pdf.Ln(5)
}

// getRiskColor returns RGB for the posture score buckets.
func (e *PDFExporter) getRiskColor(score float64) (r, g, b int) {
	switch {
	case score >= 8.0:
		return 220, 53, 69 // Red (Critical)
	case score >= 6.0:
		return 255, 149, 0 // Orange (High)
	case score >= 2.0:
		return 255, 204, 0 // Yellow (Moderate/Elevated)
	default:
		return 52, 199, 89 // Green (Low)
	}
}

// addStatistics adds the fleet and activity overview grid.
func (e *PDFExporter) addStatistics(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Fleet Overview", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	s := report.Stats
	highAlerts := s.AlertsBySeverity[domain.SeverityCritical] + s.AlertsBySeverity[domain.SeverityHigh]
	var totalAlerts int
	for _, n := range s.AlertsBySeverity {
		totalAlerts += n
	}
	var totalDecisions, restrictive int
	for d, n := range s.DecisionBreakdown {
		totalDecisions += n
		if d == domain.DecisionDeny || d == domain.DecisionQuarantine {
			restrictive += n
		}
	}

	stats := []struct {
		label string
		value string
		color []int
	}{
		{"Total Devices", fmt.Sprintf("%d", s.TotalDevices), []int{0, 102, 204}},
		{"Active", fmt.Sprintf("%d", s.ActiveDevices), []int{52, 199, 89}},
		{"Profiling", fmt.Sprintf("%d", s.ProfilingDevices), []int{0, 102, 204}},
		{"Pending Approval", fmt.Sprintf("%d", s.PendingDevices), []int{255, 204, 0}},
		{"Quarantined", fmt.Sprintf("%d", s.QuarantinedCount), []int{220, 53, 69}},
		{"Revoked", fmt.Sprintf("%d", s.RevokedCount), []int{150, 150, 150}},
		{"Average Trust", fmt.Sprintf("%.0f/100", s.AvgTrust), []int{0, 102, 204}},
		{"Low Trust (<50)", fmt.Sprintf("%d", s.LowTrustDevices), []int{255, 149, 0}},
		{"Alerts in Window", fmt.Sprintf("%d", totalAlerts), []int{0, 102, 204}},
		{"High/Critical Alerts", fmt.Sprintf("%d", highAlerts), []int{220, 53, 69}},
		{"Decisions Applied", fmt.Sprintf("%d", totalDecisions), []int{0, 102, 204}},
		{"Deny/Quarantine", fmt.Sprintf("%d", restrictive), []int{255, 149, 0}},
		{"Active Threats", fmt.Sprintf("%d", s.ActiveThreats), []int{220, 53, 69}},
		{"Permanent Blocks", fmt.Sprintf("%d", s.PermanentBlocks), []int{0, 102, 204}},
	}

	// Two-column grid.
	colWidth := 85.0
	for i, stat := range stats {
		x := 20.0
		if i%2 == 1 {
			x = 105.0
		}

		pdf.SetXY(x, pdf.GetY())

		pdf.SetFont("Arial", "", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(50, 7, stat.label+":", "", 0, "L", false, 0, "")

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(stat.color[0], stat.color[1], stat.color[2])
		pdf.CellFormat(colWidth-50, 7, stat.value, "", 0, "R", false, 0, "")

		if i%2 == 1 {
			pdf.Ln(7)
		}
	}

	pdf.Ln(10)
}

// addTopRisks adds the ranked device risk table.
func (e *PDFExporter) addTopRisks(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Devices Needing Attention", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(report.TopRisks) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 7, "No devices need attention", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(60, 60, 60)

	pdf.CellFormat(12, 8, "#", "1", 0, "C", true, 0, "")
	pdf.CellFormat(38, 8, "Device", "1", 0, "L", true, 0, "")
	pdf.CellFormat(18, 8, "Trust", "1", 0, "C", true, 0, "")
	pdf.CellFormat(30, 8, "Decision", "1", 0, "C", true, 0, "")
	pdf.CellFormat(72, 8, "Why", "1", 1, "L", true, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, risk := range report.TopRisks {
		dr, dg, db := e.getDecisionColor(risk.Decision)

		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(12, 7, fmt.Sprintf("%d", risk.Rank), "1", 0, "C", false, 0, "")

		device := risk.DeviceID
		if len(device) > 22 {
			device = device[:19] + "..."
		}
		pdf.CellFormat(38, 7, device, "1", 0, "L", false, 0, "")

		tr, tg, tb := e.getTrustColor(risk.Trust)
		pdf.SetTextColor(tr, tg, tb)
		pdf.CellFormat(18, 7, fmt.Sprintf("%d", risk.Trust), "1", 0, "C", false, 0, "")

		pdf.SetTextColor(dr, dg, db)
		pdf.CellFormat(30, 7, string(risk.Decision), "1", 0, "C", false, 0, "")

		reason := risk.Reason
		if len(reason) > 48 {
			reason = reason[:45] + "..."
		}
		pdf.SetTextColor(60, 60, 60)
		pdf.CellFormat(72, 7, reason, "1", 1, "L", false, 0, "")
	}

	pdf.Ln(8)
}

// getTrustColor returns RGB for a trust score.
func (e *PDFExporter) getTrustColor(trust int) (r, g, b int) {
	switch {
	case trust < 30:
		return 220, 53, 69 // Red
	case trust < 50:
		return 255, 149, 0 // Orange
	case trust < 70:
		return 255, 204, 0 // Yellow
	default:
		return 52, 199, 89 // Green
	}
}

// getDecisionColor returns RGB for a decision verdict.
func (e *PDFExporter) getDecisionColor(d domain.Decision) (r, g, b int) {
	switch d {
	case domain.DecisionQuarantine:
		return 220, 53, 69 // Red
	case domain.DecisionDeny:
		return 255, 149, 0 // Orange
	case domain.DecisionRedirect:
		return 255, 204, 0 // Yellow
	default:
		return 52, 199, 89 // Green
	}
}

// addRecommendations adds the prioritized action items.
func (e *PDFExporter) addRecommendations(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(0, 51, 102)
	pdf.CellFormat(0, 10, "Priority Recommendations", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	for i, rec := range report.Recommendations {
		if i >= 5 {
			break
		}
		if pdf.GetY() > 250 {
			pdf.AddPage()
		}

		// Priority badge
		r, g, b := e.getPriorityColor(rec.Priority)
		pdf.SetFillColor(r, g, b)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Arial", "B", 9)
		pdf.CellFormat(25, 6, rec.Priority, "", 0, "C", true, 0, "")

		pdf.SetFont("Arial", "B", 11)
		pdf.SetTextColor(0, 51, 102)
		pdf.CellFormat(0, 6, "  "+rec.Title, "", 1, "L", false, 0, "")
		pdf.Ln(1)

		pdf.SetFont("Arial", "", 9)
		pdf.SetTextColor(60, 60, 60)
		pdf.MultiCell(0, 5, rec.Description, "", "L", false)
		pdf.Ln(1)

		pdf.SetFont("Arial", "B", 9)
		pdf.SetTextColor(80, 80, 80)
		pdf.CellFormat(0, 5, "Actions:", "", 1, "L", false, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, action := range rec.Actions {
			if len(action) > 100 {
				action = action[:97] + "..."
			}
			pdf.CellFormat(5, 5, "", "", 0, "L", false, 0, "")
			pdf.CellFormat(0, 5, "- "+action, "", 1, "L", false, 0, "")
		}

		if rec.EstimatedEffort != "" {
			pdf.SetFont("Arial", "I", 8)
			pdf.SetTextColor(100, 100, 100)
			pdf.CellFormat(0, 5, fmt.Sprintf("Estimated Effort: %s", rec.EstimatedEffort), "", 1, "L", false, 0, "")
		}

		pdf.Ln(5)
	}
}

// getPriorityColor returns RGB for a recommendation priority.
func (e *PDFExporter) getPriorityColor(priority string) (r, g, b int) {
	switch priority {
	case "critical":
		return 220, 53, 69 // Red
	case "high":
		return 255, 149, 0 // Orange
	case "medium":
		return 255, 204, 0 // Yellow
	default:
		return 52, 199, 89 // Green
	}
}

// addFooter adds the attribution line.
func (e *PDFExporter) addFooter(pdf *gofpdf.Fpdf, report *domain.ReportData) {
	pdf.SetY(-20)

	pdf.SetDrawColor(200, 200, 200)
	pdf.Line(20, pdf.GetY(), 190, pdf.GetY())
	pdf.Ln(3)

	pdf.SetFont("Arial", "I", 8)
	pdf.SetTextColor(120, 120, 120)
	footerText := fmt.Sprintf("ztcore zero trust policy core | Generated by %s", report.GeneratedBy)
	pdf.CellFormat(0, 5, footerText, "", 1, "C", false, 0, "")
}

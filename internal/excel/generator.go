package excel

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/status"
)

// AuditExport is everything needed for one quotation's audit workbook.
type AuditExport struct {
	Quotation  model.Quotation
	Display    status.Display
	Activities []model.Activity
}

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate writes a two-sheet workbook: quotation facts plus the full
// activity trail, newest first, as stored.
func (g *Generator) Generate(export AuditExport) ([]byte, error) {
	file := excelize.NewFile()

	summarySheet := "Summary"
	file.SetSheetName("Sheet1", summarySheet)
	if err := g.writeSummary(file, summarySheet, export); err != nil {
		return nil, err
	}

	activitySheet := "Activity"
	file.NewSheet(activitySheet)
	if err := g.writeActivities(file, activitySheet, export.Activities); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, sheet string, export AuditExport) error {
	q := export.Quotation

	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	set("A1", "Quote number")
	set("B1", fmt.Sprintf("QUO-%06d", q.QuoteNumber))
	set("A2", "Title")
	set("B2", q.Title)
	set("A3", "Customer")
	set("B3", q.CustomerName)
	set("A4", "Customer email")
	set("B4", q.CustomerEmail)
	set("A5", "Status")
	set("B5", export.Display.Label)
	set("A6", "Stored status")
	set("B6", string(q.Status))
	set("A7", "Total")
	set("B7", model.FormatMoney(q.TotalAmount, q.Currency))
	set("A8", "Created")
	set("B8", formatDateTime(q.CreatedAt))
	set("A9", "Sent")
	set("B9", formatTimePtr(q.SentAt))
	set("A10", "Approved")
	set("B10", formatTimePtr(q.ApprovedAt))
	set("A11", "Rejected")
	set("B11", formatTimePtr(q.RejectedAt))
	set("A12", "Payment completed")
	set("B12", formatTimePtr(q.PaymentCompletedAt))
	set("A13", "Activity entries")
	set("B13", len(export.Activities))

	_ = file.SetColWidth(sheet, "A", "A", 24)
	_ = file.SetColWidth(sheet, "B", "B", 40)
	return nil
}

func (g *Generator) writeActivities(file *excelize.File, sheet string, activities []model.Activity) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(sheet, cell, value)
	}

	headers := []string{"Time", "Action", "Actor", "Details"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, activity := range activities {
		row := i + 2
		set(fmt.Sprintf("A%d", row), formatDateTime(activity.CreatedAt))
		set(fmt.Sprintf("B%d", row), activity.Action)
		set(fmt.Sprintf("C%d", row), actorLabel(activity))
		set(fmt.Sprintf("D%d", row), detailsLabel(activity.Details))
	}

	_ = file.SetColWidth(sheet, "A", "A", 20)
	_ = file.SetColWidth(sheet, "B", "B", 24)
	_ = file.SetColWidth(sheet, "C", "C", 40)
	_ = file.SetColWidth(sheet, "D", "D", 60)
	return nil
}

func actorLabel(activity model.Activity) string {
	if activity.UserID != nil {
		return activity.UserID.String()
	}
	if label, ok := activity.Details["actor"].(string); ok && label != "" {
		return label
	}
	return "system"
}

func detailsLabel(details map[string]any) string {
	if len(details) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", details)
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatDateTime(*t)
}

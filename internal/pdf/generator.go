package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/driventa/quotation-service/internal/model"
	"github.com/driventa/quotation-service/internal/pricing"
	"github.com/driventa/quotation-service/internal/status"
)

type Generator struct {
	fontName string
}

func NewGenerator() (*Generator, error) {
	return &Generator{fontName: "Helvetica"}, nil
}

// RenderQuotation produces the customer-facing quotation document with the
// full pricing breakdown, not just the final total.
func (g *Generator) RenderQuotation(q model.Quotation, totals pricing.Totals, display status.Display) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont(g.fontName, "B", 16)
	pdf.CellFormat(0, 10, "QUOTATION", "", 1, "C", false, 0, "")

	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Quote No. QUO-%06d - %s", q.QuoteNumber, formatDate(q.CreatedAt)), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Status: %s", display.Label), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	g.addCustomerBlock(pdf, q)
	pdf.Ln(4)

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Services", "", 1, "L", false, 0, "")

	headers := []string{"Description", "Qty", "Days", "Unit price", "Amount"}
	colWidths := []float64{80, 18, 18, 32, 32}
	g.drawTableRow(pdf, headers, colWidths, true)

	for _, item := range q.Items {
		base := pricing.ItemBasePrice(item)
		quantity := fmt.Sprintf("%d", item.Quantity)
		if pricing.IsCharter(item.ServiceTypeName) {
			quantity = "-"
		}
		row := []string{
			itemLabel(item),
			quantity,
			fmt.Sprintf("%d", item.ServiceDays),
			model.FormatMoney(item.UnitPrice, q.Currency),
			model.FormatMoney(base, q.Currency),
		}
		g.drawTableRow(pdf, row, colWidths, false)
	}

	for _, pkg := range q.Packages {
		row := []string{
			fmt.Sprintf("Package: %s", pkg.Name),
			"-", "-", "",
			model.FormatMoney(pkg.BasePrice, q.Currency),
		}
		g.drawTableRow(pdf, row, colWidths, false)
	}

	pdf.Ln(4)
	g.addBreakdown(pdf, q, totals)

	pdf.Ln(8)
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Customer: ______________________ /%s/", safeValue(q.CustomerName)), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) addCustomerBlock(pdf *gofpdf.Fpdf, q model.Quotation) {
	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(0, 6, "Customer", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 10)
	lines := []string{
		safeValue(q.CustomerName),
		fmt.Sprintf("Email: %s", safeValue(q.CustomerEmail)),
		fmt.Sprintf("Phone: %s", safeValue(q.CustomerPhone)),
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, line, "", "L", false)
	}
}

func (g *Generator) addBreakdown(pdf *gofpdf.Fpdf, q model.Quotation, totals pricing.Totals) {
	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, "Totals", "", 1, "L", false, 0, "")
	pdf.SetFont(g.fontName, "", 10)

	lines := []struct {
		label  string
		amount int64
		show   bool
	}{
		{"Service subtotal", totals.ServiceBaseTotal, true},
		{"Time-based adjustment", totals.ServiceTimeAdjustment, totals.ServiceTimeAdjustment != 0},
		{"Packages", totals.PackageTotal, totals.PackageTotal != 0},
		{"Base total", totals.BaseTotal, true},
		{fmt.Sprintf("Discount (%.1f%%)", q.DiscountPercentage), -totals.RegularDiscount, totals.RegularDiscount != 0},
		{"Promotion discount", -totals.PromotionDiscount, totals.PromotionDiscount != 0},
		{"Subtotal", totals.Subtotal, true},
		{fmt.Sprintf("Tax (%.1f%%)", q.TaxPercentage), totals.TaxAmount, true},
	}
	for _, line := range lines {
		if !line.show {
			continue
		}
		pdf.CellFormat(120, 6, line.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, model.FormatMoney(line.amount, q.Currency), "", 1, "R", false, 0, "")
	}

	pdf.SetFont(g.fontName, "B", 11)
	pdf.CellFormat(120, 8, "Total", "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, model.FormatMoney(totals.FinalTotal, q.Currency), "", 1, "R", false, 0, "")
}

func (g *Generator) drawTableRow(pdf *gofpdf.Fpdf, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(g.fontName, style, 10)
	for i, col := range cols {
		align := "L"
		if i > 0 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, col, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func itemLabel(item model.QuotationItem) string {
	if strings.TrimSpace(item.Description) != "" {
		return item.Description
	}
	return item.ServiceTypeName
}

// Helvetica is a core font and treats strings as cp1252, so every literal
// emitted here stays ASCII.
func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

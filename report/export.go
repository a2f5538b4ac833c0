// Package report renders a quarter's reward ledger as a spreadsheet for the
// finance team.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"

	"github.com/warp/reward-engine/generic"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

var header = []string{
	"Customer ID", "Customer", "Category", "Cartons", "Tier", "Cashback / Carton",
	"Calculated", "Manual Adjustment", "Final", "Status", "Processed At", "Notes",
}

var arabicHeader = []string{
	"رقم العميل", "العميل", "الفئة", "الكراتين", "المستوى", "الاسترداد لكل كرتون",
	"المحسوب", "التعديل اليدوي", "النهائي", "الحالة", "تاريخ المعالجة", "ملاحظات",
}

// Filename is the download name of a quarter's export.
func Filename(q generic.Quarter, ext string) string {
	return fmt.Sprintf("rewards_%d_q%d.%s", q.Year, q.Quarter, ext)
}

func headerFor(lang language.Tag) []string {
	base, _ := lang.Base()
	ar, _ := language.Arabic.Base()
	if base == ar {
		return arabicHeader
	}
	return header
}

func tierName(v generic.RewardView, lang language.Tag) string {
	base, _ := lang.Base()
	ar, _ := language.Arabic.Base()
	if base == ar && v.TierNameAr != "" {
		return v.TierNameAr
	}
	return v.TierName
}

func processedAt(v generic.RewardView) string {
	if v.ProcessedAt == nil {
		return ""
	}
	return v.ProcessedAt.UTC().Format(time.RFC3339)
}

// LedgerXLSX builds a one-sheet workbook: a header row, one row per reward,
// and a totals row summing calculated, manual and final.
func LedgerXLSX(q generic.Quarter, lang language.Tag, rows []generic.RewardView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := q.Label(lang)
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	for c, v := range headerFor(lang) {
		cell, _ := excelize.CoordinatesToCellName(c+1, 1)
		_ = f.SetCellValue(sheet, cell, v)
	}

	calculated, manual, final := decimal.Zero, decimal.Zero, decimal.Zero
	for r, v := range rows {
		var rate any
		if v.CashbackPerCarton != nil {
			rate = v.CashbackPerCarton.InexactFloat64()
		}
		values := []any{
			string(v.CustomerID),
			v.CustomerName,
			v.RewardCategory,
			v.TotalCartonsPurchased,
			tierName(v, lang),
			rate,
			v.CalculatedReward.InexactFloat64(),
			v.ManualAdjustment.InexactFloat64(),
			v.FinalReward.InexactFloat64(),
			string(v.Status),
			processedAt(v),
			v.Notes,
		}
		for c, val := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, val)
		}
		calculated = calculated.Add(v.CalculatedReward)
		manual = manual.Add(v.ManualAdjustment)
		final = final.Add(v.FinalReward)
	}

	totalRow := len(rows) + 2
	totals := map[int]decimal.Decimal{7: calculated, 8: manual, 9: final}
	label, _ := excelize.CoordinatesToCellName(1, totalRow)
	_ = f.SetCellValue(sheet, label, "Total")
	for col, sum := range totals {
		cell, _ := excelize.CoordinatesToCellName(col, totalRow)
		_ = f.SetCellValue(sheet, cell, sum.InexactFloat64())
	}

	_ = f.SetColWidth(sheet, "A", "A", 18)
	_ = f.SetColWidth(sheet, "B", "B", 28)
	_ = f.SetColWidth(sheet, "C", "E", 12)
	_ = f.SetColWidth(sheet, "F", "I", 16)
	_ = f.SetColWidth(sheet, "J", "J", 11)
	_ = f.SetColWidth(sheet, "K", "K", 22)
	_ = f.SetColWidth(sheet, "L", "L", 32)

	headStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#1F2937"}, Pattern: 1},
	})
	_ = f.SetCellStyle(sheet, "A1", "L1", headStyle)

	moneyFmt := "#,##0.00"
	money, _ := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	first, _ := excelize.CoordinatesToCellName(6, 2)
	last, _ := excelize.CoordinatesToCellName(9, totalRow)
	_ = f.SetCellStyle(sheet, first, last, money)

	totalStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &moneyFmt})
	from, _ := excelize.CoordinatesToCellName(1, totalRow)
	to, _ := excelize.CoordinatesToCellName(12, totalRow)
	_ = f.SetCellStyle(sheet, from, to, totalStyle)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LedgerCSV is the plain-text variant of LedgerXLSX without the totals row.
// Money keeps two fixed decimals.
func LedgerCSV(lang language.Tag, rows []generic.RewardView) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := csv.NewWriter(buf)
	_ = w.Write(headerFor(lang))
	for _, v := range rows {
		rate := ""
		if v.CashbackPerCarton != nil {
			rate = v.CashbackPerCarton.StringFixed(2)
		}
		_ = w.Write([]string{
			string(v.CustomerID),
			v.CustomerName,
			v.RewardCategory,
			strconv.FormatInt(v.TotalCartonsPurchased, 10),
			tierName(v, lang),
			rate,
			v.CalculatedReward.StringFixed(2),
			v.ManualAdjustment.StringFixed(2),
			v.FinalReward.StringFixed(2),
			string(v.Status),
			processedAt(v),
			v.Notes,
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

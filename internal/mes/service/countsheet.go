package service

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ericaxiaweilin/EngHub/internal/mes/domain"
	"github.com/ericaxiaweilin/EngHub/internal/mes/entity"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var countSheetHeaders = []string{
	"序号", "物料ID", "物料编码", "批次号", "账面数量", "实盘数量", "差异",
}

// ExportCountSheet 导出盘点表，现场填写实盘数量后回传
func (s *CountService) ExportCountSheet(ctx context.Context, id string) (*excelize.File, string, error) {
	count, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "盘点"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range countSheetHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, item := range count.Items {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), item.Seq)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), item.MaterialID)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), item.MaterialCode)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), item.BatchCode)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), item.SystemQty.String())
		if count.Status != domain.CountDraft {
			f.SetCellValue(sheet, fmt.Sprintf("F%d", row), item.CountedQty.String())
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), item.Difference.String())
		}
	}

	colWidths := []float64{6, 16, 16, 34, 12, 12, 10}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("%s.xlsx", count.Code)
	return f, filename, nil
}

// ParseCountSheet 读取回传的盘点表；实盘数量为空的行跳过
func ParseCountSheet(f *excelize.File) ([]CountResultItem, error) {
	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read excel: %w", err)
	}
	var items []CountResultItem
	if len(rows) < 2 {
		return items, nil
	}
	for i, row := range rows[1:] { // 跳过表头
		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}
		if cell(5) == "" {
			continue
		}
		item, err := countItem(cell(1), cell(2), cell(3), cell(5))
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// ParseCountTSV 读取手持终端导出的 GBK 编码制表符文本：
// 物料ID、物料编码、批次号、实盘数量，首行为表头
func ParseCountTSV(reader io.Reader) ([]CountResultItem, error) {
	// GBK → UTF-8
	utf8Reader := transform.NewReader(reader, simplifiedchinese.GBK.NewDecoder())

	var items []CountResultItem
	scanner := bufio.NewScanner(utf8Reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" || lineNo == 1 {
			continue
		}
		fields := strings.Split(line, "\t")
		for i := range fields {
			fields[i] = strings.TrimSpace(strings.Trim(fields[i], "\""))
		}
		if len(fields) < 4 {
			return nil, fmt.Errorf("line %d: expected 4 columns, got %d", lineNo, len(fields))
		}
		item, err := countItem(fields[0], fields[1], fields[2], fields[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read count file: %w", err)
	}
	return items, nil
}

func countItem(materialID, materialCode, batchCode, counted string) (CountResultItem, error) {
	qty, err := decimal.NewFromString(counted)
	if err != nil {
		return CountResultItem{}, fmt.Errorf("invalid counted quantity %q", counted)
	}
	if materialID == "" && batchCode == "" {
		return CountResultItem{}, fmt.Errorf("material_id or batch code is required")
	}
	return CountResultItem{
		MaterialID:   materialID,
		MaterialCode: materialCode,
		BatchCode:    batchCode,
		CountedQty:   qty,
	}, nil
}

// CountSummary 盘点单差异统计
func CountSummary(c *entity.InventoryCount) map[string]interface{} {
	increase, decrease := 0, 0
	for _, it := range c.Items {
		switch it.Direction {
		case domain.AdjustIncrease:
			increase++
		case domain.AdjustDecrease:
			decrease++
		}
	}
	return map[string]interface{}{
		"code":             c.Code,
		"status":           c.Status,
		"items":            len(c.Items),
		"increase_lines":   increase,
		"decrease_lines":   decrease,
		"total_difference": c.TotalDifference,
	}
}

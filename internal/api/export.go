package api

import (
	"fmt"
	"net/http"
	"strings"

	"metals-trader/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
)

const (
	historySheet = "History"
	xlsxMIME     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportHistory 导出历史价格为 Excel
func (h *APIHandler) ExportHistory(c *gin.Context) {
	symbol, period, series, ok := h.history(c)
	if !ok {
		return
	}

	f, err := historyWorkbook(strings.ToUpper(symbol), period, series)
	if err != nil {
		h.unexpected(c, "export_history", symbol, err)
		return
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		h.unexpected(c, "export_history", symbol, err)
		return
	}

	filename := fmt.Sprintf("%s_%s_history.xlsx", strings.ToLower(symbol), period)
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, xlsxMIME, buf.Bytes())
}

func historyWorkbook(symbol string, period models.Period, series []models.PricePoint) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := fillHistorySheet(f, symbol, period, series); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func fillHistorySheet(f *excelize.File, symbol string, period models.Period, series []models.PricePoint) error {
	if err := f.SetSheetName("Sheet1", historySheet); err != nil {
		return err
	}

	rows := [][]interface{}{
		{"Symbol", symbol},
		{"Period", string(period)},
		{"Note", "simulated series anchored on the current price"},
		{},
		{"Timestamp", "Price (USD)"},
	}
	for _, p := range series {
		rows = append(rows, []interface{}{p.Timestamp, p.Price})
	}

	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(historySheet, cell, &row); err != nil {
			return err
		}
	}
	return nil
}

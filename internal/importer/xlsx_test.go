package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()
	book := excelize.NewFile()
	defer book.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		r := row
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestSpreadsheetToCSV(t *testing.T) {
	data := testWorkbook(t, [][]any{{"Name", "Pages"}, {"Dune", 412}, {"Emma, a novel", 300}})
	assert.True(t, IsSpreadsheet("books.XLSX", nil))
	assert.False(t, IsSpreadsheet("books.csv", []byte("name\ndune")))

	out, err := SpreadsheetToCSV(data)
	require.NoError(t, err)
	assert.Equal(t, "Name,Pages\nDune,412\n\"Emma, a novel\",300\n", string(out))

	_, err = SpreadsheetToCSV([]byte("not a workbook"))
	assert.Error(t, err)
}

func TestRun_Spreadsheet(t *testing.T) {
	f := newFixture(t)
	data := testWorkbook(t, [][]any{{"Name", "Pages"}, {"Dune", 412}})

	report, err := f.runner.Run(context.Background(), &Upload{Name: "books.xlsx", Data: data}, Options{Entity: "core.Book"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Created: dune"}, report.Success)
	books := f.list(t, "core.Book")
	require.Len(t, books, 1)
	assert.Equal(t, int64(412), books[0].Data["pages"])
}

package reader

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

func openWorkbook(path string) (*excelize.File, error) {
	book, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return book, nil
}

package reports

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// writeCSV renders the header and rows produced by emit.
func writeCSV(headers []string, emit func(write func([]string) error) error) (io.Reader, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	if err := emit(writer.Write); err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush writer: %w", err)
	}
	return buf, nil
}

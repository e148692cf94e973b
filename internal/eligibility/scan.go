package eligibility

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/groupinstall/installportal/internal/domain"
)

// MaxFlagged caps how many flagged records a scan reports.
const MaxFlagged = 100

// Scan reads a delimited census file and summarizes it: every non-blank data
// row is a record, and a record with an empty required field is flagged.
// Confidence is the share of records with no flags.
func Scan(r io.Reader) (domain.ExtractionSummary, error) {
	br := bufio.NewReader(r)
	first, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return domain.ExtractionSummary{}, err
	}
	line, _, _ := strings.Cut(string(first), "\n")
	line = strings.TrimPrefix(line, "\ufeff")
	if strings.TrimSpace(line) == "" {
		return domain.ExtractionSummary{}, ErrEmptyFile
	}

	cr := csv.NewReader(br)
	cr.Comma = guessDelimiter(line)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return domain.ExtractionSummary{}, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	if missing := MissingFields(header); len(missing) > 0 {
		return domain.ExtractionSummary{}, fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(missing, ", "))
	}
	cols := make([]int, len(RequiredFields))
	for i, f := range RequiredFields {
		cols[i] = indexOf(header, f)
	}

	var (
		summary domain.ExtractionSummary
		valid   int
		row     = 1
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			return domain.ExtractionSummary{}, fmt.Errorf("row %d: %w", row, err)
		}
		if blank(rec) {
			continue
		}
		summary.RecordsProcessed++
		ok := true
		for i, col := range cols {
			if col < len(rec) && strings.TrimSpace(rec[col]) != "" {
				continue
			}
			ok = false
			if len(summary.Flagged) < MaxFlagged {
				summary.Flagged = append(summary.Flagged, domain.FlaggedRecord{
					Row:    row,
					Field:  RequiredFields[i],
					Reason: "missing value",
				})
			}
		}
		if ok {
			valid++
		}
	}

	if summary.RecordsProcessed > 0 {
		summary.Confidence = float64(valid) / float64(summary.RecordsProcessed)
	}
	summary.DataQuality = qualityLabel(summary.Confidence)
	return summary, nil
}

func qualityLabel(confidence float64) string {
	switch {
	case confidence >= 0.95:
		return "good"
	case confidence >= 0.8:
		return "fair"
	default:
		return "poor"
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

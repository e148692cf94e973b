package validation

import (
	"fmt"

	"github.com/groupinstall/installportal/internal/domain"
)

const (
	CheckUpload           = "File Upload"
	CheckFileFormat       = "File Format"
	CheckRequiredFields   = "Required Fields"
	CheckDataQuality      = "Data Quality"
	CheckRecordsProcessed = "Records Processed"
	CheckFlaggedRecords   = "Flagged Records"
)

// DefaultMinConfidence is the extraction confidence below which data quality
// is reported as a warning.
const DefaultMinConfidence = 0.95

// AwaitingUpload is the check list of an eligibility domain with no file yet.
func AwaitingUpload() []domain.Check {
	return []domain.Check{
		{Name: CheckFileFormat, Status: domain.CheckPending, Message: "Awaiting file upload"},
		{Name: CheckRequiredFields, Status: domain.CheckPending, Message: "Awaiting file upload"},
		{Name: CheckDataQuality, Status: domain.CheckPending, Message: "Awaiting file upload"},
	}
}

// FromUploadFailure turns a failed upload or extraction into a single failed
// check carrying the service's message.
func FromUploadFailure(reason string) []domain.Check {
	if reason == "" {
		reason = "upload failed"
	}
	return []domain.Check{{Name: CheckUpload, Status: domain.CheckFailed, Message: reason}}
}

// FromExtraction maps an extraction summary onto checks.
func FromExtraction(s domain.ExtractionSummary, minConfidence float64) []domain.Check {
	out := make([]domain.Check, 0, 3)

	if s.RecordsProcessed > 0 {
		out = append(out, domain.Check{
			Name:    CheckRecordsProcessed,
			Status:  domain.CheckPassed,
			Message: fmt.Sprintf("%d employee records processed", s.RecordsProcessed),
		})
	} else {
		out = append(out, domain.Check{Name: CheckRecordsProcessed, Status: domain.CheckFailed, Message: "no employee records found"})
	}

	quality := domain.Check{Name: CheckDataQuality, Status: domain.CheckPassed}
	quality.Message = fmt.Sprintf("confidence %.1f%%", s.Confidence*100)
	if s.DataQuality != "" {
		quality.Message = fmt.Sprintf("%s (%s)", quality.Message, s.DataQuality)
	}
	if s.Confidence < minConfidence {
		quality.Status = domain.CheckWarning
	}
	out = append(out, quality)

	if n := len(s.Flagged); n > 0 {
		out = append(out, domain.Check{
			Name:    CheckFlaggedRecords,
			Status:  domain.CheckWarning,
			Message: fmt.Sprintf("%d records flagged for review", n),
		})
	} else {
		out = append(out, domain.Check{Name: CheckFlaggedRecords, Status: domain.CheckPassed, Message: "no records flagged"})
	}
	return out
}

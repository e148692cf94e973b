// Package eligibility prechecks employee eligibility census files before
// they are handed to extraction.
package eligibility

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/groupinstall/installportal/internal/domain"
)

const DefaultMaxBytes int64 = 10 << 20

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrMissingFields     = errors.New("missing required fields")
	ErrEmptyFile         = errors.New("empty file")
)

// RequiredFields are the census columns every eligibility file must carry.
var RequiredFields = []string{
	"Employee ID",
	"First Name",
	"Last Name",
	"Date of Birth",
	"Social Security Number",
	"Gender",
	"Address",
	"City",
	"State",
	"ZIP Code",
	"Hire Date",
	"Employment Status",
	"Plan Elections",
}

var OptionalFields = []string{
	"Middle Name",
	"Email",
	"Phone",
	"Salary",
	"Department",
	"Job Title",
}

var AcceptedSuffixes = []string{".xlsx", ".xls", ".csv", ".txt"}

const (
	CheckFileFormat     = "File Format"
	CheckFileSize       = "File Size"
	CheckRequiredFields = "Required Fields"
)

// File describes an uploaded census file.
type File struct {
	Filename    string
	Size        int64
	ContentType string
}

// Result is the outcome of a precheck.
type Result struct {
	Checks  []domain.Check
	SHA256  string
	Header  []string
	Missing []string
}

// Failed reports whether any precheck failed.
func (r Result) Failed() bool {
	for _, c := range r.Checks {
		if c.Status == domain.CheckFailed {
			return true
		}
	}
	return false
}

// Message joins the messages of failed checks.
func (r Result) Message() string {
	var parts []string
	for _, c := range r.Checks {
		if c.Status == domain.CheckFailed {
			parts = append(parts, c.Message)
		}
	}
	return strings.Join(parts, "; ")
}

func SanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "" || base == "." || base == "/" {
		return "census.csv"
	}
	return base
}

// Suffix returns the lower-cased accepted suffix of filename, or "".
func Suffix(filename string) string {
	lower := strings.ToLower(strings.TrimSpace(filename))
	for _, s := range AcceptedSuffixes {
		if strings.HasSuffix(lower, s) {
			return s
		}
	}
	return ""
}

// Delimited reports whether the file is a delimited text file whose header
// can be read without a spreadsheet parser.
func Delimited(filename string) bool {
	s := Suffix(filename)
	return s == ".csv" || s == ".txt"
}

// Precheck validates the file's format and size and, for delimited text,
// that the header carries every required field. The body is read to the
// end to compute its sha256.
func Precheck(f File, body io.Reader, maxBytes int64) (Result, error) {
	return precheck(f, body, maxBytes, true)
}

// PrecheckDocument validates format and size only, for supporting
// documents that are not census files.
func PrecheckDocument(f File, body io.Reader, maxBytes int64) (Result, error) {
	return precheck(f, body, maxBytes, false)
}

func precheck(f File, body io.Reader, maxBytes int64, census bool) (Result, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	var res Result

	suffix := Suffix(f.Filename)
	if suffix == "" {
		res.Checks = append(res.Checks, domain.Check{
			Name:    CheckFileFormat,
			Status:  domain.CheckFailed,
			Message: fmt.Sprintf("unsupported file type; accepted: %s", strings.Join(AcceptedSuffixes, ", ")),
		})
	} else {
		res.Checks = append(res.Checks, domain.Check{Name: CheckFileFormat, Status: domain.CheckPassed, Message: suffix + " accepted"})
	}

	hasher := sha256.New()
	counter := &countingWriter{}
	tee := io.TeeReader(io.LimitReader(body, maxBytes+1), io.MultiWriter(hasher, counter))

	var header []string
	var headerErr error
	if census && Delimited(f.Filename) {
		header, headerErr = ReadHeader(tee)
	}
	if _, err := io.Copy(io.Discard, tee); err != nil {
		return Result{}, fmt.Errorf("read upload: %w", err)
	}
	res.SHA256 = hex.EncodeToString(hasher.Sum(nil))

	size := counter.n
	switch {
	case size == 0:
		res.Checks = append(res.Checks, domain.Check{Name: CheckFileSize, Status: domain.CheckFailed, Message: "file is empty"})
	case size > maxBytes:
		res.Checks = append(res.Checks, domain.Check{
			Name:    CheckFileSize,
			Status:  domain.CheckFailed,
			Message: fmt.Sprintf("file exceeds %d bytes", maxBytes),
		})
	default:
		res.Checks = append(res.Checks, domain.Check{Name: CheckFileSize, Status: domain.CheckPassed, Message: fmt.Sprintf("%d bytes", size)})
	}

	switch {
	case suffix == "" || !census:
	case !Delimited(f.Filename):
		res.Checks = append(res.Checks, domain.Check{Name: CheckRequiredFields, Status: domain.CheckPending, Message: "verified during extraction"})
	case headerErr != nil:
		res.Checks = append(res.Checks, domain.Check{Name: CheckRequiredFields, Status: domain.CheckFailed, Message: "header could not be read"})
	default:
		res.Header = header
		res.Missing = MissingFields(header)
		if len(res.Missing) > 0 {
			res.Checks = append(res.Checks, domain.Check{
				Name:    CheckRequiredFields,
				Status:  domain.CheckFailed,
				Message: "missing: " + strings.Join(res.Missing, ", "),
			})
		} else {
			res.Checks = append(res.Checks, domain.Check{
				Name:    CheckRequiredFields,
				Status:  domain.CheckPassed,
				Message: fmt.Sprintf("all %d required fields present", len(RequiredFields)),
			})
		}
	}
	return res, nil
}

// MissingFields lists required fields absent from header, compared without
// regard to case or surrounding space.
func MissingFields(header []string) []string {
	var missing []string
	for _, required := range RequiredFields {
		if indexOf(header, required) < 0 {
			missing = append(missing, required)
		}
	}
	return missing
}

// ReadHeader parses the first line of a delimited file. The delimiter is
// guessed from the line: tab, then pipe, then comma.
func ReadHeader(r io.Reader) ([]string, error) {
	const maxHeaderBytes = 1 << 20
	br := bufio.NewReader(io.LimitReader(r, maxHeaderBytes))
	line, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	line = strings.TrimPrefix(strings.TrimRight(line, "\r\n"), "\ufeff")
	if strings.TrimSpace(line) == "" {
		return nil, ErrEmptyFile
	}
	cr := csv.NewReader(strings.NewReader(line))
	cr.Comma = guessDelimiter(line)
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, strings.TrimSpace(f))
	}
	return out, nil
}

func guessDelimiter(line string) rune {
	switch {
	case strings.Contains(line, "\t"):
		return '\t'
	case strings.Contains(line, "|"):
		return '|'
	default:
		return ','
	}
}

func indexOf(in []string, value string) int {
	value = strings.TrimSpace(value)
	for i, item := range in {
		if strings.EqualFold(strings.TrimSpace(item), value) {
			return i
		}
	}
	return -1
}

type countingWriter struct {
	n int64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += int64(len(p))
	return len(p), nil
}

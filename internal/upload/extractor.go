// Package upload runs eligibility file extraction in the background and
// hands the latest result for each wizard step back to the caller.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
	"github.com/groupinstall/installportal/internal/eligibility"
	"github.com/groupinstall/installportal/internal/storage/objectstore"
)

var (
	ErrRejected    = errors.New("extraction rejected the file")
	ErrUnsupported = errors.New("extraction not supported for file type")
)

// ObjectRef points at an uploaded file in object storage.
type ObjectRef struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256,omitempty"`
}

type Extractor interface {
	Extract(ctx context.Context, ref ObjectRef) (domain.ExtractionSummary, error)
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("extraction api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("extraction api error (status=%d): %s", e.StatusCode, body)
}

// HTTPExtractor calls a remote extraction service.
type HTTPExtractor struct {
	baseURL string
	http    *http.Client
}

func NewHTTPExtractor(baseURL string, timeout time.Duration) (*HTTPExtractor, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("extraction url is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPExtractor{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type extractResponse struct {
	RecordsProcessed int             `json:"records_processed"`
	Confidence       float64         `json:"confidence"`
	DataQuality      string          `json:"data_quality"`
	FlaggedRecords   []flaggedRecord `json:"flagged_records"`
}

type flaggedRecord struct {
	Row    int    `json:"row"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

type rejectResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, ref ObjectRef) (domain.ExtractionSummary, error) {
	body, err := json.Marshal(ref)
	if err != nil {
		return domain.ExtractionSummary{}, fmt.Errorf("marshal extraction request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return domain.ExtractionSummary{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return domain.ExtractionSummary{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return domain.ExtractionSummary{}, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out extractResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return domain.ExtractionSummary{}, fmt.Errorf("decode extraction response: %w", err)
		}
		if out.RecordsProcessed < 0 || out.Confidence < 0 || out.Confidence > 1 {
			return domain.ExtractionSummary{}, fmt.Errorf("decode extraction response: records=%d confidence=%v out of range", out.RecordsProcessed, out.Confidence)
		}
		summary := domain.ExtractionSummary{
			RecordsProcessed: out.RecordsProcessed,
			Confidence:       out.Confidence,
			DataQuality:      out.DataQuality,
		}
		for _, f := range out.FlaggedRecords {
			summary.Flagged = append(summary.Flagged, domain.FlaggedRecord{Row: f.Row, Field: f.Field, Reason: f.Reason})
		}
		return summary, nil
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		var rej rejectResponse
		_ = json.Unmarshal(raw, &rej)
		msg := strings.TrimSpace(rej.Message)
		if msg == "" {
			msg = strings.TrimSpace(rej.Error)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return domain.ExtractionSummary{}, fmt.Errorf("%w: %s", ErrRejected, msg)
	default:
		return domain.ExtractionSummary{}, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
}

// LocalExtractor summarizes delimited census files in-process, reading them
// back from object storage.
type LocalExtractor struct {
	store objectstore.Store
}

func NewLocalExtractor(store objectstore.Store) *LocalExtractor {
	return &LocalExtractor{store: store}
}

func (e *LocalExtractor) Extract(ctx context.Context, ref ObjectRef) (domain.ExtractionSummary, error) {
	if e == nil || e.store == nil {
		return domain.ExtractionSummary{}, errors.New("local extractor not initialized")
	}
	if !eligibility.Delimited(ref.Filename) {
		return domain.ExtractionSummary{}, fmt.Errorf("%w: %s", ErrUnsupported, ref.Filename)
	}
	rc, _, err := e.store.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return domain.ExtractionSummary{}, err
	}
	defer rc.Close()

	summary, err := eligibility.Scan(&ctxReader{ctx: ctx, r: rc})
	if err != nil {
		if errors.Is(err, eligibility.ErrMissingFields) || errors.Is(err, eligibility.ErrEmptyFile) {
			return domain.ExtractionSummary{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		return domain.ExtractionSummary{}, err
	}
	return summary, nil
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

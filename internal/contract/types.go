package contract

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/searchforge/rankfusion/fuse"
)

const TraceIDHeader = "X-Trace-Id"

// Strategy names accepted on the wire.
const (
	StrategyMerge    = "merge"
	StrategyAdditive = "additive"
	StrategyWeighted = "weighted"
)

// Return codes reported in responses.
const (
	RetOK             = "OK"
	RetBadRequest     = "BAD_REQUEST"
	RetDegenerate     = "NUMERIC_DEGENERATE"
	RetBudgetExceeded = "BUDGET_EXCEEDED"
	RetRateLimited    = "RATE_LIMITED"
	RetInternal       = "INTERNAL"
)

var validate = validator.New()

// SourceColumns carries one retrieval source's results as parallel arrays.
type SourceColumns struct {
	Source       string    `json:"source" validate:"required"`
	Scores       []float64 `json:"scores"`
	IDs          []int64   `json:"ids"`
	Paths        []string  `json:"paths,omitempty"`
	FrameIndices []int     `json:"frame_indices,omitempty"`
	Ranks        []int     `json:"ranks,omitempty"`
}

// FuseRequest asks for one fusion. Nil parameters fall back to service defaults.
type FuseRequest struct {
	Strategy string          `json:"strategy" validate:"omitempty,oneof=merge additive weighted"`
	Sources  []SourceColumns `json:"sources" validate:"required,min=1,dive"`
	Alpha    *float64        `json:"alpha,omitempty"`
	Beta     *float64        `json:"beta,omitempty"`
	K        *int            `json:"k,omitempty" validate:"omitempty,gte=1,lte=1000000"`
	TopK     *int            `json:"topk,omitempty" validate:"omitempty,gte=0"`
}

// Validate checks structural constraints; candidate limits are checked by the controller.
func (r *FuseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", fuse.ErrInvalidInput, err)
	}
	return nil
}

// CandidateCount is the total number of rows across sources.
func (r *FuseRequest) CandidateCount() int {
	n := 0
	for _, s := range r.Sources {
		n += len(s.Scores)
	}
	return n
}

// CandidateSets converts the wire columns, applying label to each source name.
func (r *FuseRequest) CandidateSets(label func(string) string) ([]fuse.CandidateSet, error) {
	sets := make([]fuse.CandidateSet, 0, len(r.Sources))
	for _, src := range r.Sources {
		name := src.Source
		if label != nil {
			name = label(name)
		}
		set, err := fuse.FromColumns(name, src.Scores, src.IDs, src.Paths, src.FrameIndices, src.Ranks)
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// Item is one fused result row.
type Item struct {
	ID         int64   `json:"id"`
	Path       string  `json:"path,omitempty"`
	FrameIndex int     `json:"frame_index,omitempty"`
	Score      float64 `json:"score"`
	Source     string  `json:"source,omitempty"`
}

// Timings reports where a request spent its time.
type Timings struct {
	TotalMS   float64 `json:"total_ms"`
	ComputeUS int64   `json:"compute_us"`
	CacheHit  bool    `json:"cache_hit"`
}

// FuseResponse is the public response schema for /v1/fuse/*.
type FuseResponse struct {
	Strategy string  `json:"strategy"`
	Items    []Item  `json:"items"`
	Timings  Timings `json:"timings"`
	RetCode  string  `json:"ret_code"`
	TraceID  string  `json:"trace_id,omitempty"`
}

// MMRRequest asks for a diversity re-ranking of a shortlist. When Items is
// set it must align with Embeddings and is returned in the selected order.
type MMRRequest struct {
	Query      []float64   `json:"query" validate:"required,min=1"`
	Embeddings [][]float64 `json:"embeddings" validate:"required,min=1"`
	Lambda     *float64    `json:"lambda,omitempty"`
	TopK       *int        `json:"top_k,omitempty"`
	Items      []Item      `json:"items,omitempty"`
}

// Validate checks structural constraints.
func (r *MMRRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", fuse.ErrInvalidInput, err)
	}
	if len(r.Items) > 0 && len(r.Items) != len(r.Embeddings) {
		return fmt.Errorf("%w: %d items and %d embeddings", fuse.ErrInvalidInput, len(r.Items), len(r.Embeddings))
	}
	return nil
}

// MMRResponse lists selected candidate indices in pick order.
type MMRResponse struct {
	Indices []int   `json:"indices"`
	Items   []Item  `json:"items,omitempty"`
	Timings Timings `json:"timings"`
	RetCode string  `json:"ret_code"`
	TraceID string  `json:"trace_id,omitempty"`
}

// NormalizeRequest asks for a single score vector to be rescaled.
type NormalizeRequest struct {
	Mode   string    `json:"mode" validate:"required"`
	Scores []float64 `json:"scores"`
}

// NormalizeResponse carries the rescaled scores.
type NormalizeResponse struct {
	Mode    string    `json:"mode"`
	Scores  []float64 `json:"scores"`
	RetCode string    `json:"ret_code"`
}

// BatchRequest fuses independent queries concurrently.
type BatchRequest struct {
	Queries  []FuseRequest `json:"queries" validate:"required,min=1"`
	BudgetMS *int          `json:"budget_ms,omitempty" validate:"omitempty,gte=1"`
}

// Validate checks the envelope; each query is validated when it runs.
func (r *BatchRequest) Validate(maxQueries int) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", fuse.ErrInvalidInput, err)
	}
	if maxQueries > 0 && len(r.Queries) > maxQueries {
		return fmt.Errorf("%w: %d queries exceeds max (%d)", fuse.ErrInvalidInput, len(r.Queries), maxQueries)
	}
	return nil
}

// BatchResult is the outcome of one query in a batch.
type BatchResult struct {
	Index    int           `json:"index"`
	Response *FuseResponse `json:"response,omitempty"`
	Error    string        `json:"error,omitempty"`
	RetCode  string        `json:"ret_code"`
}

// BatchResponse preserves query order.
type BatchResponse struct {
	Results  []BatchResult `json:"results"`
	Degraded bool          `json:"degraded"`
	Timings  Timings       `json:"timings"`
	RetCode  string        `json:"ret_code"`
	TraceID  string        `json:"trace_id,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	RetCode string `json:"ret_code"`
	TraceID string `json:"trace_id,omitempty"`
}

// ItemsFromResults converts fused rows to wire items.
func ItemsFromResults(results []fuse.Result) []Item {
	out := make([]Item, len(results))
	for i, r := range results {
		out[i] = Item{
			ID:         r.ID,
			Path:       r.Path,
			FrameIndex: r.FrameIndex,
			Score:      r.Score,
			Source:     r.Source,
		}
	}
	return out
}

// ResultsFromItems is the inverse of ItemsFromResults.
func ResultsFromItems(items []Item) []fuse.Result {
	out := make([]fuse.Result, len(items))
	for i, it := range items {
		out[i] = fuse.Result{
			ID:         it.ID,
			Path:       it.Path,
			FrameIndex: it.FrameIndex,
			Score:      it.Score,
			Source:     it.Source,
		}
	}
	return out
}

package ids

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/fault"
)

// UnifyOptions configures the cross-namespace ID conversion service.
type UnifyOptions struct {
	// BaseURL of the external mapping service.
	BaseURL string
	Timeout time.Duration
	// MemoTTL is how long resolved mappings are memoized. Mappings are
	// effectively immutable, so this is generous.
	MemoTTL time.Duration
}

func NewUnifyOpts(baseURL string, timeout, memoTTL time.Duration) UnifyOptions {
	return UnifyOptions{
		BaseURL: baseURL,
		Timeout: timeout,
		MemoTTL: memoTTL,
	}
}

var DefaultUnifyOpts = UnifyOptions{
	BaseURL: "https://armapi.elfhosted.com",
	Timeout: 5 * time.Second,
	MemoTTL: 24 * time.Hour,
}

// ConversionResult is the outcome of a conversion request. A persistent
// mapping failure is not an error condition: Success is simply false.
type ConversionResult struct {
	Success     bool
	ConvertedID string
	Method      string // "identity" or "mapping"
	Err         error
}

// UnifiedIDservice converts identifiers across namespaces (anime families to
// and from IMDb) via an external mapping service, memoizing every resolved
// mapping.
type UnifiedIDservice struct {
	baseURL    string
	httpClient *http.Client
	memo       *gocache.Cache
	memoTTL    time.Duration
	detector   *Detector
	router     *fault.Router
	logger     *zap.Logger
}

// NewUnifiedIDservice creates the conversion service.
func NewUnifiedIDservice(opts UnifyOptions, detector *Detector, router *fault.Router, logger *zap.Logger) *UnifiedIDservice {
	return &UnifiedIDservice{
		baseURL: opts.BaseURL,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		memo:     gocache.New(opts.MemoTTL, 2*opts.MemoTTL),
		memoTTL:  opts.MemoTTL,
		detector: detector,
		router:   router,
		logger:   logger,
	}
}

// Convert resolves the given ID into the target namespace. Same-namespace
// conversions succeed immediately. Misses consult the external mapping
// endpoint through the router's retry policy; persistent failure yields
// {Success: false} without an error escaping.
func (s *UnifiedIDservice) Convert(ctx context.Context, rawID string, target Type) ConversionResult {
	detection := s.detector.Detect(rawID)
	if !detection.Valid {
		return ConversionResult{Err: fault.New(fault.KindValidation, "cannot convert an invalid id").WithContext("id", rawID)}
	}
	if detection.Type == target || (target == TypeIMDB && detection.Type == TypeIMDBSeries) {
		return ConversionResult{Success: true, ConvertedID: detection.NormalizedID, Method: "identity"}
	}

	memoKey := string(detection.Type) + ":" + detection.NormalizedID + "->" + string(target)
	if cached, found := s.memo.Get(memoKey); found {
		if converted, ok := cached.(string); ok && converted != "" {
			return ConversionResult{Success: true, ConvertedID: converted, Method: "mapping"}
		}
		// Memoized negative: the service told us there is no mapping.
		return ConversionResult{Success: false}
	}

	converted, ferr := fault.Do(ctx, s.router, "idmapping:"+string(detection.Type)+"->"+string(target),
		func(ctx context.Context) (string, error) {
			return s.fetchMapping(ctx, detection, target)
		}, nil)
	if ferr != nil {
		s.logger.Warn("ID conversion failed", zap.String("id", detection.NormalizedID),
			zap.String("target", string(target)), zap.Error(ferr))
		return ConversionResult{Success: false}
	}
	if converted == "" {
		s.memo.Set(memoKey, "", s.memoTTL)
		return ConversionResult{Success: false}
	}

	s.memo.Set(memoKey, converted, s.memoTTL)
	return ConversionResult{Success: true, ConvertedID: converted, Method: "mapping"}
}

// fetchMapping calls the external mapping endpoint. An empty string with a
// nil error means the service knows the ID but has no mapping for it.
func (s *UnifiedIDservice) fetchMapping(ctx context.Context, d Detection, target Type) (string, error) {
	reqURL := fmt.Sprintf("%s/api/v2/map?from=%s&id=%d&to=%s", s.baseURL, d.Type, Ordinal(d.NormalizedID), target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("Couldn't create request object: %v", err)
	}
	res, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Couldn't GET %v: %w", reqURL, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Bad GET response: %v", res.StatusCode)
	}
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("Couldn't read response body: %v", err)
	}

	mapped := gjson.GetBytes(resBody, "id")
	if !mapped.Exists() || mapped.Type == gjson.Null {
		return "", nil
	}
	result := mapped.String()
	if result == "" {
		return "", nil
	}
	switch {
	case target == TypeIMDB || target == TypeIMDBSeries:
		if !hasIMDBprefix(result) {
			result = "tt" + result
		}
	default:
		result = string(target) + ":" + result
	}
	return result, nil
}

func hasIMDBprefix(id string) bool {
	return len(id) > 2 && id[0] == 't' && id[1] == 't'
}

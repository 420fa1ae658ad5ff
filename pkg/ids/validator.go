package ids

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/torrentera/torrentera-stremio/pkg/fault"
)

// ValidationContext declares which identifier families a calling surface
// accepts and how strictly it treats them.
type ValidationContext struct {
	Name            string
	PermittedTypes  []Type // nil permits every known type
	AllowConversion bool
	Strict          bool
}

var (
	// ContextStreamRequest is the addon's stream endpoint: anything goes,
	// conversion to IMDb is fine.
	ContextStreamRequest = ValidationContext{Name: "stream_request", AllowConversion: true}
	// ContextAPIEndpoint is the search API: strict, no conversion probes.
	ContextAPIEndpoint = ValidationContext{Name: "api_endpoint", Strict: true}
	// ContextDiagnostic is for status/debug surfaces.
	ContextDiagnostic = ValidationContext{Name: "diagnostic", AllowConversion: true}
)

var contexts = map[string]ValidationContext{
	ContextStreamRequest.Name: ContextStreamRequest,
	ContextAPIEndpoint.Name:   ContextAPIEndpoint,
	ContextDiagnostic.Name:    ContextDiagnostic,
}

// ContextByName looks up a registered validation context.
func ContextByName(name string) (ValidationContext, bool) {
	c, ok := contexts[name]
	return c, ok
}

// ValidationResult carries the outcome of validating an ID in a context.
type ValidationResult struct {
	Valid          bool
	Detection      Detection
	Recommendation string
	Err            *fault.Error
}

// Upper bounds for the anime namespaces. In strict contexts exceeding the
// bound fails the validation; in non-strict contexts it only produces a
// recommendation, since new entries keep pushing the real ceilings up.
const (
	maxKitsuOrdinal   = 1_000_000
	maxMALordinal     = 60_000
	maxAniListOrdinal = 200_000
	maxAniDBordinal   = 30_000
)

// Validator applies per-type syntactic rules and per-context business rules
// to detected identifiers.
type Validator struct {
	detector *Detector
	logger   *zap.Logger
}

// NewValidator creates a Validator on top of the given detector.
func NewValidator(detector *Detector, logger *zap.Logger) *Validator {
	return &Validator{
		detector: detector,
		logger:   logger,
	}
}

// Validate detects the raw ID and checks it against the named context's
// rules. Unknown context names fail with a CONFIGURATION error.
func (v *Validator) Validate(raw, contextName string) ValidationResult {
	vctx, ok := ContextByName(contextName)
	if !ok {
		return ValidationResult{
			Err: fault.New(fault.KindConfiguration, "unknown validation context").WithContext("context", contextName),
		}
	}

	detection := v.detector.Detect(raw)
	result := ValidationResult{Detection: detection}

	if !detection.Valid {
		msg := detection.Err
		if msg == "" {
			msg = "unrecognized id format"
		}
		result.Err = fault.New(fault.KindValidation, msg).
			WithContext("id", raw).
			WithContext("context", contextName)
		return result
	}

	if !vctx.permits(detection.Type) {
		result.Err = fault.New(fault.KindValidation, "id type not permitted in this context").
			WithContext("idType", string(detection.Type)).
			WithContext("context", contextName)
		return result
	}

	if err := v.checkType(detection, vctx); err != nil {
		result.Err = err
		return result
	}

	result.Valid = true
	result.Recommendation = v.recommendation(detection, vctx)
	return result
}

func (c ValidationContext) permits(t Type) bool {
	if t == TypeUnknown {
		return false
	}
	if len(c.PermittedTypes) == 0 {
		return true
	}
	for _, p := range c.PermittedTypes {
		if p == t {
			return true
		}
	}
	return false
}

func (v *Validator) checkType(d Detection, vctx ValidationContext) *fault.Error {
	switch d.Type {
	case TypeIMDB:
		ordinal := Ordinal(d.NormalizedID)
		if ordinal < 1 {
			return validationError(d, "imdb ordinal must be positive")
		}
		if vctx.Strict && len(strings.TrimPrefix(d.NormalizedID, "tt")) < 7 {
			return validationError(d, "imdb id requires at least 7 digits")
		}
	case TypeIMDBSeries:
		parts := strings.Split(d.NormalizedID, ":")
		if len(parts) != 3 {
			return validationError(d, "imdb series id must be tt<id>:<season>:<episode>")
		}
		season, err1 := strconv.Atoi(parts[1])
		episode, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil {
			return validationError(d, "season and episode must be numeric")
		}
		if season < 1 || season > 100 {
			return validationError(d, fmt.Sprintf("season %d out of range [1,100]", season))
		}
		if episode < 1 || episode > 999 {
			return validationError(d, fmt.Sprintf("episode %d out of range [1,999]", episode))
		}
	case TypeKitsu:
		return v.checkAnimeBound(d, vctx, maxKitsuOrdinal)
	case TypeMAL:
		return v.checkAnimeBound(d, vctx, maxMALordinal)
	case TypeAniList:
		return v.checkAnimeBound(d, vctx, maxAniListOrdinal)
	case TypeAniDB:
		return v.checkAnimeBound(d, vctx, maxAniDBordinal)
	}
	return nil
}

func (v *Validator) checkAnimeBound(d Detection, vctx ValidationContext, bound int) *fault.Error {
	ordinal := Ordinal(d.NormalizedID)
	if ordinal < 1 {
		return validationError(d, "ordinal must be positive")
	}
	if ordinal > bound {
		if vctx.Strict {
			return validationError(d, fmt.Sprintf("ordinal %d exceeds bound %d", ordinal, bound))
		}
		v.logger.Debug("Ordinal exceeds known bound, accepting in non-strict context",
			zap.String("id", d.NormalizedID), zap.Int("bound", bound))
	}
	return nil
}

func (v *Validator) recommendation(d Detection, vctx ValidationContext) string {
	if d.Type.IsAnime() && vctx.AllowConversion {
		return "consider converting to imdb for wider source coverage"
	}
	if d.Type == TypeNumeric {
		return "numeric ids are ambiguous, prefer a namespaced id"
	}
	return ""
}

func validationError(d Detection, msg string) *fault.Error {
	return fault.New(fault.KindValidation, msg).
		WithContext("id", d.NormalizedID).
		WithContext("idType", string(d.Type))
}

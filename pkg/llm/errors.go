package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"
)

// ErrGeneration is matched by every *GenerationError.
var ErrGeneration = errors.New("generation failed")

// ErrTemperatureRange is returned before any request when the temperature is out of range.
var ErrTemperatureRange = errors.New("temperature must be between 0.1 and 1.0")

const (
	MinTemperature = 0.1
	MaxTemperature = 1.0
)

type Kind string

const (
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindNetwork   Kind = "network"
	KindMalformed Kind = "malformed"
	KindUnknown   Kind = "unknown"
)

type GenerationError struct {
	Kind Kind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// ValidateTemperature accepts [0.1, 1.0] inclusive.
func ValidateTemperature(t float64) error {
	const eps = 1e-9
	if math.IsNaN(t) || t < MinTemperature-eps || t > MaxTemperature+eps {
		return fmt.Errorf("%w: got %v", ErrTemperatureRange, t)
	}
	return nil
}

var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// classify maps a provider error onto a GenerationError.
func classify(err error) *GenerationError {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr
	}

	if errors.Is(err, openai.ErrEmptyResponse) || strings.Contains(err.Error(), "empty response") {
		return &GenerationError{Kind: KindMalformed, Err: err}
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == 401 || code == 403:
			return &GenerationError{Kind: KindAuth, Err: err}
		case code == 429:
			return &GenerationError{Kind: KindRateLimit, Err: err}
		case code >= 500:
			return &GenerationError{Kind: KindNetwork, Err: err}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &GenerationError{Kind: KindNetwork, Err: err}
	}

	return &GenerationError{Kind: KindUnknown, Err: err}
}

// KindOf reports the failure kind of err, or "" when err is not a generation failure.
func KindOf(err error) Kind {
	var gerr *GenerationError
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return ""
}

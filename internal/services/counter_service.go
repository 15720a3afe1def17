package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cleanline/api/internal/repositories"
)

const (
	defaultReceiptPrefix = "RC"
	receiptScope         = "receipts"
	receiptPadLength     = 6
)

var receiptCodeSanitizer = regexp.MustCompile(`[^A-Z0-9]+`)

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the counter reached its configured maximum.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	// ReceiptPrefix leads every receipt number. Defaults to "RC".
	ReceiptPrefix string
}

type counterService struct {
	repo          repositories.CounterRepository
	clock         func() time.Time
	receiptPrefix string

	configMu   sync.Mutex
	configured map[string]counterConfigSignature
}

type counterConfigSignature struct {
	step    int64
	max     int64
	hasMax  bool
	initial int64
	hasInit bool
}

func (s counterConfigSignature) empty() bool {
	return s.step <= 0 && !s.hasMax && !s.hasInit
}

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	prefix := sanitizeReceiptCode(deps.ReceiptPrefix)
	if prefix == "" {
		prefix = defaultReceiptPrefix
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		receiptPrefix: prefix,
		configured:    make(map[string]counterConfigSignature),
	}, nil
}

func (s *counterService) Next(ctx context.Context, scope, name string, opts CounterGenerationOptions) (CounterValue, error) {
	scope = strings.TrimSpace(scope)
	name = strings.TrimSpace(name)
	if scope == "" {
		return CounterValue{}, fmt.Errorf("%w: scope is required", ErrCounterInvalidInput)
	}
	if name == "" {
		return CounterValue{}, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}
	if opts.Step < 0 {
		return CounterValue{}, fmt.Errorf("%w: step must not be negative", ErrCounterInvalidInput)
	}

	counterID := scope + ":" + name
	if err := s.ensureConfiguration(ctx, counterID, opts); err != nil {
		return CounterValue{}, mapCounterError(err)
	}

	value, err := s.repo.Next(ctx, counterID, opts.Step)
	if err != nil {
		return CounterValue{}, mapCounterError(err)
	}

	return CounterValue{Value: value, Formatted: formatCounterValue(s.clock(), value, opts)}, nil
}

// NextReceiptNumber returns {PREFIX}-{BRANCH}-{YYYY}-{seq}. Sequences restart every year per branch.
func (s *counterService) NextReceiptNumber(ctx context.Context, branchCode string) (string, error) {
	code := sanitizeReceiptCode(branchCode)
	if code == "" {
		return "", fmt.Errorf("%w: branch code is required", ErrCounterInvalidInput)
	}
	now := s.clock()
	year := now.Year()
	prefix := s.receiptPrefix
	result, err := s.Next(ctx, receiptScope, fmt.Sprintf("%s-%04d", code, year), CounterGenerationOptions{
		Formatter: func(_ time.Time, seq int64) string {
			return fmt.Sprintf("%s-%s-%04d-%0*d", prefix, code, year, receiptPadLength, seq)
		},
	})
	if err != nil {
		return "", err
	}
	return result.Formatted, nil
}

func (s *counterService) ensureConfiguration(ctx context.Context, counterID string, opts CounterGenerationOptions) error {
	signature := counterConfigSignature{step: opts.Step}
	if opts.MaxValue != nil {
		signature.hasMax = true
		signature.max = *opts.MaxValue
	}
	if opts.InitialValue != nil {
		signature.hasInit = true
		signature.initial = *opts.InitialValue
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	if existing, ok := s.configured[counterID]; ok && existing == signature {
		return nil
	}
	if !signature.empty() {
		cfg := repositories.CounterConfig{Step: signature.step}
		if signature.hasMax {
			cfg.MaxValue = &signature.max
		}
		if signature.hasInit {
			cfg.InitialValue = &signature.initial
		}
		if err := s.repo.Configure(ctx, counterID, cfg); err != nil {
			return err
		}
	}
	s.configured[counterID] = signature
	return nil
}

func mapCounterError(err error) error {
	var counterErr *repositories.CounterError
	if errors.As(err, &counterErr) {
		switch counterErr.Code {
		case repositories.CounterErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
		case repositories.CounterErrorExhausted:
			return fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
		}
	}
	return err
}

func formatCounterValue(now time.Time, value int64, opts CounterGenerationOptions) string {
	if opts.Formatter != nil {
		return opts.Formatter(now, value)
	}
	formatted := strconv.FormatInt(value, 10)
	if opts.PadLength > 0 {
		formatted = fmt.Sprintf("%0*d", opts.PadLength, value)
	}
	return opts.Prefix + formatted + opts.Suffix
}

func sanitizeReceiptCode(raw string) string {
	return strings.Trim(receiptCodeSanitizer.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "-"), "-")
}

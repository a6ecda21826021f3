// Package pifactory calculates arbitrary 9-digit blocks of the decimal
// expansion of pi in constant memory, using nothing wider than 32-bit integer
// arithmetic. It implements the hypergeometric series published by Bill Gosper
// in 1974 with the constant-memory digit extraction approach of Simon Plouffe,
// in the spirit of the n-th digit programs of Fabrice Bellard.
package pifactory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/DaveMcW/pifactory/pkg/cache"
	"github.com/go-logr/logr"
)

// NextPrimeFunc is the signature of a function that returns the smallest
// prime number strictly greater than the supplied value.
type NextPrimeFunc func(int32) int32

var (
	// Logger to use in this package; default is a no-op logger.
	logger = logr.Discard()
	// Cache implementation used to store calculated digit blocks; default
	// is a no-op cache.
	blockCache cache.Cache = cache.NewNoopCache()
	// The next prime function used by the digit extractor; default is the
	// trial-division oracle, which covers every prime the extractor can
	// visit inside the accurate range.
	nextPrime NextPrimeFunc = TrialNextPrime
)

// SetLogger changes the logger instance used by this package.
func SetLogger(l logr.Logger) {
	logger = l
}

// SetCache changes the Cache implementation used by this package.
func SetCache(c cache.Cache) {
	if c != nil {
		blockCache = c
	}
}

// SetNextPrimeFunc changes the next prime calculation function used by this
// package.
func SetNextPrimeFunc(f NextPrimeFunc) {
	if f != nil {
		nextPrime = f
	}
}

// BlockDigits returns the 9 consecutive fractional digits of pi that start at
// the zero-based offset, consulting the configured Cache before falling back
// to calculation. E.g. BlockDigits(ctx, 0) -> "141592653".
func BlockDigits(ctx context.Context, offset uint64) (string, error) {
	l := logger.V(1).WithValues("offset", offset)
	l.Info("BlockDigits: enter")
	key := strconv.FormatUint(offset, 16)
	digits, err := blockCache.GetValue(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to retrieve digits from cache: %w", err)
	}
	if digits == "" {
		digits = GosperDigits(offset)
		if err := blockCache.SetValue(ctx, key, digits); err != nil {
			return "", fmt.Errorf("failed to store digits in cache: %w", err)
		}
	}
	l.Info("BlockDigits: exit", "digits", digits)
	return digits, nil
}

// FractionalDigit returns the single fractional digit of pi at the zero-based
// offset n, calculated or recalled as part of its enclosing 9-digit block.
func FractionalDigit(ctx context.Context, n uint64) (uint32, error) {
	l := logger.V(1).WithValues("n", n)
	l.Info("FractionalDigit: enter")
	digits, err := BlockDigits(ctx, n/9*9)
	if err != nil {
		return 0, err
	}
	digit := uint32(digits[n%9] - '0')
	l.Info("FractionalDigit: exit", "digit", digit)
	return digit, nil
}

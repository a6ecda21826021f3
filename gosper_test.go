package pifactory

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"testing"

	"github.com/DaveMcW/pifactory/pkg/cache"
	"github.com/alicebob/miniredis"
)

const (
	// First 100 fractional digits of pi.
	piDigits = "1415926535897932384626433832795028841971693993751058209749445923078164062862089986280348253421170679"
)

func TestGosperDigits(t *testing.T) {
	for offset := uint64(0); offset+9 <= uint64(len(piDigits)); offset += 9 {
		expected := piDigits[offset : offset+9]
		if actual := GosperDigits(offset); actual != expected {
			t.Errorf("Checking offset %d: expected %s got %s", offset, expected, actual)
		}
	}
}

// Blocks are not required to start on a multiple of 9; the extractor shifts
// any offset into the most significant decimal place.
func TestGosperDigits_UnalignedOffsets(t *testing.T) {
	for _, offset := range []uint64{1, 4, 13, 22, 57, 88} {
		expected := piDigits[offset : offset+9]
		if actual := GosperDigits(offset); actual != expected {
			t.Errorf("Checking offset %d: expected %s got %s", offset, expected, actual)
		}
	}
}

func TestGosperDigits_Deterministic(t *testing.T) {
	for _, offset := range []uint64{0, 7, 90} {
		first := GosperDigits(offset)
		second := GosperDigits(offset)
		if first != second {
			t.Errorf("Checking offset %d: repeated calls returned %s then %s", offset, first, second)
		}
	}
}

// Offsets past AccurateDigits are documented to produce possibly-wrong
// digits; they must still produce a well-defined block without panicking.
func TestGosperDigits_PastAccurateRange(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping accuracy boundary offsets in short mode")
	}
	for _, offset := range []uint64{AccurateDigits - 8, AccurateDigits + 100} {
		first := GosperDigits(offset)
		if _, err := strconv.ParseInt(first, 10, 64); err != nil {
			t.Errorf("Checking offset %d: result %q is not an integer: %v", offset, first, err)
		}
		if second := GosperDigits(offset); second != first {
			t.Errorf("Checking offset %d: repeated calls returned %s then %s", offset, first, second)
		}
	}
}

func TestBlockDigits_WithRedisCache(t *testing.T) {
	ctx := context.Background()
	mock, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Error running miniredis: %v", err)
	}
	SetCache(cache.NewRedisCache(ctx, mock.Addr()))
	t.Cleanup(func() { SetCache(cache.NewNoopCache()) })
	// Two passes; the second is served from the cache.
	for pass := 0; pass < 2; pass++ {
		for offset := uint64(0); offset < 27; offset += 9 {
			expected := piDigits[offset : offset+9]
			actual, err := BlockDigits(ctx, offset)
			if err != nil {
				t.Errorf("Error calling BlockDigits: %v", err)
			}
			if actual != expected {
				t.Errorf("Pass %d offset %d: expected %s got %s", pass, offset, expected, actual)
			}
		}
	}
}

func TestFractionalDigit(t *testing.T) {
	ctx := context.Background()
	for i := uint64(0); i < uint64(len(piDigits)); i++ {
		expected := uint32(piDigits[i] - '0')
		actual, err := FractionalDigit(ctx, i)
		if err != nil {
			t.Errorf("Error calling FractionalDigit: %v", err)
		}
		if actual != expected {
			t.Errorf("Checking offset %d: expected %d got %d", i, expected, actual)
		}
	}
}

func TestPowMod(t *testing.T) {
	moduli := []int32{3, 9, 2187, 19683, 5, 3125, 49, 16807, 211, 28657, 44521}
	bases := []int32{2, 5, 10, 123}
	exponents := []int32{0, 1, 2, 17, 100, 17400}
	for _, m := range moduli {
		for _, a := range bases {
			for _, b := range exponents {
				expected := new(big.Int).Exp(
					big.NewInt(int64(a)), big.NewInt(int64(b)), big.NewInt(int64(m)),
				).Int64()
				if actual := powMod(a, b, m); int64(actual) != expected {
					t.Errorf("powMod(%d, %d, %d): expected %d got %d", a, b, m, expected, actual)
				}
			}
		}
	}
}

func testInvModRoundTrip(t *testing.T, a, m int32) {
	t.Helper()
	inv := invMod(a, m)
	if inv < 0 || inv >= m {
		t.Errorf("invMod(%d, %d) = %d is outside [0, %d)", a, m, inv, m)
	}
	product := (int64(a)*int64(inv)%int64(m) + int64(m)) % int64(m)
	if product != 1%int64(m) {
		t.Errorf("invMod(%d, %d) = %d: product is %d mod %d", a, m, inv, product, m)
	}
}

func TestInvMod_LongestCase(t *testing.T) {
	// The worst case for the fixed iteration count: consecutive Fibonacci
	// numbers maximize the length of the Euclidean algorithm.
	testInvModRoundTrip(t, 17711, 28657)
}

func TestInvMod_NegativeValue(t *testing.T) {
	// Wrapped products can hand a negative residue to invMod; it must
	// normalize before inverting.
	for _, m := range []int32{97, 2048, 28657} {
		testInvModRoundTrip(t, -5, m)
	}
}

// Exercise invMod against every working modulus the extractor selects for a
// spread of offsets, with a sample of residues per modulus.
func TestInvMod_ExtractorModuli(t *testing.T) {
	for _, offset := range []int32{0, 50, 500} {
		N := (offset + 19) * 238 / 269
		for prime := int32(2); prime <= 3*N; prime = TrialNextPrime(prime) {
			exponent := int32(-1)
			for i, limit := range powerLimit {
				if prime > limit {
					break
				}
				if intPow(prime, int32(i)) <= 3*N {
					exponent++
				}
			}
			m := intPow(prime, exponent)
			if prime == 2 {
				m = intPow(prime, exponent+N-1-offset)
				if m == 0 {
					continue
				}
			}
			if m < 2 {
				continue
			}
			step := m/100 + 1
			for a := int32(1); a < m; a += step {
				if a%prime == 0 {
					continue
				}
				testInvModRoundTrip(t, a, m)
			}
		}
	}
}

func TestFactorOut(t *testing.T) {
	powersOf3 := []int32{1, 3, 9, 27, 81, 243, 729, 2187, 6561, 19683}
	tests := []struct {
		n        int32
		reduced  int32
		exponent int32
	}{
		{7, 7, 0},
		{6, 2, 1},
		{189, 7, 3},
		{81, 1, 4},
		{39366, 2, 9},
	}
	for _, tt := range tests {
		reduced, exponent := factorOut(tt.n, powersOf3)
		if reduced != tt.reduced || exponent != tt.exponent {
			t.Errorf("factorOut(%d): expected (%d, %d) got (%d, %d)",
				tt.n, tt.reduced, tt.exponent, reduced, exponent)
		}
		if exponent > 0 && reduced%3 == 0 && exponent < int32(len(powersOf3)-1) {
			t.Errorf("factorOut(%d): residue %d still divisible by 3", tt.n, reduced)
		}
	}
}

// A single add must produce exactly the first and second 9-digit groups of
// n/d; big.Int supplies the reference value.
func TestFixedSum_SingleAdd(t *testing.T) {
	e9 := big.NewInt(1000000000)
	e18 := new(big.Int).Mul(e9, e9)
	tests := []struct{ n, d int32 }{
		{1, 2},
		{1, 3},
		{2, 3},
		{1, 8},
		{124, 125},
		{3, 49},
		{12344, 19683},
		{1, 46337},
		{46336, 46337},
		{1, 8388608},
		{4095, 4194304},
		{8388607, 8388608},
	}
	for _, tt := range tests {
		var s fixedSum
		s.add(tt.n, tt.d)
		n := big.NewInt(int64(tt.n))
		d := big.NewInt(int64(tt.d))
		expectedHi := new(big.Int).Div(new(big.Int).Mul(n, e9), d)
		expectedLo := new(big.Int).Div(new(big.Int).Mul(n, e18), d)
		expectedLo.Sub(expectedLo, new(big.Int).Mul(expectedHi, e9))
		if int64(s.hi) != expectedHi.Int64() || int64(s.lo) != expectedLo.Int64() {
			t.Errorf("add(%d, %d): expected (%d, %d) got (%d, %d)",
				tt.n, tt.d, expectedHi.Int64(), expectedLo.Int64(), s.hi, s.lo)
		}
	}
}

func TestFixedSum_Carry(t *testing.T) {
	var s fixedSum
	s.add(2, 3)
	s.add(2, 3)
	// 4/3 mod 1, with the per-term truncation in the 18th place.
	if s.hi != 333333333 || s.lo != 333333332 {
		t.Errorf("expected (333333333, 333333332) got (%d, %d)", s.hi, s.lo)
	}
}

func TestFixedSum_WordsStayInRange(t *testing.T) {
	var s fixedSum
	fractions := []struct{ n, d int32 }{
		{2, 3}, {6, 7}, {10, 11}, {4094, 4096}, {48, 49}, {12, 13}, {999, 1024}, {46336, 46337},
	}
	for _, f := range fractions {
		s.add(f.n, f.d)
		if s.hi < 0 || s.hi >= 1000000000 || s.lo < 0 || s.lo >= 1000000000 {
			t.Errorf("after add(%d, %d): words (%d, %d) out of range", f.n, f.d, s.hi, s.lo)
		}
	}
}

func TestFixedSum_OrderIndependent(t *testing.T) {
	fractions := []struct{ n, d int32 }{
		{1, 3}, {2, 7}, {5, 11}, {123, 4096}, {3, 49}, {7, 13}, {999, 1024}, {1, 46337},
	}
	var forward, reverse fixedSum
	for i := range fractions {
		forward.add(fractions[i].n, fractions[i].d)
		f := fractions[len(fractions)-1-i]
		reverse.add(f.n, f.d)
	}
	if forward != reverse {
		t.Errorf("accumulation order changed the result: (%d, %d) != (%d, %d)",
			forward.hi, forward.lo, reverse.hi, reverse.lo)
	}
}

func TestIntPow(t *testing.T) {
	tests := []struct {
		base, exp, expected int32
	}{
		{2, -1, 0},
		{3, -5, 0},
		{2, 0, 1},
		{2, 9, 512},
		{3, 9, 19683},
		{10, 4, 10000},
		{2, 30, 1073741824},
		{2, 31, -2147483648},
		{2, 100, -2147483648},
		{3, 20, -2147483648},
	}
	for _, tt := range tests {
		if actual := intPow(tt.base, tt.exp); actual != tt.expected {
			t.Errorf("intPow(%d, %d): expected %d got %d", tt.base, tt.exp, tt.expected, actual)
		}
	}
}

func BenchmarkGosperDigits(b *testing.B) {
	for _, offset := range []uint64{0, 99, 999, 9999} {
		b.Run(fmt.Sprintf("offset=%d", offset), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_ = GosperDigits(offset)
			}
		})
	}
}

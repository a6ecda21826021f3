package pifactory

// Implements a constant-memory digit extraction algorithm over the Gosper
// hypergeometric series,
//
//	pi = sum( (50*k-6) / (binomial(3*k,k) * 2^k), k=0..infinity )
//
// based on source code published by David McWilliams at
// https://github.com/DaveMcW/pi, which in turn derives from pi1.c by
// Fabrice Bellard (https://bellard.org/pi/) and the constant-memory
// algorithm of Simon Plouffe (https://arxiv.org/abs/0912.0303).
//
// Every intermediate value fits in a signed 32-bit word. The arithmetic
// wraps for offsets where 3*N exceeds sqrt(MaxInt32), so only the first
// AccurateDigits fractional digits are guaranteed correct; larger offsets
// still produce well-defined 9-digit blocks, just not necessarily the right
// ones.

import (
	"fmt"
	"math"
)

// AccurateDigits is the largest fractional digit offset for which every
// intermediate product stays inside 32 bits. Past this the series modulus can
// reach 3*N > sqrt(MaxInt32) and blocks silently degrade.
const AccurateDigits = 17400

// powerLimit[i] is the largest prime whose i-th power stays at or below
// 50000. Ten powers per prime are enough for every offset inside the
// accurate range.
var powerLimit = [10]int32{50000, 50000, 223, 36, 14, 8, 6, 4, 3, 3}

// powMod returns (a^b) mod m by repeated squaring.
func powMod(a, b, m int32) int32 {
	result := int32(1)
	for b > 0 {
		if b&1 == 1 {
			result = result * a % m
		}
		a = a * a % m
		b >>= 1
	}
	return result
}

// invMod solves (a * x) mod m == 1 for x via the extended Euclidean
// algorithm, returning a value in [0, m). Negative a is normalized by adding
// m. Eleven iterations are enough for every modulus the extractor produces,
// since m is always a prime power below sqrt(MaxInt32); the longest case is
// a=17711, m=28657.
func invMod(a, m int32) int32 {
	if a < 0 {
		a += m
	}
	b := m
	x := int32(1)
	y := int32(0)
	for i := 0; i < 11; i++ {
		var q int32
		if a != 0 {
			q = b / a
		}
		b -= a * q
		y -= x * q
		q = 0
		if b != 0 {
			q = a / b
		}
		a -= b * q
		x -= y * q
	}
	if b == 0 {
		return x
	}
	return y + m
}

// intPow returns base**exp as a 32-bit integer, reproducing the conversion
// through C's pow() that the reference implementation relies on: a negative
// exponent truncates to 0 and any result past MaxInt32 saturates to MinInt32.
// In practice only powers of two can exceed the range here, and MinInt32 is
// congruent to the true power for those moduli (both are multiples of 2^23).
func intPow(base, exp int32) int32 {
	if exp < 0 {
		return 0
	}
	result := int64(1)
	for ; exp > 0; exp-- {
		result *= int64(base)
		if result > math.MaxInt32 {
			return math.MinInt32
		}
	}
	return int32(result)
}

// factorOut removes the largest tabulated power of the current prime that
// divides t, returning the reduced value and the exponent that was removed.
// The scan runs from the largest power down so a value divisible by p^3 is
// stripped in one call, not merely by p. Index 0 always holds 1, so the
// result is defined for any t.
func factorOut(t int32, powers []int32) (int32, int32) {
	for i := len(powers) - 1; i > 0; i-- {
		if t%powers[i] == 0 {
			return t / powers[i], int32(i)
		}
	}
	return t, 0
}

// fixedSum is a running fractional total, mod 1, held as two 9-digit
// fixed-point words for 18 decimal places. Both words stay in [0, 1e9)
// after every add.
type fixedSum struct {
	hi, lo int32
}

// add folds the fraction n/d into the running sum, where 0 <= n < d and d is
// a prime power below sqrt(MaxInt32). An exception is made for powers of 2,
// where d may be up to 8388608. The scale factors 32000 and 31250 multiply to
// 1e9 without any intermediate product leaving 32 bits.
func (s *fixedSum) add(n, d int32) {
	// Rescale large powers of 2; 125/32000 restores the discarded 1/256.
	r := int32(0)
	if d > 60000 {
		d = d / 256
		r = n % 256 * 125
		n = n / 256
	}

	// Digits 1 to 9
	a := n*32000 + r
	s.hi += a / d * 31250
	b := a % d * 31250
	s.hi += b / d

	// Digits 10 to 18
	c := b % d * 32000
	s.lo += c / d * 31250
	s.lo += c % d * 31250 / d

	// Carry
	if s.lo > 1000000000 {
		s.hi++
	}

	// Discard overflow digits
	s.hi = s.hi % 1000000000
	s.lo = s.lo % 1000000000
}

// GosperDigits calculates the 9 fractional decimal digits of pi that begin at
// the zero-based offset n, e.g. GosperDigits(0) -> "141592653". The result is
// guaranteed correct for offsets up to AccurateDigits and remains a
// well-defined 9-digit string beyond it.
//
// The Gosper series is factored into one fraction per prime p <= 3*N, each
// over a prime-power modulus, and the fractions are accumulated in 18-digit
// fixed point. N is the number of series terms needed for the requested
// offset.
func GosperDigits(n uint64) string {
	l := logger.V(1).WithValues("n", n)
	l.Info("GosperDigits: enter")
	if n > AccurateDigits {
		logger.Info("GosperDigits: offset is past the accurate range, digits may be wrong",
			"n", n, "accurateDigits", AccurateDigits)
	}
	start := int32(n)
	// N = (start + 19) / log10(13.5); 13.5 is the growth rate of the
	// series denominator, and 269/238 approximates log10(13.5).
	N := (start + 19) * 238 / 269
	var sum fixedSum

	for prime := int32(2); prime <= 3*N; prime = nextPrime(prime) {
		// Ascending powers of the current prime, bounded by powerLimit.
		powers := make([]int32, 0, len(powerLimit))
		for i, limit := range powerLimit {
			if prime > limit {
				break
			}
			powers = append(powers, intPow(prime, int32(i)))
		}

		// Small primes appear in the series denominators with exponent
		// greater than 1; count the tabulated powers within 3*N to pick
		// the working modulus.
		exponent := int32(-1)
		for _, power := range powers {
			if power <= 3*N {
				exponent++
			}
		}
		m := intPow(prime, exponent)

		if prime == 2 {
			// Add the 2^N term from the series denominator.
			exponent += N - 1
			// The 10^start decimal shift in the numerator carries
			// start powers of 2; spend them cancelling the 2^N term.
			m = intPow(prime, exponent-start)
			// start grows faster than N, so eventually the whole
			// exponent cancels and prime 2 contributes nothing.
			if m == 0 {
				continue
			}
		}

		// Multiply by 10^start to move the target digit into the most
		// significant decimal place. The powers of 2 were already spent
		// above, so prime 2 shifts by 5^start instead.
		decimal := int32(10)
		if prime == 2 {
			decimal = 5
		}
		decimalShift := powMod(decimal, start, m)

		subtotal := int32(0)
		numerator := int32(1)
		denominator := int32(1)
		for k := int32(1); k <= N; k++ {
			// Terms for the numerator
			t1, count := factorOut(2*k, powers)
			exponent += count
			t2, count := factorOut(2*k-1, powers)
			exponent += count
			terms := (t1 % m) * (t2 % m) % m
			numerator = numerator * terms % m

			// Terms for the denominator
			t3, count := factorOut(6*k-4, powers)
			exponent -= count
			t4, count := factorOut(9*k-3, powers)
			exponent -= count
			terms = (t3 % m) * (t4 % m) % m
			denominator = denominator * terms % m

			// Multiply all parts together
			t := (50*k - 6) % m
			t = t * intPow(prime, exponent) % m
			t = t * numerator % m
			t = t * invMod(denominator, m)

			subtotal = (subtotal + t) % m
		}
		subtotal = subtotal * decimalShift % m

		// The prime's contribution is the fraction subtotal / m.
		sum.add(subtotal, m)
	}
	result := fmt.Sprintf("%09d", sum.hi)
	l.Info("GosperDigits: exit", "result", result)
	return result
}

package pifactory

import (
	"math/big"
)

const (
	// The number of MR rounds to use when determining if the number is
	// probably a prime. A value of zero will apply a Baillie-PSW only test
	// and requires Go 1.8+.
	millerRabinRounds = 0
)

var two = big.NewInt(2)

// BigNextPrime returns the prime number immediately after n using the
// math/big probable-prime test. Slower than TrialNextPrime but valid past
// 211*211, for callers that push the extractor beyond the accurate range.
// Install it with SetNextPrimeFunc.
func BigNextPrime(n int32) int32 {
	l := logger.V(1).WithValues("n", n)
	l.Info("BigNextPrime: enter")
	var result int32
	if n < 2 {
		result = 2
	} else {
		var next *big.Int
		if n%2 == 0 {
			next = big.NewInt(int64(n + 1))
		} else {
			next = big.NewInt(int64(n + 2))
		}
		for ; !next.ProbablyPrime(millerRabinRounds); next = next.Add(next, two) {
		}
		result = int32(next.Int64())
	}
	l.Info("BigNextPrime: exit", "result", result)
	return result
}

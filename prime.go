package pifactory

// smallPrimes holds the 47 primes below 211. Trial division against this
// table is a complete primality test for values below 211*211 = 44521, which
// covers every prime the digit extractor visits inside the accurate range;
// the first composite it could misclassify is 223*223 = 49729, the smallest
// with no factor in the table.
var smallPrimes = [47]int32{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29,
	31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113,
	127, 131, 137, 139, 149, 151, 157, 163, 167, 173,
	179, 181, 191, 193, 197, 199, 211,
}

// Report whether n is prime by trial division against the table of small
// primes. A prime is allowed to divide itself.
func isPrime(n int32) bool {
	for _, p := range smallPrimes {
		if n == p {
			return true
		}
		if n%p == 0 {
			return false
		}
	}
	return true
}

// TrialNextPrime returns the prime number immediately after n, determined by
// trial division. Only valid for results below 211*211; use BigNextPrime for
// anything larger.
func TrialNextPrime(n int32) int32 {
	for {
		n++
		if isPrime(n) {
			return n
		}
	}
}

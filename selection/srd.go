package selection

import "math/rand"

// SelectSingleRandomDraw shuffles the candidate set with a package-level
// source and then runs the shared accumulative stop rule. Use
// SelectSingleRandomDrawWithRand in tests that need a deterministic shuffle.
func SelectSingleRandomDraw(utxos []UTXO, req Request) Outcome {
	return SelectSingleRandomDrawWithRand(utxos, req, rand.New(rand.NewSource(rand.Int63())))
}

// SelectSingleRandomDrawWithRand is the testable variant of
// SelectSingleRandomDraw that takes an explicit random source.
func SelectSingleRandomDrawWithRand(utxos []UTXO, req Request, rng *rand.Rand) Outcome {
	if len(utxos) == 0 {
		return failure(FailInsufficientFunds, "no utxos available")
	}

	shuffled := make([]UTXO, len(utxos))
	copy(shuffled, utxos)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	return accumulateBy(string(SingleRandomDraw), shuffled, req)
}

// Package shard fans one logical ladder out across several independent
// exchange accounts. Ladder indices map to accounts by index modulo the
// account count; the coordinator routes commands to the owning account and
// merges every account's acknowledgement stream back into one, so the engine
// above it sees a single venue.
package shard

// AccountFor returns the account owning a ladder index.
func AccountFor(index, accounts int) int {
	if accounts <= 1 {
		return 0
	}
	return index % accounts
}

// SplitQuantity divides a total as evenly as possible across n accounts,
// with the remainder distributed to the first accounts.
func SplitQuantity(total int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	out := make([]int64, n)
	base := total / int64(n)
	rem := total % int64(n)
	for i := range out {
		out[i] = base
		if int64(i) < rem {
			out[i]++
		}
	}
	return out
}

package beam

// prune keeps the k candidates with the greatest log-likelihood, returned in
// descending score order. Ties preserve input order, so pruning is
// deterministic for any input. k >= len(b) returns the population reordered
// but intact.
//
// Selection is a bounded insertion over candidate indices, O(len(b) * k);
// populations stay small enough (beam size times branch factor) that this
// beats the constant factors of a full sort.
func prune(b Beam, k int) Beam {
	if k <= 0 {
		return Beam{}
	}
	if k > len(b) {
		k = len(b)
	}

	// best holds indices into b, ordered by descending log-likelihood with
	// earlier input indices first among equals.
	best := make([]int, 0, k)
	for i := range b {
		pos := len(best)
		for pos > 0 && b[best[pos-1]].LogLik < b[i].LogLik {
			pos--
		}
		if pos == k {
			continue
		}
		if len(best) < k {
			best = append(best, 0)
		}
		copy(best[pos+1:], best[pos:len(best)-1])
		best[pos] = i
	}

	out := make(Beam, len(best))
	for i, idx := range best {
		out[i] = b[idx]
	}
	return out
}

package cpfp

import "github.com/btcbuilder/txbuilder/txerrors"

// Graph maps a transaction id to the transaction ids of its direct
// parents (the outpoints it spends), used to validate a CPFP package has
// no cyclic dependency before it is broadcast.
type Graph map[string][]string

// DetectCycle walks the graph with a depth-first search that tracks the
// current recursion stack; a node reachable from itself via that stack is
// a cycle. Mirrors the adjacency-map DFS idiom used elsewhere in the pack
// for transaction-graph traversal.
func DetectCycle(g Graph) error {
	state := make(map[string]int, len(g)) // 0=unvisited, 1=in-stack, 2=done

	var visit func(node string) error
	visit = func(node string) error {
		switch state[node] {
		case 1:
			return txerrors.New(txerrors.KindCycleDetected, "transaction %s is reachable from itself through its parent chain", node)
		case 2:
			return nil
		}

		state[node] = 1
		for _, parent := range g[node] {
			if err := visit(parent); err != nil {
				return err
			}
		}
		state[node] = 2
		return nil
	}

	for node := range g {
		if err := visit(node); err != nil {
			return err
		}
	}
	return nil
}

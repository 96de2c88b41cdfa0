package benchmark

import (
	"fmt"
	"strconv"
)

// Resource names are built only here.
//
// Every component of a rumor scenario id is a non-negative decimal without sign or leading zeros, so
// components never contain the '-' separator and distinct (nodes, edges, concurrency) triples always
// give distinct ids. Consensus ids carry a fixed "test" prefix followed by the same kind of decimal.

func RumorScenarioID(nodes, edges, concurrency int) (string, error) {
	if nodes <= 0 || edges < 0 || concurrency <= 0 {
		return "", fmt.Errorf("invalid rumor scenario parameters: nodes=%d edges=%d concurrency=%d", nodes, edges, concurrency)
	}
	return strconv.Itoa(nodes) + "-" + strconv.Itoa(edges) + "-" + strconv.Itoa(concurrency), nil
}

func ConsensusScenarioID(trial int) (string, error) {
	if trial < 0 {
		return "", fmt.Errorf("invalid consensus trial index %d", trial)
	}
	return "test" + strconv.Itoa(trial), nil
}

// The pod of the given 1-based ordinal in a scenario's deployment, e.g. node-6-9-2-1.
func NodePodName(scenarioID string, ordinal int) string {
	return "node-" + scenarioID + "-" + strconv.Itoa(ordinal)
}

package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/veridianhq/veridian/pkg/models"
)

// checkConvergence computes the join-convergence diagnostics. These are
// warnings, never publish-blocking:
//
//   - a gateway whose branches share more than one common join is flagged on
//     the gateway (multipleCommon);
//   - a join fed by branches of more than one gateway is flagged on the join
//     (multipleCommon);
//   - a join that receives a strict subset of a gateway's branches is flagged
//     on the join (subsetJoins).
func (a *analysis) checkConvergence(result *ValidationResult) {
	// joinFeeders counts, per join, how many distinct gateways send at least
	// one branch into it.
	joinFeeders := make(map[string]map[string]bool)

	for _, node := range a.graph.Nodes {
		if !node.IsGateway() {
			continue
		}

		branches := a.out[node.ID]
		if len(branches) == 0 {
			continue
		}

		perBranch := make([]map[string]bool, 0, len(branches))
		reachCount := make(map[string]int)

		for _, branch := range branches {
			joins := a.nearestJoins(branch.To)
			perBranch = append(perBranch, joins)

			for joinID := range joins {
				reachCount[joinID]++

				if joinFeeders[joinID] == nil {
					joinFeeders[joinID] = make(map[string]bool)
				}

				joinFeeders[joinID][node.ID] = true
			}
		}

		common := intersect(perBranch)
		if len(common) > 1 {
			joined := strings.Join(sortedSet(common), ", ")

			result.addWarning(Issue{
				Code:    CodeMultipleCommonJoins,
				Message: fmt.Sprintf("branches of gateway %q converge on multiple joins: %s", node.ID, joined),
				NodeID:  node.ID,
			})
			result.Diagnostics.ParallelGateways[node.ID] = append(
				result.Diagnostics.ParallelGateways[node.ID],
				fmt.Sprintf("%s: converging joins %s", CodeMultipleCommonJoins, joined),
			)
		}

		for _, joinID := range sortedKeys(reachCount) {
			count := reachCount[joinID]
			if count > 0 && count < len(branches) {
				result.addWarning(Issue{
					Code:    CodeSubsetJoin,
					Message: fmt.Sprintf("join %q receives %d of %d branches of gateway %q", joinID, count, len(branches), node.ID),
					NodeID:  joinID,
				})
				result.Diagnostics.Joins[joinID] = append(
					result.Diagnostics.Joins[joinID],
					fmt.Sprintf("%s: receives %d of %d branches of gateway %q", CodeSubsetJoin, count, len(branches), node.ID),
				)
			}
		}
	}

	for _, joinID := range sortedKeys(joinFeeders) {
		feeders := joinFeeders[joinID]
		if len(feeders) > 1 {
			joined := strings.Join(sortedSet(feeders), ", ")

			result.addWarning(Issue{
				Code:    CodeMultipleCommonJoins,
				Message: fmt.Sprintf("join %q receives converging branches from multiple gateways: %s", joinID, joined),
				NodeID:  joinID,
			})
			result.Diagnostics.Joins[joinID] = append(
				result.Diagnostics.Joins[joinID],
				fmt.Sprintf("%s: fed by gateways %s", CodeMultipleCommonJoins, joined),
			)
		}
	}
}

// nearestJoins returns the set of join nodes a branch converges on: the first
// join encountered along each path from the branch head. Traversal does not
// descend past a join, so a second join downstream of the first does not
// count as a convergence target of this branch.
func (a *analysis) nearestJoins(headID string) map[string]bool {
	joins := make(map[string]bool)
	visited := make(map[string]bool)
	stack := []string{headID}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if visited[current] {
			continue
		}

		visited[current] = true

		node, exists := a.nodes[current]
		if !exists {
			continue
		}

		if node.Type == models.NodeTypeJoin {
			joins[current] = true

			continue
		}

		for _, edge := range a.out[current] {
			stack = append(stack, edge.To)
		}
	}

	return joins
}

func intersect(sets []map[string]bool) map[string]bool {
	if len(sets) == 0 {
		return map[string]bool{}
	}

	common := make(map[string]bool, len(sets[0]))
	for key := range sets[0] {
		common[key] = true
	}

	for _, set := range sets[1:] {
		for key := range common {
			if !set[key] {
				delete(common, key)
			}
		}
	}

	return common
}

func sortedSet(set map[string]bool) []string {
	values := make([]string, 0, len(set))
	for value := range set {
		values = append(values, value)
	}

	sort.Strings(values)

	return values
}

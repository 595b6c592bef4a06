// Package graph performs structural validation of workflow graph bodies:
// reachability, binary-gateway branch completeness, orphan-branch detection
// and join-convergence diagnostics. Everything here is pure and deterministic;
// the validator holds no state and is safe to call concurrently.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/veridianhq/veridian/pkg/models"
)

// Issue codes reported in errors and warnings. The warning codes
// multipleCommon and subsetJoins are part of the contract consumed by the
// graph editor and must not be renamed.
const (
	CodeMalformedGraph        = "malformed_graph"
	CodeDuplicateNodeID       = "duplicate_node_id"
	CodeUnknownNodeReference  = "unknown_node_reference"
	CodeUnexpectedBranchLabel = "unexpected_branch_label"
	CodeDuplicateBranchLabel  = "duplicate_branch_label"
	CodeMissingStart          = "missing_start"
	CodeMultipleStart         = "multiple_start"
	CodeMissingEnd            = "missing_end"
	CodeUnreachableNode       = "unreachable_node"
	CodeMissingBranch         = "missing_branch"
	CodeOrphanBranch          = "orphan_branch"
	CodeMultipleCommonJoins   = "multipleCommon"
	CodeSubsetJoin            = "subsetJoins"
)

// Issue is a single validation finding, attached to the offending node or
// edge where one exists.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"node_id,omitempty"`
	EdgeID  string `json:"edge_id,omitempty"`
}

// Diagnostics keys convergence findings per node so the editor can annotate
// the offending gateway or join directly. The field names are a UI contract.
type Diagnostics struct {
	ParallelGateways map[string][]string `json:"parallelGateways"`
	Joins            map[string][]string `json:"joins"`
}

// ValidationResult is the complete outcome of one validation pass.
type ValidationResult struct {
	IsValid     bool        `json:"isValid"`
	Errors      []Issue     `json:"errors"`
	Warnings    []Issue     `json:"warnings"`
	Diagnostics Diagnostics `json:"diagnostics"`
}

func newResult() *ValidationResult {
	return &ValidationResult{
		Errors:   []Issue{},
		Warnings: []Issue{},
		Diagnostics: Diagnostics{
			ParallelGateways: map[string][]string{},
			Joins:            map[string][]string{},
		},
	}
}

func (r *ValidationResult) addError(issue Issue) {
	r.Errors = append(r.Errors, issue)
}

func (r *ValidationResult) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

// Validate parses and analyses a serialized graph body.
//
// Well-formedness problems (duplicate node ids, dangling edge references,
// branch-label misuse) are always errors so the editor can surface them while
// drafting. Reachability, branch completeness and orphan-branch detection run
// only in strict mode, which is the mode publishing requires; half-built
// drafts therefore stay saveable. Convergence diagnostics are warnings in
// both modes and never block publishing.
func Validate(body json.RawMessage, strict bool) *ValidationResult {
	result := newResult()

	if issues := checkSchema(body); len(issues) > 0 {
		result.Errors = append(result.Errors, issues...)

		return result
	}

	parsed, err := models.ParseGraph(body)
	if err != nil {
		result.addError(Issue{Code: CodeMalformedGraph, Message: err.Error()})

		return result
	}

	a := newAnalysis(parsed)

	wellFormed := a.checkWellFormedness(result)

	if wellFormed {
		if strict {
			a.checkStructure(result)
		}

		a.checkConvergence(result)
	}

	result.IsValid = len(result.Errors) == 0

	return result
}

// analysis carries the indexed graph shared by all checks.
type analysis struct {
	graph *models.Graph
	nodes map[string]*models.Node
	out   map[string][]*models.Edge
}

func newAnalysis(g *models.Graph) *analysis {
	a := &analysis{
		graph: g,
		nodes: make(map[string]*models.Node, len(g.Nodes)),
		out:   make(map[string][]*models.Edge),
	}

	for _, node := range g.Nodes {
		if _, exists := a.nodes[node.ID]; !exists {
			a.nodes[node.ID] = node
		}
	}

	for _, edge := range g.Edges {
		a.out[edge.From] = append(a.out[edge.From], edge)
	}

	return a
}

// checkWellFormedness reports id collisions, dangling references and
// branch-label misuse. These run in both strict and non-strict mode.
func (a *analysis) checkWellFormedness(result *ValidationResult) bool {
	clean := true

	seen := make(map[string]bool, len(a.graph.Nodes))
	for _, node := range a.graph.Nodes {
		if seen[node.ID] {
			clean = false

			result.addError(Issue{
				Code:    CodeDuplicateNodeID,
				Message: fmt.Sprintf("node id %q is used more than once", node.ID),
				NodeID:  node.ID,
			})
		}

		seen[node.ID] = true
	}

	labelsPerGateway := make(map[string]map[models.BranchLabel]int)

	for _, edge := range a.graph.Edges {
		from, fromOK := a.nodes[edge.From]
		if !fromOK {
			clean = false

			result.addError(Issue{
				Code:    CodeUnknownNodeReference,
				Message: fmt.Sprintf("edge %q references unknown source node %q", edge.ID, edge.From),
				EdgeID:  edge.ID,
			})
		}

		if _, toOK := a.nodes[edge.To]; !toOK {
			clean = false

			result.addError(Issue{
				Code:    CodeUnknownNodeReference,
				Message: fmt.Sprintf("edge %q references unknown target node %q", edge.ID, edge.To),
				EdgeID:  edge.ID,
			})
		}

		if edge.BranchLabel == nil {
			continue
		}

		if !fromOK || !from.IsBinaryGateway() {
			clean = false

			result.addError(Issue{
				Code:    CodeUnexpectedBranchLabel,
				Message: fmt.Sprintf("edge %q carries branch label %q but does not leave a binary gateway", edge.ID, *edge.BranchLabel),
				EdgeID:  edge.ID,
			})

			continue
		}

		if labelsPerGateway[edge.From] == nil {
			labelsPerGateway[edge.From] = make(map[models.BranchLabel]int)
		}

		labelsPerGateway[edge.From][*edge.BranchLabel]++
	}

	// A second true or false edge is a validation error, never a silent
	// replacement of the first.
	gatewayIDs := sortedKeys(labelsPerGateway)
	for _, gatewayID := range gatewayIDs {
		for _, label := range []models.BranchLabel{models.BranchTrue, models.BranchFalse} {
			if labelsPerGateway[gatewayID][label] > 1 {
				clean = false

				result.addError(Issue{
					Code:    CodeDuplicateBranchLabel,
					Message: fmt.Sprintf("gateway %q has more than one %q branch", gatewayID, label),
					NodeID:  gatewayID,
				})
			}
		}
	}

	return clean
}

// checkStructure runs the publish-blocking checks: a single start reaching
// every node, at least one end, complete binary-gateway branching and no
// orphan branches.
func (a *analysis) checkStructure(result *ValidationResult) {
	var starts []*models.Node

	endCount := 0

	for _, node := range a.graph.Nodes {
		switch node.Type {
		case models.NodeTypeStart:
			starts = append(starts, node)
		case models.NodeTypeEnd:
			endCount++
		}
	}

	switch {
	case len(starts) == 0:
		result.addError(Issue{Code: CodeMissingStart, Message: "graph has no start node"})
	case len(starts) > 1:
		for _, start := range starts[1:] {
			result.addError(Issue{
				Code:    CodeMultipleStart,
				Message: "graph has more than one start node",
				NodeID:  start.ID,
			})
		}
	}

	if endCount == 0 {
		result.addError(Issue{Code: CodeMissingEnd, Message: "graph has no end node"})
	}

	if len(starts) == 1 {
		reachable := a.reachableFrom(starts[0].ID)

		for _, node := range a.graph.Nodes {
			if !reachable[node.ID] {
				result.addError(Issue{
					Code:    CodeUnreachableNode,
					Message: fmt.Sprintf("node %q is not reachable from the start node", node.ID),
					NodeID:  node.ID,
				})
			}
		}
	}

	for _, node := range a.graph.Nodes {
		if !node.IsGateway() {
			continue
		}

		if node.IsBinaryGateway() {
			a.checkBinaryBranches(node, result)
		}

		for _, branch := range a.out[node.ID] {
			if !a.branchTerminates(branch.To) {
				result.addError(Issue{
					Code:    CodeOrphanBranch,
					Message: fmt.Sprintf("branch %q of gateway %q never reaches an end or join node", branch.ID, node.ID),
					NodeID:  node.ID,
					EdgeID:  branch.ID,
				})
			}
		}
	}
}

func (a *analysis) checkBinaryBranches(gateway *models.Node, result *ValidationResult) {
	present := make(map[models.BranchLabel]bool)

	for _, edge := range a.out[gateway.ID] {
		if edge.BranchLabel != nil {
			present[*edge.BranchLabel] = true
		}
	}

	for _, label := range []models.BranchLabel{models.BranchTrue, models.BranchFalse} {
		if !present[label] {
			result.addError(Issue{
				Code:    CodeMissingBranch,
				Message: fmt.Sprintf("gateway %q is missing its %q branch", gateway.ID, label),
				NodeID:  gateway.ID,
			})
		}
	}
}

// reachableFrom computes the node set reachable from the given node id.
func (a *analysis) reachableFrom(startID string) map[string]bool {
	reached := map[string]bool{startID: true}
	queue := []string{startID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range a.out[current] {
			if !reached[edge.To] {
				reached[edge.To] = true
				queue = append(queue, edge.To)
			}
		}
	}

	return reached
}

// branchTerminates reports whether any path from the branch head reaches an
// end or join node. Cycles without a terminal count as orphaned.
func (a *analysis) branchTerminates(headID string) bool {
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

		if node.IsTerminal() {
			return true
		}

		for _, edge := range a.out[current] {
			stack = append(stack, edge.To)
		}
	}

	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

package models

import (
	"encoding/json"
	"fmt"
)

// NodeType is the discriminator of the graph DSL's node union.
type NodeType string

const (
	NodeTypeStart     NodeType = "start"
	NodeTypeEnd       NodeType = "end"
	NodeTypeHumanTask NodeType = "humanTask"
	NodeTypeAutomatic NodeType = "automatic"
	NodeTypeGateway   NodeType = "gateway"
	NodeTypeTimer     NodeType = "timer"
	NodeTypeJoin      NodeType = "join"
)

// GatewayStrategy selects how a gateway node fans out at runtime.
type GatewayStrategy string

const (
	GatewayExclusive   GatewayStrategy = "exclusive"
	GatewayParallel    GatewayStrategy = "parallel"
	GatewayConditional GatewayStrategy = "conditional"
)

// JoinMode selects how many inbound branches a join waits for.
type JoinMode string

const (
	JoinAll JoinMode = "all"
	JoinAny JoinMode = "any"
)

// BranchLabel labels an edge leaving a binary gateway.
type BranchLabel string

const (
	BranchTrue  BranchLabel = "true"
	BranchFalse BranchLabel = "false"
)

// GatewayConfig is the payload carried by gateway nodes.
type GatewayConfig struct {
	Strategy GatewayStrategy `json:"strategy"`
}

// JoinConfig is the payload carried by join nodes.
type JoinConfig struct {
	Mode JoinMode `json:"mode"`
}

// HumanTaskConfig is the payload carried by humanTask nodes. The assignment
// fields are metadata for the runtime; structural validation only needs the
// node to exist.
type HumanTaskConfig struct {
	Assignee string `json:"assignee,omitempty"`
	FormKey  string `json:"formKey,omitempty"`
}

// AutomaticConfig is the payload carried by automatic nodes.
type AutomaticConfig struct {
	Handler string `json:"handler,omitempty"`
}

// TimerConfig is the payload carried by timer nodes.
type TimerConfig struct {
	Duration string `json:"duration,omitempty"`
}

// Node is a tagged union: Type discriminates which payload pointer is set.
// Exactly one payload is non-nil for the payload-carrying types; start and
// end nodes carry none.
type Node struct {
	ID    string   `json:"id"`
	Type  NodeType `json:"type"`
	Label string   `json:"label,omitempty"`

	Gateway   *GatewayConfig   `json:"-"`
	Join      *JoinConfig      `json:"-"`
	HumanTask *HumanTaskConfig `json:"-"`
	Automatic *AutomaticConfig `json:"-"`
	Timer     *TimerConfig     `json:"-"`
}

// nodeEnvelope is the flat wire shape of a node; type-specific fields live
// inline next to the discriminator, which is what the graph editor produces.
type nodeEnvelope struct {
	ID       string           `json:"id"`
	Type     NodeType         `json:"type"`
	Label    string           `json:"label,omitempty"`
	Strategy *GatewayStrategy `json:"strategy,omitempty"`
	Mode     *JoinMode        `json:"mode,omitempty"`
	Assignee string           `json:"assignee,omitempty"`
	FormKey  string           `json:"formKey,omitempty"`
	Handler  string           `json:"handler,omitempty"`
	Duration string           `json:"duration,omitempty"`
}

// UnmarshalJSON decodes the flat wire shape into the tagged union, rejecting
// unknown discriminator values.
func (n *Node) UnmarshalJSON(data []byte) error {
	var envelope nodeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode node: %w", err)
	}

	n.ID = envelope.ID
	n.Label = envelope.Label
	n.Type = envelope.Type

	switch envelope.Type {
	case NodeTypeStart, NodeTypeEnd:
		// No payload.
	case NodeTypeGateway:
		strategy := GatewayExclusive
		if envelope.Strategy != nil {
			strategy = *envelope.Strategy
		}

		switch strategy {
		case GatewayExclusive, GatewayParallel, GatewayConditional:
		default:
			return fmt.Errorf("node %q: unknown gateway strategy %q", envelope.ID, strategy)
		}

		n.Gateway = &GatewayConfig{Strategy: strategy}
	case NodeTypeJoin:
		mode := JoinAll
		if envelope.Mode != nil {
			mode = *envelope.Mode
		}

		switch mode {
		case JoinAll, JoinAny:
		default:
			return fmt.Errorf("node %q: unknown join mode %q", envelope.ID, mode)
		}

		n.Join = &JoinConfig{Mode: mode}
	case NodeTypeHumanTask:
		n.HumanTask = &HumanTaskConfig{Assignee: envelope.Assignee, FormKey: envelope.FormKey}
	case NodeTypeAutomatic:
		n.Automatic = &AutomaticConfig{Handler: envelope.Handler}
	case NodeTypeTimer:
		n.Timer = &TimerConfig{Duration: envelope.Duration}
	default:
		return fmt.Errorf("node %q: unknown node type %q", envelope.ID, envelope.Type)
	}

	return nil
}

// MarshalJSON re-flattens the union into the wire shape.
func (n Node) MarshalJSON() ([]byte, error) {
	envelope := nodeEnvelope{
		ID:    n.ID,
		Type:  n.Type,
		Label: n.Label,
	}

	switch {
	case n.Gateway != nil:
		envelope.Strategy = &n.Gateway.Strategy
	case n.Join != nil:
		envelope.Mode = &n.Join.Mode
	case n.HumanTask != nil:
		envelope.Assignee = n.HumanTask.Assignee
		envelope.FormKey = n.HumanTask.FormKey
	case n.Automatic != nil:
		envelope.Handler = n.Automatic.Handler
	case n.Timer != nil:
		envelope.Duration = n.Timer.Duration
	}

	return json.Marshal(envelope)
}

// IsBinaryGateway reports whether the node is an exclusive or conditional
// gateway, which must expose exactly a true and a false branch.
func (n *Node) IsBinaryGateway() bool {
	return n.Type == NodeTypeGateway && n.Gateway != nil && n.Gateway.Strategy != GatewayParallel
}

// IsGateway reports whether the node branches.
func (n *Node) IsGateway() bool {
	return n.Type == NodeTypeGateway
}

// IsTerminal reports whether a branch may legally stop at this node.
func (n *Node) IsTerminal() bool {
	return n.Type == NodeTypeEnd || n.Type == NodeTypeJoin
}

// Edge is a directed connection between two nodes. BranchLabel is populated
// only on edges leaving a binary gateway.
type Edge struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	BranchLabel *BranchLabel `json:"branchLabel,omitempty"`
}

// Graph is the deserialized DSL a definition's graph body carries.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// ParseGraph decodes a serialized graph body.
func ParseGraph(body json.RawMessage) (*Graph, error) {
	var graph Graph
	if err := json.Unmarshal(body, &graph); err != nil {
		return nil, fmt.Errorf("failed to parse graph body: %w", err)
	}

	return &graph, nil
}

// NodeByID returns the node with the given id, or nil.
func (g *Graph) NodeByID(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

// OutgoingEdges returns the edges leaving the given node.
func (g *Graph) OutgoingEdges(nodeID string) []*Edge {
	var out []*Edge

	for _, edge := range g.Edges {
		if edge.From == nodeID {
			out = append(out, edge)
		}
	}

	return out
}

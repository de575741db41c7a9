// Package models defines the domain types for fraudlink.
package models

import (
	"encoding/json"
	"time"
)

// Default matcher weights applied when the registry has no override.
const (
	DefaultConfidence = 80
	DefaultImportance = 50
)

// MatchNode is one concrete (matcher, value) identity observed across transactions.
// Confidence and importance are fixed when the node is first created.
type MatchNode struct {
	ID         string    `json:"id"`
	Matcher    string    `json:"matcher"`
	Value      string    `json:"value"`
	Confidence int       `json:"confidence"`
	Importance int       `json:"importance"`
	CreatedAt  time.Time `json:"created_at"`
}

// MatchNodeLink associates one node with one transaction.
type MatchNodeLink struct {
	NodeID        string    `json:"node_id"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// MatchingField is an identity attribute extracted from a transaction.
type MatchingField struct {
	Matcher string `json:"matcher"`
	Value   string `json:"value"`
}

// DirectConnection is a one-hop relationship through a single shared node.
// A transaction sharing two nodes with the root yields two rows.
type DirectConnection struct {
	TransactionID string    `json:"transaction_id"`
	Matcher       string    `json:"matcher"`
	Value         string    `json:"value"`
	Confidence    int       `json:"confidence"`
	Importance    int       `json:"importance"`
	CreatedAt     time.Time `json:"created_at"`
}

// ConnectedTransaction is a transitively reachable transaction with the best
// path found to it. len(PathMatchers) == len(PathValues) == Depth.
type ConnectedTransaction struct {
	TransactionID string    `json:"transaction_id"`
	PathMatchers  []string  `json:"path_matchers"`
	PathValues    []string  `json:"path_values"`
	Depth         int       `json:"depth"`
	Confidence    int       `json:"confidence"`
	Importance    int       `json:"importance"`
	CreatedAt     time.Time `json:"created_at"`
}

// Transaction is the envelope pulled off the processing queue.
type Transaction struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Feature is a named numeric scoring input.
type Feature struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

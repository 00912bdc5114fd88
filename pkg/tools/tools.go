// Package tools is the closed set of operations the model may invoke.
// The set is fixed at compile time; nothing can register a new tool at
// runtime.
package tools

import "bankgate/pkg/oracle"

const (
	ToolLastTransaction  = "get_last_transaction"
	ToolRecentTxns       = "get_recent_transactions"
	ToolAccountBalance   = "calculate_account_balance"
	ToolTxnsByDate       = "get_transactions_by_date"
	ToolProductKnowledge = "search_product_knowledge"
)

var customerScopedTools = map[string]bool{
	ToolLastTransaction: true,
	ToolRecentTxns:      true,
	ToolAccountBalance:  true,
	ToolTxnsByDate:      true,
}

func accountParams(extra map[string]any) map[string]any {
	props := map[string]any{
		"customer_id": map[string]any{
			"type":        "string",
			"description": "The customer's ID (e.g., 'user123')",
		},
		"account_type": map[string]any{
			"type":        "string",
			"enum":        []string{"checking", "savings"},
			"description": "Account type ('checking' or 'savings')",
		},
	}
	required := []string{"customer_id", "account_type"}
	for k, v := range extra {
		props[k] = v
		if k != "limit" {
			required = append(required, k)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Definitions returns the tool schemas advertised to the model. The slice is
// rebuilt on each call so callers can't mutate the set.
func Definitions() []oracle.ToolDef {
	return []oracle.ToolDef{
		{
			Name:        ToolLastTransaction,
			Description: "Get the most recent transaction for a customer's account.",
			Parameters:  accountParams(nil),
		},
		{
			Name:        ToolRecentTxns,
			Description: "Get recent transactions for a customer's account.",
			Parameters: accountParams(map[string]any{
				"limit": map[string]any{
					"type":        "integer",
					"description": "Number of transactions to return (1-10)",
				},
			}),
		},
		{
			Name:        ToolAccountBalance,
			Description: "Calculate current account balance from all transactions.",
			Parameters:  accountParams(nil),
		},
		{
			Name:        ToolTxnsByDate,
			Description: "Get transactions for a specific date.",
			Parameters: accountParams(map[string]any{
				"date": map[string]any{
					"type":        "string",
					"description": "Date in format 'YYYY-MM-DD' (e.g., '2026-01-09')",
				},
			}),
		},
		{
			Name:        ToolProductKnowledge,
			Description: "Search the bank's product knowledge base for product information.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The product question to look up",
					},
				},
				"required": []string{"query"},
			},
		},
	}
}

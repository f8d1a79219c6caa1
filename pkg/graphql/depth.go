package graphql

import (
	"fmt"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
)

// DefaultMaxDepth bounds query nesting. The schema is shallow, so anything
// deeper is malformed or hostile.
const DefaultMaxDepth = 4

// calculateQueryDepth calculates the maximum depth of a GraphQL query
func calculateQueryDepth(document *ast.Document) int {
	maxDepth := 0
	for _, definition := range document.Definitions {
		if def, ok := definition.(*ast.OperationDefinition); ok {
			maxDepth = max(maxDepth, calculateSelectionSetDepth(def.SelectionSet, 1))
		}
	}
	return maxDepth
}

func calculateSelectionSetDepth(selectionSet *ast.SelectionSet, currentDepth int) int {
	if selectionSet == nil || len(selectionSet.Selections) == 0 {
		return currentDepth
	}

	maxDepth := currentDepth
	for _, selection := range selectionSet.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			if strings.HasPrefix(sel.Name.Value, "__") {
				continue
			}
			if sel.SelectionSet != nil {
				maxDepth = max(maxDepth, calculateSelectionSetDepth(sel.SelectionSet, currentDepth+1))
			}
		case *ast.InlineFragment:
			maxDepth = max(maxDepth, calculateSelectionSetDepth(sel.SelectionSet, currentDepth))
		case *ast.FragmentSpread:
			// Fragment definitions are not resolved here.
			maxDepth = max(maxDepth, currentDepth+1)
		}
	}
	return maxDepth
}

// ValidateQueryDepth validates a query against the depth limit
func ValidateQueryDepth(query string, maxDepth int) error {
	document, err := parser.Parse(parser.ParseParams{Source: query})
	if err != nil {
		return fmt.Errorf("failed to parse query: %w", err)
	}
	if depth := calculateQueryDepth(document); depth > maxDepth {
		return fmt.Errorf("query depth %d exceeds maximum allowed depth %d", depth, maxDepth)
	}
	return nil
}

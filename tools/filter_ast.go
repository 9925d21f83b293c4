//go:build ignore

// Scratch tool for the search filter grammar: prints the go-lucene AST
// for the fielded queries internal/search/filter.go has to walk.
// Run with `go run tools/filter_ast.go [query...]`.
package main

import (
	"fmt"
	"os"

	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"
)

func printAST(e *expr.Expression, indent int) {
	indentStr := ""
	for i := 0; i < indent; i++ {
		indentStr += "  "
	}

	fmt.Printf("%sOp: %v\n", indentStr, e.Op)
	if e.Left != nil {
		fmt.Printf("%sLeft:\n", indentStr)
		if leftExpr, ok := e.Left.(*expr.Expression); ok {
			printAST(leftExpr, indent+1)
		} else {
			fmt.Printf("%s  %T: %+v\n", indentStr, e.Left, e.Left)
		}
	}
	if e.Right != nil {
		fmt.Printf("%sRight:\n", indentStr)
		if rightExpr, ok := e.Right.(*expr.Expression); ok {
			printAST(rightExpr, indent+1)
		} else {
			fmt.Printf("%s  %T: %+v\n", indentStr, e.Right, e.Right)
		}
	}
}

func main() {
	queries := os.Args[1:]
	if len(queries) == 0 {
		queries = []string{
			"service:kubernetes AND severity:critical",
			"category:container_crash oom",
			`service:ec2 AND (severity:high OR severity:critical) cpu credits`,
			"doc_type:pattern registry",
			"crash loop backoff",
		}
	}

	for _, q := range queries {
		parsed, err := lucene.Parse(q)
		if err != nil {
			fmt.Printf("Error parsing '%s': %v\n", q, err)
		} else {
			fmt.Printf("Query: '%s'\n", q)
			printAST(parsed, 0)
			fmt.Println()
		}
	}
}

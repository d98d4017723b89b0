// budgetctl is an operator CLI for the budget agent service.
package main

import (
	"os"

	"github.com/ashureev/budget-sentinel/cmd/budgetctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

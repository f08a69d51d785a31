// Package commands implements the budgetguard CLI's subcommands: thin,
// direct-database wrappers over the core's models, modeled on the
// teacher's cmd/pllm/commands package.
package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"gorm.io/gorm"
)

var (
	db         *gorm.DB
	outputJSON bool
)

func SetDB(database *gorm.DB) {
	db = database
}

func SetOutputJSON(v bool) {
	outputJSON = v
}

func OutputJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func OutputTable(headers []string, rows [][]string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, h)
	}
	fmt.Fprintln(w)

	for _, row := range rows {
		for i, c := range row {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, c)
		}
		fmt.Fprintln(w)
	}
}

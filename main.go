// ./main.go
package main

import (
	"github.com/xkilldash9x/kepco-scraper/cmd"
)

// main is the entry point for the kepco-scraper CLI.
func main() {
	cmd.Execute()
}

// Command skyeask asks SkyeGPT a single question from the terminal. The answer is streamed with the same
// assembler the web page uses and rendered as markdown once complete.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

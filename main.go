package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"
)

func main() {
	// Seed random number generator (modern approach for Go 1.20+)
	_ = rand.New(rand.NewSource(time.Now().UnixNano()))

	if len(os.Args) > 1 {
		cmd := os.Args[1]
		switch cmd {
		case "transformer":
			if err := RunTransformerCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "conformal":
			if err := RunConformalCommand(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
			printUsage()
			os.Exit(1)
		}
	}

	printUsage()
}

func printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  needscast [command] [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  transformer  Train a token transformer on the needs table and write predictions")
	fmt.Println("  conformal    Train a conformally calibrated random forest on the needs labels")
	fmt.Println("  help         Show this help message")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  needscast transformer -data=ssp1.csv -out=transformer_output.csv")
	fmt.Println("  needscast transformer -data=ssp1.csv -iters=5000 -embed=384 -heads=6 -layers=6")
	fmt.Println("  needscast conformal -data=ssp1.csv -confidence=0.9 -trees=100")
	fmt.Println()
}

// Package main is scrapectl, a one-shot client that runs a single scrape through
// the gateway's facade and prints the result as JSON.
package main

import "os"

func main() {
	os.Exit(Execute())
}

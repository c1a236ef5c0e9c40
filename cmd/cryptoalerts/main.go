package main

import "crypto-alerts/internal/cli"

func main() {
	cli.Execute()
}

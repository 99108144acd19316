package main

import "github.com/banshee-data/curbwatch/internal/cli"

func main() {
	cli.Execute()
}

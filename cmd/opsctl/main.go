package main

import "github.com/vitrina/api/internal/cli"

func main() {
	cli.Execute()
}

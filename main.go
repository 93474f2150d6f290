package main

import "github.com/aksestok/dagster-cloud/internal/cmd"

func main() {
	cmd.Execute()
}

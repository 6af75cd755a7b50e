package main

import "agendahub/internal/cli"

func main() {
	cli.Execute()
}

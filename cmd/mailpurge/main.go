package main

import "github.com/mailops/mailpurge/internal/cli"

func main() {
	cli.Execute()
}

package main

import "packlink/internal/cli"

func main() {
	cli.Execute()
}

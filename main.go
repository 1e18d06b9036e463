package main

import "github.com/sergev/snap/cli"

func main() {
	cli.Execute()
}

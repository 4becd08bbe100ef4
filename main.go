package main

import "github.com/meltworks/melt/cmd/melt"

func main() {
	melt.Main()
}

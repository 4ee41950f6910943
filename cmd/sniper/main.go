package main

import "presale_sniper/internal/cli"

func main() {
	cli.Execute()
}

package main

import "anvil/internal/anvil"

func main() {
	anvil.Main()
}

package main

import "github.com/BioHazard786/tandem/cmd"

func main() {
	cmd.Execute()
}

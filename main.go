package main

import "github.com/Norgate-AV/nbuild/cmd"

func main() {
	cmd.Execute()
}

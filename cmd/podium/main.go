package main

import "github.com/MeKo-Tech/podium/cmd/podium/cmd"

func main() {
	cmd.Execute()
}

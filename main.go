package main

import "github.com/Mohsinsiddi/w3ico/cmd"

func main() {
	cmd.Execute()
}

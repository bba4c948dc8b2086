package main

import "github.com/dbsmedya/goharvest/cmd/goharvest/cmd"

func main() {
	cmd.Execute()
}

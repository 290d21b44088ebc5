package main

import "github.com/ValentinKolb/dSearch/cmd"

func main() {
	cmd.Execute()
}

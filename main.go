package main

import "github.com/ValentinKolb/fxstore/cmd"

func main() {
	cmd.Execute()
}

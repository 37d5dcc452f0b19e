package main

import "github.com/Davincible/omnillm/cmd"

func main() {
	cmd.Execute()
}

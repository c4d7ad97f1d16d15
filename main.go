package main

import "github.com/liweiyi88/onebackup/cmd"

func main() {
	cmd.Execute()
}

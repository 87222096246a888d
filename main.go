package main

import (
	"log"

	"github.com/deemkeen/fedgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatalln(err)
	}
}

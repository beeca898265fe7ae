package main

import (
	"math/rand"
	"time"

	"github.com/luma/stela/cmd"
)

func main() {
	rand.Seed(time.Now().UnixNano())

	cmd.Execute()
}

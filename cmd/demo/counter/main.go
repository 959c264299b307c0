package main

import (
	"github.com/sukhanov/goliteserver/demo/counter"
)

func main() {
	counter.Main()
}

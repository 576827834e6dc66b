package main

import "github.com/edgeflare/stationstream/cmd/stationstream"

func main() {
	stationstream.Main()
}

package main

import "github.com/campbellmcgregor/nomad-threat-intel-framework/cmd"

func main() {
	cmd.Execute()
}

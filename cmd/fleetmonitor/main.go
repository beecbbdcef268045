// Command fleetmonitor deploys the fleet monitor component.
package main

import (
	"github.com/danielorbach/go-component/loader"

	"github.com/go-digitaltwin/go-workbench/internal/fleet"
)

func main() {
	loader.ParseFlags(&fleet.Component)
}

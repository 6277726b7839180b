package main

import (
	"rakuraku-calendar/cmd/rakuraku/commands"
	"rakuraku-calendar/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}

package rakuraku

import "rakuraku-calendar/lib/telemetry"

var tracer = telemetry.Tracer("rakuraku.lib.scrapers.rakuraku")

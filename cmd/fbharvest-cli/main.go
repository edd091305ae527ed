package main

import (
	"fbharvest-backend/cmd/fbharvest-cli/commands"
	"fbharvest-backend/lib/telemetry"
	"fbharvest-backend/lib/util/serviceutil"
)

func main() {
	ctx := serviceutil.SignalContext()
	telemetry.SetupFromEnv(ctx, "fbharvest-cli")
	telemetry.InitSlog(true)
	telemetry.InstrumentPerfStats(ctx)
	commands.ExecuteContext(ctx)
}

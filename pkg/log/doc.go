/*
Package log provides structured logging for regiond using zerolog.

# Usage

	import "github.com/shardkeep/regiond/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Logger.Info().Str("region", name).Msg("region opened")

	logger := log.WithComponent("worker")
	logger.Warn().Err(err).Msg("requeuing instruction after IO error")

Console output (JSONOutput: false) is meant for local development; JSON
output is meant for production, where log lines are shipped to an
aggregator rather than read directly from a terminal.

# Fields

WithComponent, WithNodeID, WithRegionID, and WithScannerID each attach one
field to every subsequent log line from the returned logger, so log lines
from the worker, flusher, compactor, and frontend can be filtered
independently without each call site repeating the field by hand.
*/
package log

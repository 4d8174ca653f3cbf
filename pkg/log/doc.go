/*
Package log provides structured logging for the gateway using zerolog.

The package wraps zerolog with a global logger, an Init function selecting
level and JSON/console output, and a WithComponent helper every server
uses to build its child logger at construction time. Connection-scoped
fields (peer CN, connection id) are added per connection off those child
loggers.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	resolverLog := log.WithComponent("resolver")
	resolverLog.Info().Str("query", name).Msg("private zone hit")

	log.Logger.Error().Err(err).Str("cn", cn).Msg("backend dial failed")

JSON output is the production default; console output is for development.
*/
package log

// Package logging builds the structured slog logger shared by dunbridge.
//
// Output is JSON by default and text when logging.format is "text". Every
// entry carries service and version attributes; subsystems take a child
// logger from Component so lines can be filtered per component:
//
//	log := logging.New(cfg.Logging, version)
//	bridgeLog := log.Component("bridge")
//	bridgeLog.Info("device added", "path", "/dev0")
//
// Values logged under the keys "password" or "token" are replaced before
// they are written.
package logging

// Package logger provides a singleton Zap logger with context-based scoping.
//
// Init se llama una vez desde cmd; el resto del código usa L(), Named() o
// From(ctx). "dev" escribe consola con colores, "prod" escribe JSON.
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
//	defer logger.Sync()
//
//	log := logger.Named("replication").With(logger.Collection("orders"))
//	log.Info("initial replication complete", logger.Count(n))
//
// Los componentes de sincronización reciben un *zap.Logger opcional; nil
// significa logger.L().
package logger

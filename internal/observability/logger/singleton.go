package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init arma el singleton. Solo la primera llamada tiene efecto.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L retorna el singleton; sin Init usa dev/info.
func L() *zap.Logger {
	Init(Config{Env: "dev", Level: "info"})
	return instance
}

func Named(name string) *zap.Logger { return L().Named(name) }

// OrNamed resuelve el logger inyectado en un componente: nil cae al singleton
// con el nombre indicado.
func OrNamed(l *zap.Logger, name string) *zap.Logger {
	if l == nil {
		return Named(name)
	}
	return l.Named(name)
}

// Sync flushea los buffers pendientes.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}

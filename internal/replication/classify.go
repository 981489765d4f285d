package replication

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/xumingyi/offline-shop-ionic3/internal/docstore"
)

// ErrorClass agrupa los errores de replicación según cómo los trata el host.
type ErrorClass string

const (
	// ClassTransient: sin conexión o fallo de transporte; la sesión live
	// reintenta sola.
	ClassTransient ErrorClass = "transient"
	// ClassDenied: el store remoto rechazó credenciales o permisos.
	ClassDenied ErrorClass = "denied"
	// ClassCheckpoint: la lectura de checkpoint falló (carrera de arranque).
	ClassCheckpoint ErrorClass = "checkpoint"
	// ClassUnexpected: cualquier otra cosa; el estado puede estar corrupto.
	ClassUnexpected ErrorClass = "unexpected"
)

// Classify ubica err en la taxonomía. El orden importa: un checkpoint
// fallido por falta de red es ClassCheckpoint.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case docstore.IsForbidden(err):
		return ClassDenied
	case docstore.IsCheckpoint(err):
		return ClassCheckpoint
	case docstore.IsUnreachable(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassUnexpected
}

// Allowed reporta si el mensaje coincide con algún prefijo de la allow-list.
func Allowed(message string, allowlist []string) bool {
	for _, p := range allowlist {
		if p != "" && strings.HasPrefix(message, p) {
			return true
		}
	}
	return false
}

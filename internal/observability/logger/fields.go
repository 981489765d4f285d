package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// URL crea un campo para un endpoint remoto (sin credenciales).
func URL(v string) zap.Field {
	return zap.String("url", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SINCRONIZACIÓN
// =================================================================================

// Collection crea un campo para la colección replicada (clients, orders).
func Collection(v string) zap.Field {
	return zap.String("collection", v)
}

// Store crea un campo para el nombre de un document store.
func Store(v string) zap.Field {
	return zap.String("store", v)
}

// DocID crea un campo para el id de un documento.
func DocID(v string) zap.Field {
	return zap.String("doc_id", v)
}

// Rev crea un campo para la revisión de un documento.
func Rev(v string) zap.Field {
	return zap.String("rev", v)
}

// Seq crea un campo para una secuencia del change feed.
func Seq(v string) zap.Field {
	return zap.String("seq", v)
}

// Event crea un campo para el tipo de evento del worker.
func Event(v string) zap.Field {
	return zap.String("event", v)
}

// ReplMethod crea un campo para la fase de replicación (replicate, sync, changes).
func ReplMethod(v string) zap.Field {
	return zap.String("repl_method", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// AdvisorID crea un campo para el id del asesor.
func AdvisorID(v string) zap.Field {
	return zap.String("advisor_id", v)
}

// OrderID crea un campo para el id de una orden.
func OrderID(v string) zap.Field {
	return zap.String("order_id", v)
}

// DocEntry crea un campo para el identificador externo del ERP.
func DocEntry(v string) zap.Field {
	return zap.String("doc_entry", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}

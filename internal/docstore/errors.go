package docstore

import (
	"errors"
	"strings"
)

// Errores comunes de los document stores.
var (
	// ErrNotFound: el documento (o checkpoint) no existe o está borrado.
	ErrNotFound = errors.New("docstore: not found")

	// ErrConflict: la revisión enviada no es la vigente.
	ErrConflict = errors.New("docstore: document update conflict")

	// ErrUnreachable: fallo de transporte hacia un store remoto.
	ErrUnreachable = errors.New("docstore: store unreachable")

	// ErrForbidden: el store remoto rechazó las credenciales.
	ErrForbidden = errors.New("docstore: forbidden")

	// ErrClosed: operación sobre un handle cerrado.
	ErrClosed = errors.New("docstore: store closed")

	// ErrUnknownAdapter: no hay adapter registrado con ese nombre.
	ErrUnknownAdapter = errors.New("docstore: unknown adapter")

	// ErrInvalidDoc: documento sin id o con cuerpo que no es un objeto JSON.
	ErrInvalidDoc = errors.New("docstore: invalid document")
)

// CheckpointRejectedPrefix es el mensaje con el que se reporta la falla al
// leer un checkpoint de replicación. Es el único mensaje de la allow-list
// por defecto: aparece en arranques normales cuando el store remoto todavía
// no respondió.
const CheckpointRejectedPrefix = "getCheckpoint rejected with "

// CheckpointError envuelve la causa de una lectura de checkpoint fallida.
type CheckpointError struct {
	Err error
}

func (e *CheckpointError) Error() string {
	return CheckpointRejectedPrefix + e.Err.Error()
}

func (e *CheckpointError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool    { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool    { return errors.Is(err, ErrConflict) }
func IsUnreachable(err error) bool { return errors.Is(err, ErrUnreachable) }
func IsForbidden(err error) bool   { return errors.Is(err, ErrForbidden) }

// IsCheckpoint reporta si err proviene de una lectura de checkpoint, ya sea
// tipado o solo por mensaje (errores que cruzaron un borde de serialización).
func IsCheckpoint(err error) bool {
	if err == nil {
		return false
	}
	var ce *CheckpointError
	if errors.As(err, &ce) {
		return true
	}
	return strings.Contains(err.Error(), CheckpointRejectedPrefix)
}

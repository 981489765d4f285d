package reconcile

import "errors"

var (
	// ErrOffline: la sonda de conectividad falló. Es esperado; el host no
	// debe mostrarlo como falla, las órdenes quedan para el próximo ciclo.
	ErrOffline = errors.New("no hay conexión, su pedido quedara almacenado en el dispositivo")
	// ErrNoCredential: no hay bearer token guardado ni forma de obtenerlo.
	ErrNoCredential = errors.New("reconcile: no ERP credential available")
)

func IsOffline(err error) bool { return errors.Is(err, ErrOffline) }

package model

import "fmt"

// Collection identifica una colección replicada. Reemplaza la jerarquía de
// providers por un valor que parametriza worker, stores y servicios.
type Collection string

const (
	CollectionClients Collection = "clients"
	CollectionOrders  Collection = "orders"
)

// Collections en orden de arranque.
var Collections = []Collection{CollectionClients, CollectionOrders}

func (c Collection) Valid() bool {
	switch c {
	case CollectionClients, CollectionOrders:
		return true
	}
	return false
}

// StatusKey es la clave KV del flag "sincronización inicial completa".
func (c Collection) StatusKey() string {
	switch c {
	case CollectionClients:
		return "clientes-db-status"
	case CollectionOrders:
		return "ordenes-db-status"
	}
	return fmt.Sprintf("%s-db-status", string(c))
}

// ParseCollection valida un nombre externo (query param, mensaje).
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if !c.Valid() {
		return "", fmt.Errorf("model: unknown collection %q", s)
	}
	return c, nil
}

// Package model define las entidades replicadas (clientes y órdenes) y el
// evento de cambio que alimenta los mirrors.
//
// Los tags JSON siguen el formato de documento de CouchDB que ya existe en
// el servidor (_id, _rev, _deleted, campos en español); no renombrar.
package model

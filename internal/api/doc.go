// Package api is the HTTP surface for the presentation layer: ticker CRUD,
// enable/disable, health and next-occurrence views, ICS import and manual
// regeneration kicks. Mutations persist first and then kick the coordinator;
// generation records are never written from here.
package api

// Package factory assembles and runs the botfactory process.
//
// New wires the tenant registry, the completion gateway client, the tenant
// supervisor, the provisioning service and the factory bot from a
// config.Config. Run then:
//
//  1. serves /health, /health/ready, the metrics endpoint and, when a JWT
//     secret is configured, the operator API under /api/tenants
//  2. connects the factory bot
//  3. starts every tenant flagged active and marks the process ready
//
// Run blocks until its context is cancelled or the HTTP server or the
// factory bot fails. It always shuts down before returning: HTTP first, then
// every tenant, then the factory bot, the gateway client and the store.
package factory

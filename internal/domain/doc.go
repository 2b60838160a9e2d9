// Package domain contains the core business entities, value objects, and
// domain logic of the application: generation jobs, the choices a provider
// returns for them, and the job status state machine. It is independent of
// any specific infrastructure or delivery mechanism.
package domain

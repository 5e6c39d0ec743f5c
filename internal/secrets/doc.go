// Package secrets redacts credentials from worker output before it is
// stored or shown to later phases.
package secrets

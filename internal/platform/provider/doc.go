// Package provider implements generation.Provider over the song generation
// service's HTTP API. Failed calls are returned as *generation.ProviderError
// classified by HTTP status so the caller can decide whether to retry. Start
// requests that fail transiently are retried here with exponential backoff.
package provider

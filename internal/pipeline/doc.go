// Package pipeline drives media jobs through the processing stages. A
// single dispatcher claims runnable jobs from the catalog and hands each one
// to a worker, which walks the job through extract, duplicate checking,
// transcription, enrichment, and embedding, persisting every transition and
// publishing progress events along the way.
package pipeline

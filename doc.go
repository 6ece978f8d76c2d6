// Package corpussearch is an enterprise knowledge search backend: it
// drives pluggable data-source connectors (this module ships an in-memory
// mock connector and a Confluence skeleton that validates credentials but
// does not crawl pages), crawls and indexes their documents into a hybrid
// dense+lexical search index, and serves natural-language queries with
// answer-focused, source-attributed results.
//
// # Quick Start
//
// Run the daemon against a config file:
//
//	searchd --config config.yaml
//
// The daemon exposes an HTTP API for connecting data sources, triggering
// indexing, and searching; see internal/httpapi for the route list.
//
// # Architecture
//
// Every data source is driven by a Connector (internal/connector): a
// source's config is validated and persisted once, then a worker pool
// (internal/worker) dispatches its crawl methods from a durable SQLite
// task queue (internal/queue). Connectors emit Documents onto a second
// queue, drained by the batch indexer (internal/indexer), which splits
// documents into chunks, embeds and upserts them into the vector index
// (internal/vectorindex), and rebuilds the lexical index
// (internal/lexical). The query pipeline (internal/query) recalls,
// reranks, and answers against both indexes, assembling results with
// scroll-to-text links back to the source document. A periodic
// scheduler (internal/scheduler) re-triggers crawls on a fixed interval.
//
// # License
//
// Apache-2.0 - see LICENSE for details.
package corpussearch
